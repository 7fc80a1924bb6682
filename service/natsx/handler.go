package natsx

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// 死信头
const (
	HdrMsgID            = "Nats-Msg-Id"
	HdrDeadLetterReason = "Mot-Dead-Letter-Reason"
	HdrDeadLetterDesc   = "Mot-Dead-Letter-Description"
	HdrOriginalSubject  = "Mot-Original-Subject"
)

// Delivery 一次投递。处理函数自己决定结算方式，每条消息只应结算一次
type Delivery interface {
	Subject() string
	Body() []byte
	Header() map[string]string
	DeliveryCount() int
	Complete(ctx context.Context) error
	Abandon(ctx context.Context) error
	DeadLetter(ctx context.Context, reason, description string) error
	RenewLock(ctx context.Context) error
}

// NatsxHandler 业务处理函数；返回 error 仅用于日志/中间件，结算由 Delivery 完成
type NatsxHandler func(ctx context.Context, d Delivery) error

// NatsxMiddleware 中间件（日志、指标等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain 组合中间件
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NatsxLogMiddleware 记录每条投递的耗时与结果
func NatsxLogMiddleware(log *zap.Logger) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, d Delivery) error {
			start := time.Now()
			err := next(ctx, d)
			fields := []zap.Field{
				zap.String("subject", d.Subject()),
				zap.Int("deliveryCount", d.DeliveryCount()),
				zap.Duration("cost", time.Since(start)),
			}
			if err != nil {
				log.Warn("[natsx] handle failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("[natsx] handled", fields...)
			}
			return err
		}
	}
}
