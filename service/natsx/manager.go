package natsx

import (
	"context"
	"fmt"
	"time"

	"MotPad/global/config"

	"go.uber.org/zap"
)

// 业务路由名
const (
	BizRequests   = "mot.requests"
	BizDeadLetter = "mot.requests.dlq"
)

// NatsManager 统一门面：对外只暴露这一个对象来用
type NatsManager struct {
	client   *NatsxClient
	producer *NatsxProducer
	consumer *NatsxConsumer
}

// NewNatsManager 连接、建流并注册请求队列与死信路由
func NewNatsManager(cfg config.NatsConfig, log *zap.Logger, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(ConfigFrom(cfg), log)
	if err != nil {
		return nil, err
	}
	subjects := []string{cfg.Subject}
	if cfg.DeadLetterSubject != "" {
		subjects = append(subjects, cfg.DeadLetterSubject)
	}
	if err := c.EnsureStream(cfg.Stream, subjects...); err != nil {
		_ = c.Close()
		return nil, err
	}
	routes := []NatsxRoute{{
		Biz:               BizRequests,
		Subject:           cfg.Subject,
		Durable:           cfg.Durable,
		DeadLetterSubject: cfg.DeadLetterSubject,
		AckWait:           cfg.AckWait,
	}}
	if cfg.DeadLetterSubject != "" {
		routes = append(routes, NatsxRoute{Biz: BizDeadLetter, Subject: cfg.DeadLetterSubject})
	}
	for _, r := range routes {
		if err := c.RegisterRoute(r); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return &NatsManager{
		client:   c,
		producer: NewNatsxProducer(c),
		consumer: NewNatsxConsumer(c, middlewares...),
	}, nil
}

// Close 释放资源（优雅关闭订阅与连接）
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Publish 生产消息（按 biz 路由）
func (m *NatsManager) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	if m == nil || m.producer == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.producer.Publish(ctx, biz, data, hdr)
}

// PublishOnce 生产消息（带 Nats-Msg-Id 去重）
func (m *NatsManager) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if m == nil || m.producer == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.producer.PublishOnce(ctx, biz, data, hdr, msgID)
}

// Enqueue 请求入队，requestId 作为去重 id
func (m *NatsManager) Enqueue(ctx context.Context, requestID string, body []byte) error {
	return m.PublishOnce(ctx, BizRequests, body, map[string]string{"Content-Type": "application/json"}, requestID)
}

// PullConsume JetStream Pull 拉批消费（worker 池）
func (m *NatsManager) PullConsume(ctx context.Context, biz string, o PullOptions, h NatsxHandler) error {
	if m == nil || m.consumer == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.consumer.PullConsume(ctx, biz, o, h)
}

// Consume 拉取请求队列
func (m *NatsManager) Consume(ctx context.Context, batch, concurrency int, h NatsxHandler) error {
	return m.PullConsume(ctx, BizRequests, PullOptions{Batch: batch, Concurrency: concurrency, Wait: time.Second}, h)
}
