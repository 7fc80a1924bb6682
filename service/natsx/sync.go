package natsx

import (
	"context"
	"time"
)

// Enqueuer 入队能力，api 层依赖
type Enqueuer interface {
	Enqueue(ctx context.Context, requestID string, body []byte) error
}

// NatsxSyncPublisher 同步入队（带重试）。Nats-Msg-Id 固定为 requestId，重试不会产生重复消息
type NatsxSyncPublisher struct {
	P       Enqueuer
	Retries int
	Backoff time.Duration
}

func (sp *NatsxSyncPublisher) Enqueue(ctx context.Context, requestID string, body []byte) error {
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = sp.P.Enqueue(ctx, requestID, body)
		if err == nil {
			return nil
		}
		if i == sp.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff):
		}
	}
	return err
}
