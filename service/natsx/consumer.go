package natsx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MotPad/tools/safe"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NatsxConsumer 消费端
type NatsxConsumer struct {
	c   *NatsxClient
	mws []NatsxMiddleware
}

func NewNatsxConsumer(c *NatsxClient, mws ...NatsxMiddleware) *NatsxConsumer {
	return &NatsxConsumer{c: c, mws: mws}
}

// PullOptions Batch 为预取窗口 P，Concurrency 为并发上限 C
type PullOptions struct {
	Batch       int
	Concurrency int
	Wait        time.Duration
}

// PullConsume JetStream Pull 拉取消费。每批最多 Batch 条，
// 同时处理的消息不超过 Concurrency；ctx 取消后等在途处理结束再返回
func (cs *NatsxConsumer) PullConsume(ctx context.Context, biz string, o PullOptions, h NatsxHandler) error {
	r, ok := cs.c.route(biz)
	if !ok {
		return fmt.Errorf("route not found: %s", biz)
	}
	if r.Durable == "" {
		return errors.New("pull consume requires Durable consumer name")
	}
	if o.Batch <= 0 {
		o.Batch = 20
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Wait <= 0 {
		o.Wait = time.Second
	}

	sub, err := cs.c.js.PullSubscribe(r.Subject, r.Durable,
		nats.AckExplicit(),
		nats.AckWait(r.AckWait),
		nats.MaxAckPending(r.MaxAckPending),
		nats.PullMaxWaiting(8),
	)
	if err != nil {
		return errors.Wrapf(err, "pull subscribe %s", r.Subject)
	}
	cs.c.mu.Lock()
	cs.c.subs[biz] = sub
	cs.c.mu.Unlock()

	h = NatsxChain(h, cs.mws...)
	sem := make(chan struct{}, o.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := sub.Fetch(o.Batch, nats.MaxWait(o.Wait))
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if err != nil {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return err
			}
			cs.c.log.Warn("[natsx] fetch failed", zap.String("biz", biz), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		for _, m := range msgs {
			d := newDelivery(m, cs.c, r.DeadLetterSubject)
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// 未开始处理的消息交还 broker
				_ = m.Nak()
				continue
			}
			wg.Add(1)
			go func() {
				defer func() {
					<-sem
					wg.Done()
				}()
				safe.Run(func() { _ = h(ctx, d) })
			}()
		}
	}
}
