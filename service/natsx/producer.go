package natsx

import (
	"context"
	"fmt"

	"MotPad/tools"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish 按 Biz 路由发送到 JetStream
func (p *NatsxProducer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return fmt.Errorf("route not found: %s", biz)
	}
	msg := nats.NewMsg(r.Subject)
	msg.Data = data
	msg.Header = toHeader(hdr)

	ack, err := p.c.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return errors.Wrap(err, "publish failed")
	}
	p.c.log.Debug("[natsx] published",
		zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence), zap.Bool("duplicate", ack.Duplicate))
	return nil
}

// PublishOnce 带 Nats-Msg-Id 发布，broker 在去重窗口内丢弃重复；msgID 为空则随机生成
func (p *NatsxProducer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	h := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		h[k] = v
	}
	if msgID == "" {
		msgID = tools.RandMsgID()
	}
	h[HdrMsgID] = msgID
	return p.Publish(ctx, biz, data, h)
}
