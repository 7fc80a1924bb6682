package natsx

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// jsDelivery JetStream 消息：Ack=完成，Nak=放弃重投，InProgress=续锁，
// 死信=原文加原因头转存到 DLQ subject 后 Term
type jsDelivery struct {
	msg      *nats.Msg
	c        *NatsxClient
	dlq      string
	meta     *nats.MsgMetadata
	metaOnce sync.Once
}

func newDelivery(m *nats.Msg, c *NatsxClient, dlq string) *jsDelivery {
	return &jsDelivery{msg: m, c: c, dlq: dlq}
}

func (d *jsDelivery) Subject() string           { return d.msg.Subject }
func (d *jsDelivery) Body() []byte              { return d.msg.Data }
func (d *jsDelivery) Header() map[string]string { return headerToMap(d.msg.Header) }

func (d *jsDelivery) DeliveryCount() int {
	d.metaOnce.Do(func() {
		d.meta, _ = d.msg.Metadata()
	})
	if d.meta == nil {
		return 1
	}
	return int(d.meta.NumDelivered)
}

func (d *jsDelivery) Complete(ctx context.Context) error {
	return d.msg.AckSync(nats.Context(ctx))
}

func (d *jsDelivery) Abandon(context.Context) error {
	return d.msg.Nak()
}

func (d *jsDelivery) RenewLock(context.Context) error {
	return d.msg.InProgress()
}

func (d *jsDelivery) DeadLetter(ctx context.Context, reason, description string) error {
	if d.dlq != "" {
		hdr := d.Header()
		if hdr == nil {
			hdr = map[string]string{}
		}
		delete(hdr, HdrMsgID)
		hdr[HdrDeadLetterReason] = reason
		hdr[HdrDeadLetterDesc] = description
		hdr[HdrOriginalSubject] = d.msg.Subject

		out := nats.NewMsg(d.dlq)
		out.Data = d.msg.Data
		out.Header = toHeader(hdr)
		if _, err := d.c.js.PublishMsg(out, nats.Context(ctx)); err != nil {
			return errors.Wrap(err, "publish dead letter")
		}
	}
	return d.msg.Term()
}
