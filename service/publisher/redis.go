package publisher

import (
	"context"
	"encoding/json"

	"MotPad/global/config"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope 跨节点广播的消息体，hub 各节点订阅同一频道
type Envelope struct {
	Hub   string          `json:"hub"`
	Group string          `json:"group"`
	Data  json.RawMessage `json:"data"`
}

// Channel 频道名：<prefix>:<hub>
func Channel(prefix, hub string) string {
	if prefix == "" {
		prefix = "mot:hub"
	}
	return prefix + ":" + hub
}

// RedisPublisher 直接发布到 hub 的 redis 频道，省掉一次 HTTP
type RedisPublisher struct {
	rdb     redis.UniversalClient
	hub     string
	channel string
}

func NewRedisPublisher(rdb redis.UniversalClient, prefix, hub string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, hub: hub, channel: Channel(prefix, hub)}
}

func (p *RedisPublisher) SendToGroup(ctx context.Context, group string, evt any) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	env, err := json.Marshal(Envelope{Hub: p.hub, Group: group, Data: data})
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, env).Err(); err != nil {
		return errors.Wrapf(err, "redis publish %s", p.channel)
	}
	return nil
}

// FromConfig hub 凭据齐全走 REST；否则有 redis 时直接发布频道；都没有返回 nil
func FromConfig(c config.HubConfig, rdb redis.UniversalClient, log *zap.Logger) (Publisher, error) {
	if c.Configured() {
		p, err := NewRestPublisher(c, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	if rdb != nil {
		return NewRedisPublisher(rdb, c.Channel, c.Name), nil
	}
	return nil, nil
}
