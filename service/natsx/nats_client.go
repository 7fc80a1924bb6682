// Package natsx JetStream 队列适配：入队、拉取消费、死信。
package natsx

import (
	"strings"
	"sync"
	"time"

	"MotPad/global/config"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NatsxRoute 路由配置（按 Biz 维度注册），都走 JetStream
type NatsxRoute struct {
	Biz               string
	Subject           string
	Durable           string // 拉取消费必填
	DeadLetterSubject string // 为空则死信只 Term 不转存
	AckWait           time.Duration
	MaxAckPending     int
}

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers         []string
	Name            string
	User            string
	Password        string
	ReconnectWait   time.Duration
	Timeout         time.Duration
	PublishAsyncMax int
}

func ConfigFrom(c config.NatsConfig) NatsxConfig {
	return NatsxConfig{
		Servers:  c.Servers,
		Name:     c.Name,
		User:     c.User,
		Password: c.Password,
	}
}

// NatsxClient 统一客户端
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger

	mu     sync.RWMutex
	routes map[string]NatsxRoute         // biz -> route
	subs   map[string]*nats.Subscription // biz -> sub
}

// NewNatsxClient 连接 NATS 并初始化 JetStream 上下文
func NewNatsxClient(cfg NatsxConfig, log *zap.Logger) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PublishAsyncMax == 0 {
		cfg.PublishAsyncMax = 4096
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("[natsx] disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("[natsx] reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	js, err := nc.JetStream(nats.PublishAsyncMaxPending(cfg.PublishAsyncMax))
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "init jetstream")
	}
	return &NatsxClient{
		cfg:    cfg,
		nc:     nc,
		js:     js,
		log:    log,
		routes: make(map[string]NatsxRoute),
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// EnsureStream 不存在则创建，存在则补齐 subjects
func (c *NatsxClient) EnsureStream(name string, subjects ...string) error {
	info, err := c.js.StreamInfo(name)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:      name,
			Subjects:  subjects,
			Storage:   nats.FileStorage,
			Retention: nats.WorkQueuePolicy,
		})
		if err != nil {
			return errors.Wrapf(err, "add stream %s", name)
		}
		c.log.Info("[natsx] stream created", zap.String("stream", name), zap.Strings("subjects", subjects))
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "stream info %s", name)
	}

	merged, changed := mergeSubjects(info.Config.Subjects, subjects)
	if !changed {
		return nil
	}
	cfg := info.Config
	cfg.Subjects = merged
	if _, err := c.js.UpdateStream(&cfg); err != nil {
		return errors.Wrapf(err, "update stream %s", name)
	}
	return nil
}

func mergeSubjects(have, want []string) ([]string, bool) {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	out := append([]string(nil), have...)
	changed := false
	for _, s := range want {
		if _, ok := set[s]; !ok {
			out = append(out, s)
			set[s] = struct{}{}
			changed = true
		}
	}
	return out, changed
}

// Close 优雅关闭
func (c *NatsxClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for biz, sub := range c.subs {
		_ = sub.Drain()
		delete(c.subs, biz)
	}
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

// RegisterRoute 注册 Biz 路由
func (c *NatsxClient) RegisterRoute(r NatsxRoute) error {
	if r.Biz == "" || r.Subject == "" {
		return errors.New("invalid route")
	}
	if r.AckWait == 0 {
		r.AckWait = 30 * time.Second
	}
	if r.MaxAckPending == 0 {
		r.MaxAckPending = 1024
	}
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

// route 查询已注册路由
func (c *NatsxClient) route(biz string) (NatsxRoute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}

func toHeader(h map[string]string) nats.Header {
	hd := nats.Header{}
	for k, v := range h {
		hd.Set(k, v)
	}
	return hd
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
