package natsx

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ----- 抽象存储 -----
// IdemStore 记录已完成的请求。Mark 只在回复发布成功之后调用
type IdemStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expireAt
	ttl time.Duration
	now func() time.Time
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
}

func (mi *memIdem) Seen(_ context.Context, key string) (bool, error) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	exp, ok := mi.m[key]
	if !ok {
		return false, nil
	}
	if !exp.After(mi.now()) {
		delete(mi.m, key)
		return false, nil
	}
	return true, nil
}

func (mi *memIdem) Mark(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	mi.mu.Lock()
	defer mi.mu.Unlock()
	now := mi.now()
	// 顺带清理过期 key
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
		}
	}
	mi.m[key] = now.Add(ttl)
	return nil
}

// ----- 幂等中间件 -----
// NatsxIdemMiddleware 已完成过的投递直接 Complete，不再进入业务处理。
// keyOf 取不到 key 时原样交给下游（由下游判定消息是否合法）；存储出错时放行
func NatsxIdemMiddleware(store IdemStore, keyOf func(Delivery) string, log *zap.Logger) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, d Delivery) error {
			key := keyOf(d)
			if key == "" {
				return next(ctx, d)
			}
			seen, err := store.Seen(ctx, key)
			if err != nil {
				log.Warn("[natsx] idem lookup failed", zap.String("key", key), zap.Error(err))
				return next(ctx, d)
			}
			if seen {
				log.Info("[natsx] duplicate delivery, completing", zap.String("key", key), zap.Int("deliveryCount", d.DeliveryCount()))
				return d.Complete(ctx)
			}
			return next(ctx, d)
		}
	}
}
