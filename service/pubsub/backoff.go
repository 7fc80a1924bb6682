package pubsub

import (
	"sync"
	"time"
)

// ReconnectDelays 第 4 次及以后都按最后一档
var ReconnectDelays = []time.Duration{
	1000 * time.Millisecond,
	2000 * time.Millisecond,
	5000 * time.Millisecond,
	10000 * time.Millisecond,
}

// Backoff 重连退避状态机：attempt 单调递增，只有 Reset 才归零
type Backoff struct {
	mu      sync.Mutex
	delays  []time.Duration
	attempt int
}

func NewBackoff(delays ...time.Duration) *Backoff {
	if len(delays) == 0 {
		delays = ReconnectDelays
	}
	return &Backoff{delays: delays}
}

// Next 记一次失败并返回下次重试的等待时长
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt++
	idx := b.attempt - 1
	if idx >= len(b.delays) {
		idx = len(b.delays) - 1
	}
	return b.delays[idx]
}

func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}
