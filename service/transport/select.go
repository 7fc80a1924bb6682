package transport

import (
	"context"

	"MotPad/service/negotiate"

	"go.uber.org/zap"
)

// NewBestEffort 优先 realtime。只有协商端点不存在（404/501）才永久降级 stub；
// 其他失败留在 realtime，状态 disconnected，后台继续重试协商
func NewBestEffort(ctx context.Context, p RealtimeParams) Transport {
	rt := NewRealtime(p)
	err := rt.Init(ctx)
	if err == nil {
		return rt
	}

	if negotiate.CapabilityAbsent(err) {
		rt.log.Info("[transport] negotiate unavailable, using stub", zap.Error(err))
		_ = rt.Dispose(ctx)
		s := NewStub(p.SessionID)
		_ = s.Init(ctx)
		return s
	}

	rt.log.Warn("[transport] negotiate failed, retrying in background", zap.Error(err))
	rt.retryInBackground()
	return rt
}
