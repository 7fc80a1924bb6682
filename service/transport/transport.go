// Package transport 客户端统一收发接口：realtime（协商 + 广播连接 + ingress）或本地 stub。
package transport

import (
	"context"
	"fmt"
	"sync"

	"MotPad/module/notepad"
	"MotPad/module/protocol"
	"MotPad/tools/ids"
	"MotPad/tools/safe"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusStub         Status = "stub"
)

const (
	ModeRealtime = "realtime"
	ModeStub     = "stub"
)

// Transport 两种实现对 UI 暴露同一套能力
type Transport interface {
	Init(ctx context.Context) error
	SendChat(ctx context.Context, text string, state notepad.State) (string, error)
	SendStrokeSharpen(ctx context.Context, stroke protocol.Stroke, state notepad.State) (string, error)
	OnReply(cb func(notepad.Reply)) (unsubscribe func())
	Status() Status
	ModeLabel() string
	Debug() DebugInfo
	Dispose(ctx context.Context) error
}

type DebugInfo struct {
	SessionID     string `json:"sessionId"`
	Connected     bool   `json:"connected"`
	LastRequestID string `json:"lastRequestId,omitempty"`
	Mode          string `json:"mode"`
	Status        Status `json:"status"`
}

// TransportError 连接级失败（ingress 投递失败等）
type TransportError struct {
	Op        string
	RequestID string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed (requestId=%s): %v", e.Op, e.RequestID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// replyRegistry 订阅表：每个订阅者都收到每条回复，取消订阅幂等
type replyRegistry struct {
	mu   sync.RWMutex
	seq  uint64
	subs map[uint64]func(notepad.Reply)
}

func newReplyRegistry() *replyRegistry {
	return &replyRegistry{subs: make(map[uint64]func(notepad.Reply))}
}

func (r *replyRegistry) add(cb func(notepad.Reply)) func() {
	r.mu.Lock()
	r.seq++
	id := r.seq
	r.subs[id] = cb
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *replyRegistry) emit(reply notepad.Reply) {
	r.mu.RLock()
	cbs := make([]func(notepad.Reply), 0, len(r.subs))
	for _, cb := range r.subs {
		cbs = append(cbs, cb)
	}
	r.mu.RUnlock()

	for _, cb := range cbs {
		cb := cb
		safe.Run(func() { cb(reply) })
	}
}

// emitAsync 在独立 goroutine 上投递，保证发送调用先返回
func (r *replyRegistry) emitAsync(reply notepad.Reply) {
	go r.emit(reply)
}

func newChatRequest(sessionID, text string, state notepad.State) protocol.RequestMessage {
	return protocol.RequestMessage{
		V:         protocol.Version,
		RequestID: ids.NewRequestID(),
		SessionID: sessionID,
		Type:      protocol.TypeChatDraw,
		CreatedAt: protocol.Now(),
		Payload: protocol.Payload{
			Text:   protocol.TruncateRunes(text, protocol.MaxTextLen),
			Canvas: state.Canvas,
		},
	}
}

func newStrokeRequest(sessionID string, stroke protocol.Stroke, state notepad.State) protocol.RequestMessage {
	safeStroke := protocol.ClampStrokeForSend(stroke, state.Canvas)
	return protocol.RequestMessage{
		V:         protocol.Version,
		RequestID: ids.NewRequestID(),
		SessionID: sessionID,
		Type:      protocol.TypeStrokeSharpen,
		CreatedAt: protocol.Now(),
		Payload: protocol.Payload{
			Canvas: state.Canvas,
			Stroke: &safeStroke,
		},
	}
}
