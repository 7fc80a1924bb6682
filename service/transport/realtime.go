package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"MotPad/module/notepad"
	"MotPad/module/protocol"
	"MotPad/service/negotiate"
	"MotPad/service/pubsub"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RequestsPath ingress 入队端点
const RequestsPath = "/api/mot/requests"

// Conn 广播连接的最小能力，默认由 pubsub.Connect 提供
type Conn interface {
	Stop()
	Debug() pubsub.Debug
}

type RealtimeParams struct {
	SessionID  string
	APIBase    string
	Negotiator negotiate.Negotiator // nil 时按 APIBase 构造
	HTTP       *resty.Client        // ingress 客户端，nil 时按 APIBase 构造
	Backoff    *pubsub.Backoff      // 协商失败的后台重试档位
	Logger     *zap.Logger
	Connect    func(p pubsub.ConnParams) Conn
}

// Realtime 协商后通过广播组收回复，请求发往 ingress
type Realtime struct {
	p       RealtimeParams
	log     *zap.Logger
	http    *resty.Client
	replies *replyRegistry

	mu        sync.Mutex
	status    Status
	connected bool
	lastReq   string
	conn      Conn
	retrying  bool
	disposed  bool

	retryCtx    context.Context
	retryCancel context.CancelFunc
}

func NewRealtime(p RealtimeParams) *Realtime {
	base := strings.TrimRight(p.APIBase, "/")
	if p.Negotiator == nil {
		p.Negotiator = negotiate.NewClient(base, 10*time.Second)
	}
	if p.HTTP == nil {
		p.HTTP = resty.New().
			SetBaseURL(base).
			SetTimeout(15*time.Second).
			SetHeader("Accept", "application/json")
	}
	if p.Backoff == nil {
		p.Backoff = pubsub.NewBackoff()
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Connect == nil {
		p.Connect = func(cp pubsub.ConnParams) Conn { return pubsub.Connect(cp) }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Realtime{
		p:           p,
		log:         p.Logger,
		http:        p.HTTP,
		replies:     newReplyRegistry(),
		status:      StatusConnecting,
		retryCtx:    ctx,
		retryCancel: cancel,
	}
}

// Init 协商并建立广播连接。失败时状态置 disconnected 并返回 *negotiate.NegotiateError
func (t *Realtime) Init(ctx context.Context) error {
	t.setStatus(StatusConnecting)

	res, err := t.p.Negotiator.Negotiate(ctx, t.p.SessionID)
	if err != nil {
		t.setStatus(StatusDisconnected)
		return err
	}

	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return errors.New("transport disposed")
	}
	if t.conn != nil {
		t.conn.Stop()
	}
	t.mu.Unlock()

	conn := t.p.Connect(pubsub.ConnParams{
		URL:    res.URL,
		Group:  res.Group,
		Hub:    res.Hub,
		Logger: t.log.Named("pubsub"),
		Handlers: pubsub.Handlers{
			OnConnected:     func() { t.setLink(true, StatusConnected) },
			OnDisconnected:  func() { t.setLink(false, StatusDisconnected) },
			OnError:         func(error) { t.setLink(false, StatusDisconnected) },
			OnServerMessage: t.onServerMessage,
		},
	})

	t.mu.Lock()
	if t.disposed {
		// Connect 期间已 Dispose
		t.mu.Unlock()
		conn.Stop()
		return errors.New("transport disposed")
	}
	t.conn = conn
	// 连接慢时由事件更新状态；协商 + 启动完成即视为可用
	if t.status == StatusConnecting {
		t.status = StatusConnected
	}
	t.mu.Unlock()
	t.log.Info("[transport] realtime ready", zap.String("hub", res.Hub), zap.String("group", res.Group))
	return nil
}

// retryInBackground 协商失败后按退避档位反复重试，直到成功或 Dispose
func (t *Realtime) retryInBackground() {
	t.mu.Lock()
	if t.retrying || t.disposed {
		t.mu.Unlock()
		return
	}
	t.retrying = true
	ctx := t.retryCtx
	t.mu.Unlock()

	go func() {
		defer func() {
			t.mu.Lock()
			t.retrying = false
			t.mu.Unlock()
		}()
		for {
			delay := t.p.Backoff.Next()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			err := t.Init(ctx)
			if err == nil {
				t.p.Backoff.Reset()
				return
			}
			t.log.Warn("[transport] negotiate retry failed",
				zap.Int("attempt", t.p.Backoff.Attempt()), zap.Error(err))
		}
	}()
}

func (t *Realtime) onServerMessage(data []byte) {
	evt, err := protocol.ParseResponseEvent(data)
	if err != nil {
		return
	}
	if evt.SessionID != t.p.SessionID {
		return
	}
	t.replies.emit(notepad.ReplyFromEvent(evt))
}

func (t *Realtime) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func (t *Realtime) setLink(connected bool, s Status) {
	t.mu.Lock()
	t.connected = connected
	t.status = s
	t.mu.Unlock()
}

func (t *Realtime) SendChat(ctx context.Context, text string, state notepad.State) (string, error) {
	return t.send(ctx, newChatRequest(t.p.SessionID, text, state))
}

func (t *Realtime) SendStrokeSharpen(ctx context.Context, stroke protocol.Stroke, state notepad.State) (string, error) {
	return t.send(ctx, newStrokeRequest(t.p.SessionID, stroke, state))
}

type ingressAck struct {
	RequestID string `json:"requestId"`
	OK        bool   `json:"ok"`
}

// send 投递失败时本地补一条失败回复，保证 UI 总能看到结果
func (t *Realtime) send(ctx context.Context, req protocol.RequestMessage) (string, error) {
	t.mu.Lock()
	t.lastReq = req.RequestID
	t.mu.Unlock()

	if err := t.post(ctx, req); err != nil {
		terr := &TransportError{Op: "send", RequestID: req.RequestID, Err: err}
		t.log.Warn("[transport] ingress post failed", zap.String("requestId", req.RequestID), zap.Error(err))
		t.replies.emitAsync(notepad.Reply{
			RequestID: req.RequestID,
			ReplyText: "Request failed: " + err.Error(),
			Failed:    true,
		})
		return req.RequestID, terr
	}
	return req.RequestID, nil
}

func (t *Realtime) post(ctx context.Context, req protocol.RequestMessage) error {
	var ack ingressAck
	resp, err := t.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&ack).
		Post(RequestsPath)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return errors.Errorf("status %d %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if ack.RequestID == "" {
		return errors.New("response missing requestId")
	}
	return nil
}

func (t *Realtime) OnReply(cb func(notepad.Reply)) func() { return t.replies.add(cb) }

func (t *Realtime) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Realtime) ModeLabel() string { return ModeRealtime }

func (t *Realtime) Debug() DebugInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return DebugInfo{
		SessionID:     t.p.SessionID,
		Connected:     t.connected,
		LastRequestID: t.lastReq,
		Mode:          ModeRealtime,
		Status:        t.status,
	}
}

// ConnDebug 底层广播连接快照，未连接时 ok=false
func (t *Realtime) ConnDebug() (pubsub.Debug, bool) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return pubsub.Debug{}, false
	}
	return conn.Debug(), true
}

func (t *Realtime) Dispose(context.Context) error {
	t.mu.Lock()
	t.disposed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.retryCancel()
	if conn != nil {
		conn.Stop()
	}
	return nil
}
