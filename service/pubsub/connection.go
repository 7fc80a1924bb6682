// Package pubsub 广播通道客户端：长连接、入组握手、断线重连。
package pubsub

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"MotPad/tools"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type JoinStatus string

const (
	JoinIdle  JoinStatus = "idle"
	JoinSent  JoinStatus = "sent"
	JoinAck   JoinStatus = "ack"
	JoinError JoinStatus = "error"
)

// Handlers 回调在连接自己的 goroutine 上执行，不要阻塞
type Handlers struct {
	OnConnected     func()
	OnDisconnected  func()
	OnError         func(err error)
	OnServerMessage func(data []byte)
	OnDebug         func(d Debug)
}

type WSDebug struct {
	URLHost          string        `json:"urlHost"`
	Open             bool          `json:"open"`
	OpenedAt         time.Time     `json:"openedAt,omitempty"`
	ClosedAt         time.Time     `json:"closedAt,omitempty"`
	CloseCode        int           `json:"closeCode,omitempty"`
	CloseReason      string        `json:"closeReason,omitempty"`
	Error            string        `json:"error,omitempty"`
	ReconnectAttempt int           `json:"reconnectAttempt"`
	NextRetry        time.Duration `json:"nextRetry,omitempty"`
}

type JoinDebug struct {
	Status  JoinStatus `json:"status"`
	AckID   uint64     `json:"ackId,omitempty"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
}

// Debug 连接状态快照
type Debug struct {
	Hub                string    `json:"hub"`
	Group              string    `json:"group"`
	WS                 WSDebug   `json:"ws"`
	Join               JoinDebug `json:"joinGroup"`
	LastMessageSnippet string    `json:"lastServerMessageSnippet,omitempty"`
}

type ConnParams struct {
	URL      string
	Group    string
	Hub      string
	Handlers Handlers
	Backoff  *Backoff // nil 使用默认档位
	Dialer   *websocket.Dialer
	Logger   *zap.Logger
}

// Connection 长连接管理器。Connect 后立即开始拨号，失败自动重连直到 Stop
type Connection struct {
	p       ConnParams
	host    string
	log     *zap.Logger
	dialer  *websocket.Dialer
	backoff *Backoff

	ctx    context.Context
	cancel context.CancelFunc

	stopped atomic.Bool
	ackSeq  atomic.Uint64

	mu      sync.Mutex
	ws      *websocket.Conn
	timer   *time.Timer
	joinAck uint64
	debug   Debug

	writeMu sync.Mutex
}

func Connect(p ConnParams) *Connection {
	c := newConnection(p)
	go c.start()
	return c
}

func newConnection(p ConnParams) *Connection {
	if p.Backoff == nil {
		p.Backoff = NewBackoff()
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	dialer := p.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	d := *dialer
	d.Subprotocols = []string{Subprotocol}

	ctx, cancel := context.WithCancel(context.Background())
	host := "invalid-url"
	if u, err := url.Parse(p.URL); err == nil && u.Host != "" {
		host = u.Host
	}
	return &Connection{
		p:       p,
		host:    host,
		log:     p.Logger,
		dialer:  &d,
		backoff: p.Backoff,
		ctx:     ctx,
		cancel:  cancel,
		debug: Debug{
			Hub:   p.Hub,
			Group: p.Group,
			WS:    WSDebug{URLHost: host},
			Join:  JoinDebug{Status: JoinIdle},
		},
	}
}

// Debug 当前快照
func (c *Connection) Debug() Debug {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.debug
	d.WS.ReconnectAttempt = c.backoff.Attempt()
	return d
}

func (c *Connection) emitDebug() {
	if c.p.Handlers.OnDebug != nil {
		c.p.Handlers.OnDebug(c.Debug())
	}
}

func (c *Connection) start() {
	if c.stopped.Load() {
		return
	}

	// 每次连接重置
	c.mu.Lock()
	c.debug.WS = WSDebug{URLHost: c.host}
	c.debug.Join = JoinDebug{Status: JoinIdle}
	c.mu.Unlock()
	c.emitDebug()

	ws, _, err := c.dialer.DialContext(c.ctx, c.p.URL, nil)
	if err != nil {
		c.log.Warn("[pubsub] dial failed", zap.String("host", c.host), zap.Error(err))
		c.mu.Lock()
		c.debug.WS.Error = err.Error()
		c.mu.Unlock()
		if h := c.p.Handlers.OnError; h != nil {
			h(err)
		}
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.stopped.Load() {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.debug.WS.Open = true
	c.debug.WS.OpenedAt = time.Now()
	ackID := c.ackSeq.Inc()
	c.joinAck = ackID
	c.debug.Join = JoinDebug{Status: JoinSent, AckID: ackID}
	c.mu.Unlock()

	if h := c.p.Handlers.OnConnected; h != nil {
		h()
	}

	if err := c.writeJSON(ws, ControlFrame{Type: FrameJoinGroup, Group: c.p.Group, AckID: ackID}); err != nil {
		c.mu.Lock()
		c.debug.Join = JoinDebug{Status: JoinError, AckID: ackID, Error: err.Error()}
		c.mu.Unlock()
	}
	c.emitDebug()

	go c.readLoop(ws)
}

func (c *Connection) writeJSON(ws *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ws.WriteJSON(v)
}

func (c *Connection) readLoop(ws *websocket.Conn) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(ws, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		c.handleMessage(data)
	}
}

func (c *Connection) handleMessage(data []byte) {
	c.mu.Lock()
	c.debug.LastMessageSnippet = tools.Snippet(string(data), 240)
	joinAck := c.joinAck
	c.mu.Unlock()

	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		// 非 JSON：原样转交
		c.emitDebug()
		c.deliver(data)
		return
	}

	switch {
	case f.Type == FrameAck && f.AckID != nil && *f.AckID == joinAck:
		ok := f.Success != nil && *f.Success
		c.mu.Lock()
		c.debug.Join.Success = ok
		if ok {
			c.debug.Join.Status = JoinAck
		} else {
			c.debug.Join.Status = JoinError
			c.debug.Join.Error = f.Error.String()
		}
		c.mu.Unlock()
		if !ok {
			c.log.Warn("[pubsub] join group rejected", zap.String("group", c.p.Group), zap.String("err", f.Error.String()))
		}
		c.emitDebug()

	case f.Type == FrameMessage:
		c.emitDebug()
		if len(f.Data) > 0 {
			c.deliver(f.Data)
		} else {
			c.deliver(data)
		}

	default:
		c.emitDebug()
		c.deliver(data)
	}
}

func (c *Connection) deliver(data []byte) {
	if h := c.p.Handlers.OnServerMessage; h != nil {
		h(data)
	}
}

func (c *Connection) handleClose(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.debug.WS.Open = false
	c.debug.WS.ClosedAt = time.Now()
	if ce, ok := err.(*websocket.CloseError); ok {
		c.debug.WS.CloseCode = ce.Code
		c.debug.WS.CloseReason = ce.Text
	} else {
		c.debug.WS.Error = err.Error()
	}
	c.mu.Unlock()
	_ = ws.Close()

	if !c.stopped.Load() {
		c.log.Info("[pubsub] connection closed", zap.String("group", c.p.Group), zap.Error(err))
	}
	c.emitDebug()
	if h := c.p.Handlers.OnDisconnected; h != nil {
		h()
	}
	c.scheduleReconnect()
}

func (c *Connection) scheduleReconnect() {
	if c.stopped.Load() {
		return
	}
	delay := c.backoff.Next()

	c.mu.Lock()
	c.debug.WS.NextRetry = delay
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()
		c.start()
	})
	c.mu.Unlock()
	c.emitDebug()
}

// Stop 尽力发送 leaveGroup，关闭连接、取消等待中的重连，并把重连计数归零
func (c *Connection) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.cancel()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		_ = c.writeJSON(ws, ControlFrame{Type: FrameLeaveGroup, Group: c.p.Group, AckID: c.ackSeq.Inc()})
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = ws.Close()
	}
	c.backoff.Reset()
	c.emitDebug()
}
