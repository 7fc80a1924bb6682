// Package hub 组广播服务：ws 客户端按组订阅，服务端 REST 推送，多节点经 redis 频道扇出。
package hub

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"MotPad/global/config"
	"MotPad/middleware"
	midsec "MotPad/middleware/security"
	"MotPad/service/publisher"
	"MotPad/service/pubsub"
	"MotPad/tools/errs"
	"MotPad/tools/ids"
	"MotPad/tools/safe"
	jwtsec "MotPad/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ---- 常量参数 ----
const (
	writeWait    = 10 * time.Second
	maxFrameSize = 64 << 10
	maxSendBody  = 1 << 20
	sendAction   = ":send"
)

type Options struct {
	Name          string
	Token         jwtsec.Options
	Redis         redis.UniversalClient // nil 单节点
	Channel       string                // redis 频道前缀
	SendQueue     int
	FanoutWorkers int
	PingInterval  time.Duration
	PongWait      time.Duration
	Logger        *zap.Logger
}

func OptionsFromConfig(c config.HubConfig, rdb redis.UniversalClient, log *zap.Logger) Options {
	return Options{
		Name:    c.Name,
		Token:   jwtsec.Options{Secret: []byte(c.Secret), Alg: "HS256", TTL: c.TokenTTL},
		Redis:   rdb,
		Channel: c.Channel,
		Logger:  log,
	}
}

type Server struct {
	o        Options
	reg      *Registry
	fan      *Fanout
	log      *zap.Logger
	upgrader websocket.Upgrader
	channel  string
	mids     *middleware.MiddlewareManager

	subscribed chan struct{}
	wg         sync.WaitGroup
}

func NewServer(o Options) *Server {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	return &Server{
		o:   o,
		reg: NewRegistry(),
		fan: NewFanout(o.FanoutWorkers, 0),
		log: o.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{pubsub.Subprotocol},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		channel:    publisher.Channel(o.Channel, o.Name),
		mids:       middleware.NewManager(),
		subscribed: make(chan struct{}),
	}
}

func (s *Server) Registry() *Registry { return s.reg }

// Subscribed redis 订阅就绪后关闭
func (s *Server) Subscribed() <-chan struct{} { return s.subscribed }

// Middlewares 路由前的可插拔中间件
func (s *Server) Middlewares() *middleware.MiddlewareManager { return s.mids }

// Engine 带恢复与请求日志的 gin 引擎
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	// 组名按转义后的原始路径匹配，"/" 编码为 %2F 也能落到 :group
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.Use(middleware.Recovery(s.log), middleware.RequestLog(s.log), s.mids.Use())
	s.Routes(r)
	return r
}

func (s *Server) Routes(r gin.IRoutes) {
	clientAuth := midsec.DefaultOptions(s.o.Token, jwtsec.ClientAudience(s.o.Name))
	clientAuth.QueryToken = "access_token"
	serverAuth := midsec.DefaultOptions(s.o.Token, jwtsec.ServerAudience(s.o.Name))
	serverAuth.Role = jwtsec.RoleSendToGroup

	middleware.GET(r, "/client/hubs/:hub", s.HandleWS, middleware.RouteOpt{Auth: clientAuth})
	middleware.POST(r, "/api/hubs/:hub/groups/:group/:action", s.HandleSend, middleware.RouteOpt{Auth: serverAuth})
	middleware.GET(r, "/api/health", s.HandleHealth, middleware.RouteOpt{})
}

func (s *Server) HandleHealth(c *gin.Context) {
	conns, groups := s.reg.Count()
	c.JSON(http.StatusOK, gin.H{"ok": true, "connections": conns, "groups": groups})
}

func (s *Server) HandleSend(c *gin.Context) {
	if c.Param("hub") != s.o.Name || c.Param("action") != sendAction {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	group := c.Param("group")
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxSendBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		c.AbortWithStatusJSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("body must be JSON"))
		return
	}
	if err := s.Deliver(c.Request.Context(), group, body); err != nil {
		s.log.Warn("deliver failed", zap.String("group", group), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errs.ErrUnavailable.WithDetail(err.Error()))
		return
	}
	c.Status(http.StatusAccepted)
}

// Deliver 有 redis 时走频道（包括本节点），否则直接本地扇出
func (s *Server) Deliver(ctx context.Context, group string, data []byte) error {
	if s.o.Redis == nil {
		s.deliverLocal(group, data)
		return nil
	}
	env, err := json.Marshal(publisher.Envelope{Hub: s.o.Name, Group: group, Data: data})
	if err != nil {
		return err
	}
	return s.o.Redis.Publish(ctx, s.channel, env).Err()
}

func (s *Server) deliverLocal(group string, data []byte) int {
	conns := s.reg.listByGroup(group)
	if len(conns) == 0 {
		s.log.Debug("no subscribers", zap.String("group", group))
		return 0
	}
	frame, err := buildMessageFrame(group, data)
	if err != nil {
		s.log.Warn("build frame failed", zap.String("group", group), zap.Error(err))
		return 0
	}
	s.fan.Broadcast(conns, frame)
	return len(conns)
}

// Run 订阅 redis 频道直到 ctx 结束；单节点模式直接等待 ctx
func (s *Server) Run(ctx context.Context) error {
	if s.o.Redis == nil {
		close(s.subscribed)
		<-ctx.Done()
		return nil
	}
	sub := s.o.Redis.Subscribe(ctx, s.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return errs.WrapMsg(err, "subscribe", "channel", s.channel)
	}
	close(s.subscribed)
	s.log.Info("hub subscribed", zap.String("channel", s.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env publisher.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.log.Warn("bad envelope", zap.Error(err))
				continue
			}
			if env.Hub != s.o.Name {
				continue
			}
			s.deliverLocal(env.Group, env.Data)
		}
	}
}

// Close 断开所有连接并等待读写协程退出
func (s *Server) Close() {
	for _, c := range s.reg.listAll() {
		c.close()
		_ = c.WS.Close()
	}
	s.wg.Wait()
	s.fan.Close()
}

// HandleWS ===== WebSocket 处理 =====
func (s *Server) HandleWS(c *gin.Context) {
	if c.Param("hub") != s.o.Name {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	claims, _ := midsec.Claims(c)

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		s.log.Info("upgrade websocket error", zap.Error(err))
		return
	}
	if ws.Subprotocol() != pubsub.Subprotocol {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "unsupported subprotocol"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	cl := NewClient(ids.NewConnID(), claims, ws, s.o.SendQueue)
	s.reg.add(cl)
	s.log.Info("client connected",
		zap.String("connId", cl.ConnID),
		zap.String("user", cl.Subject),
		zap.String("token", jwtsec.HashToken(c.GetString(midsec.CtxTokenKey))))

	if hello, err := buildConnected(cl.ConnID, cl.Subject); err == nil {
		cl.enqueue(hello)
	}

	s.wg.Add(2)
	writerDone := make(chan struct{})
	go func() {
		defer s.wg.Done()
		defer close(writerDone)
		safe.Run(func() { s.writePump(cl) })
	}()
	go func() {
		defer s.wg.Done()
		safe.Run(func() { s.readLoop(cl) })
		// 读循环退出：通知写协程收尾
		cl.close()
		<-writerDone
		s.reg.remove(cl)
		_ = ws.Close()
		s.log.Info("client closed", zap.String("connId", cl.ConnID), zap.Int("dropped", cl.Dropped()))
	}()
}

// ---- 读循环：只读，写回执走发送队列 ----
func (s *Server) readLoop(cl *Client) {
	ws := cl.WS
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.o.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.o.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.log.Debug("peer closed", zap.String("connId", cl.ConnID))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.log.Info("read timeout", zap.String("connId", cl.ConnID))
			} else {
				s.log.Debug("read err", zap.String("connId", cl.ConnID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var f pubsub.ControlFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Debug("bad frame", zap.String("connId", cl.ConnID), zap.Error(err))
			continue
		}
		s.handleControl(cl, f)
	}
}

func (s *Server) handleControl(cl *Client, f pubsub.ControlFrame) {
	var errName, errMsg string
	switch f.Type {
	case pubsub.FrameJoinGroup, pubsub.FrameLeaveGroup:
		switch {
		case f.Group == "":
			errName, errMsg = "BadRequest", "group is required"
		case cl.Claims == nil || !cl.Claims.CanJoinLeave(f.Group):
			errName, errMsg = "Forbidden", "no permission to "+f.Type+" "+f.Group
		case f.Type == pubsub.FrameJoinGroup:
			s.reg.join(cl, f.Group)
			s.log.Debug("joined group", zap.String("connId", cl.ConnID), zap.String("group", f.Group))
		default:
			s.reg.leave(cl, f.Group)
			s.log.Debug("left group", zap.String("connId", cl.ConnID), zap.String("group", f.Group))
		}
	default:
		errName, errMsg = "NotSupported", "unsupported frame type "+f.Type
	}
	if f.AckID == 0 {
		return
	}
	if ack, err := buildAck(f.AckID, errName, errMsg); err == nil {
		cl.enqueue(ack)
	}
}

// ---- 写协程：业务帧 + 定时 ping；done 后发 Close ----
func (s *Server) writePump(cl *Client) {
	ticker := time.NewTicker(s.o.PingInterval)
	defer ticker.Stop()
	ws := cl.WS

	for {
		select {
		case payload := <-cl.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug("write payload err", zap.String("connId", cl.ConnID), zap.Error(err))
				// 让读循环尽快退出
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug("ping err", zap.String("connId", cl.ConnID), zap.Error(err))
				_ = ws.Close()
				return
			}
		case <-cl.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
