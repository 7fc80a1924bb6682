// Package api HTTP 入口：协商广播凭据、请求入队、健康检查。
package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"MotPad/global/config"
	"MotPad/middleware"
	"MotPad/module/protocol"
	"MotPad/service/natsx"
	"MotPad/service/negotiate"
	"MotPad/service/publisher"
	"MotPad/service/transport"
	"MotPad/tools/decode"
	"MotPad/tools/errs"
	jwtsec "MotPad/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	HealthPath = "/api/health"
	// AckReplyText 入队后立即推送的占位回复
	AckReplyText = "Received — processing…"
)

type Options struct {
	Hub             config.HubConfig
	AckReplyEnabled bool
	AllowedOrigins  []string
	Logger          *zap.Logger
}

type Server struct {
	o    Options
	q    natsx.Enqueuer
	pub  publisher.Publisher // 可为 nil
	tok  jwtsec.Options
	log  *zap.Logger
	mids *middleware.MiddlewareManager
}

// NewServer pub 为 nil 时不发送占位回复
func NewServer(o Options, q natsx.Enqueuer, pub publisher.Publisher) *Server {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Server{
		o:    o,
		q:    q,
		pub:  pub,
		tok:  jwtsec.Options{Secret: []byte(o.Hub.Secret), Alg: "HS256", TTL: o.Hub.TokenTTL},
		log:  o.Logger,
		mids: middleware.NewManager(middleware.Origin(o.AllowedOrigins)),
	}
}

func (s *Server) Middlewares() *middleware.MiddlewareManager { return s.mids }

func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.RequestLog(s.log), s.mids.Use())
	s.Routes(r)
	return r
}

func (s *Server) Routes(r gin.IRoutes) {
	middleware.GET(r, negotiate.Path, s.HandleNegotiate, middleware.RouteOpt{})
	middleware.POST(r, transport.RequestsPath, s.HandleRequests, middleware.RouteOpt{})
	middleware.GET(r, HealthPath, s.HandleHealth, middleware.RouteOpt{})
}

func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) HandleNegotiate(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("sessionId is required"))
		return
	}
	group := protocol.GroupForSession(sessionID)
	u, err := s.ClientURL(sessionID, group)
	if err != nil {
		s.log.Error("mot/negotiate failed", zap.String("sessionId", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	c.JSON(http.StatusOK, negotiate.Result{URL: u, Hub: s.o.Hub.Name, Group: group})
}

// ClientURL 客户端 ws 地址，附带只能加入本会话组的短期令牌
func (s *Server) ClientURL(sessionID, group string) (string, error) {
	if !s.o.Hub.Configured() {
		return "", errs.ErrUnavailable.WrapMsg("hub not configured")
	}
	base := strings.TrimRight(s.o.Hub.ClientEndpoint, "/")
	if base == "" {
		base = wsBase(s.o.Hub.Endpoint)
	}
	token, _, err := jwtsec.Generate(s.tok, sessionID, jwtsec.ClientAudience(s.o.Hub.Name), []string{jwtsec.JoinLeaveRole(group)})
	if err != nil {
		return "", errs.WrapMsg(err, "sign client token")
	}
	return base + "/client/hubs/" + url.PathEscape(s.o.Hub.Name) + "?access_token=" + url.QueryEscape(token), nil
}

// wsBase http(s) -> ws(s)
func wsBase(endpoint string) string {
	e := strings.TrimRight(endpoint, "/")
	switch {
	case strings.HasPrefix(e, "https://"):
		return "wss://" + strings.TrimPrefix(e, "https://")
	case strings.HasPrefix(e, "http://"):
		return "ws://" + strings.TrimPrefix(e, "http://")
	}
	return e
}

// ValidateRequest sessionId/requestId 必须是非空字符串，其余字段放行
func ValidateRequest(body map[string]any) (requestID, sessionID string, err error) {
	var ok bool
	if sessionID, ok = decode.ReadString(body, "sessionId"); !ok {
		return "", "", errs.ErrArgs.WithDetail("sessionId is required")
	}
	if requestID, ok = decode.ReadString(body, "requestId"); !ok {
		return "", "", errs.ErrArgs.WithDetail("requestId is required")
	}
	return requestID, sessionID, nil
}

func (s *Server) HandleRequests(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("Body must be a JSON object"))
		return
	}
	body, err := decode.JSONMap(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("Body must be a JSON object"))
		return
	}
	requestID, sessionID, err := ValidateRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, err)
		return
	}
	log := s.log.With(zap.String("requestId", requestID), zap.String("sessionId", sessionID))

	body["requestId"] = requestID
	body["sessionId"] = sessionID
	body["receivedAt"] = protocol.Now()
	msg, err := json.Marshal(body)
	if err != nil {
		log.Error("mot/requests marshal failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}

	ctx := c.Request.Context()
	if err := s.q.Enqueue(ctx, requestID, msg); err != nil {
		log.Error("mot/requests enqueue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}

	// 占位回复：消费端没起来时 UI 也能看到反馈；失败忽略
	if s.o.AckReplyEnabled && s.pub != nil {
		evt := protocol.NewResponseEvent(requestID, sessionID, AckReplyText, nil, nil)
		if err := s.pub.SendToGroup(ctx, protocol.GroupForSession(sessionID), evt); err != nil {
			log.Warn("mot/requests: failed to send ack reply (ignored)", zap.Error(err))
		}
	}

	log.Info("enqueued")
	c.JSON(http.StatusAccepted, gin.H{"requestId": requestID, "ok": true})
}
