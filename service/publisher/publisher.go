// Package publisher 把 ResponseEvent 推送到会话组。
package publisher

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"MotPad/global/config"
	jwtsec "MotPad/tools/security"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Publisher 组广播。实现需并发安全
type Publisher interface {
	SendToGroup(ctx context.Context, group string, evt any) error
}

// SendPath hub REST 路径
func SendPath(hub, group string) string {
	return "/api/hubs/" + url.PathEscape(hub) + "/groups/" + url.PathEscape(group) + "/:send"
}

// RestPublisher 通过 hub 的 REST 接口发送，携带短期服务令牌
type RestPublisher struct {
	hub  string
	tok  jwtsec.Options
	http *resty.Client
	log  *zap.Logger

	mu       sync.Mutex
	token    string
	expireAt time.Time
}

func NewRestPublisher(c config.HubConfig, log *zap.Logger) (*RestPublisher, error) {
	if !c.Configured() {
		return nil, errors.New("hub endpoint/name/secret not configured")
	}
	if log == nil {
		log = zap.NewNop()
	}
	ttl := c.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(c.Endpoint, "/")).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &RestPublisher{
		hub:  c.Name,
		tok:  jwtsec.Options{Secret: []byte(c.Secret), Alg: "HS256", TTL: ttl},
		http: rc,
		log:  log,
	}, nil
}

// serviceToken 过期前一分钟换新
func (p *RestPublisher) serviceToken() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Until(p.expireAt) > time.Minute {
		return p.token, nil
	}
	t, exp, err := jwtsec.Generate(p.tok, "motpad-worker", jwtsec.ServerAudience(p.hub), []string{jwtsec.RoleSendToGroup})
	if err != nil {
		return "", errors.Wrap(err, "sign service token")
	}
	p.token, p.expireAt = t, exp
	return t, nil
}

func (p *RestPublisher) SendToGroup(ctx context.Context, group string, evt any) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	token, err := p.serviceToken()
	if err != nil {
		return err
	}
	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		Post(SendPath(p.hub, group))
	if err != nil {
		return errors.Wrapf(err, "send to group %s", group)
	}
	if !resp.IsSuccess() {
		return errors.Errorf("send to group %s: status %d %s", group, resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	p.log.Debug("sent to group", zap.String("group", group), zap.Int("bytes", len(body)))
	return nil
}
