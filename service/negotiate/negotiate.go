// Package negotiate 用 sessionId 换取广播通道的短期凭据。
package negotiate

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const Path = "/api/mot/negotiate"

type Kind string

const (
	KindNetwork       Kind = "network"
	KindNon2xx        Kind = "non2xx"
	KindNonJSON       Kind = "non_json"
	KindMalformedBody Kind = "malformed_body"
)

// NegotiateError 协商失败。Kind 决定客户端是否降级到 stub
type NegotiateError struct {
	Kind        Kind
	HTTPStatus  int
	Redirected  bool
	ContentType string
	Err         error
}

func (e *NegotiateError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "negotiate failed: kind=%s", e.Kind)
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&sb, " status=%d", e.HTTPStatus)
	}
	if e.Redirected {
		sb.WriteString(" redirected")
	}
	if e.ContentType != "" {
		fmt.Fprintf(&sb, " contentType=%q", e.ContentType)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *NegotiateError) Unwrap() error { return e.Err }

// Result 协商结果
type Result struct {
	URL   string `json:"url"`
	Hub   string `json:"hub"`
	Group string `json:"group"`
}

// Negotiator 便于 transport 层替换
type Negotiator interface {
	Negotiate(ctx context.Context, sessionID string) (Result, error)
}

type Client struct {
	http *resty.Client
}

// NewClient baseURL 为 api 根地址，如 http://127.0.0.1:7071
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: rc}
}

func (c *Client) Negotiate(ctx context.Context, sessionID string) (Result, error) {
	var out Result

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("sessionId", sessionID).
		Get(Path)
	if err != nil {
		return out, &NegotiateError{Kind: KindNetwork, Err: err}
	}

	ct := resp.Header().Get("Content-Type")
	redirected := false
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		redirected = !strings.HasSuffix(raw.Request.URL.Path, Path)
	}

	if !resp.IsSuccess() {
		return out, &NegotiateError{
			Kind:        KindNon2xx,
			HTTPStatus:  resp.StatusCode(),
			Redirected:  redirected,
			ContentType: ct,
		}
	}

	nonJSON := &NegotiateError{
		Kind:        KindNonJSON,
		HTTPStatus:  resp.StatusCode(),
		Redirected:  redirected,
		ContentType: ct,
	}
	if !isJSON(ct) {
		return out, nonJSON
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		nonJSON.Err = err
		return Result{}, nonJSON
	}

	if out.URL == "" || out.Group == "" || out.Hub == "" {
		return Result{}, &NegotiateError{
			Kind:        KindMalformedBody,
			HTTPStatus:  resp.StatusCode(),
			Redirected:  redirected,
			ContentType: ct,
			Err:         errors.New("missing url/hub/group"),
		}
	}
	return out, nil
}

func isJSON(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// CapabilityAbsent 协商端点不存在（404/501）才算能力缺失
func CapabilityAbsent(err error) bool {
	var ne *NegotiateError
	if !errors.As(err, &ne) {
		return false
	}
	return ne.Kind == KindNon2xx &&
		(ne.HTTPStatus == http.StatusNotFound || ne.HTTPStatus == http.StatusNotImplemented)
}
