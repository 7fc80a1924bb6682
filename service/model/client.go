// Package model 调用生成网关（/v1/responses，SSE 流式），带超时与重试。
package model

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"MotPad/global/config"
	"MotPad/module/protocol"
	"MotPad/tools"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	ResponsesPath = "/v1/responses"
	MaxInputLen   = 20000
)

// Completer worker 依赖的最小接口
type Completer interface {
	Complete(ctx context.Context, sessionID, userText string) (string, error)
}

type Options struct {
	GatewayURL      string
	Token           string
	Agent           string
	Stream          bool
	MaxOutputTokens int
	Attempts        int
	Timeout         time.Duration // 单次尝试
	Backoff         time.Duration // 第 n 次失败后等待 Backoff × n
}

func OptionsFromConfig(c config.ModelConfig) Options {
	return Options{
		GatewayURL:      c.GatewayURL,
		Token:           c.Token,
		Agent:           c.Agent,
		Stream:          c.Stream,
		MaxOutputTokens: c.MaxOutputTokens,
		Attempts:        c.RetryAttempts,
		Timeout:         c.Timeout(),
		Backoff:         c.RetryBackoff,
	}
}

type Client struct {
	opts Options
	http *resty.Client
	log  *zap.Logger
}

func New(opts Options, log *zap.Logger) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.Agent == "" {
		opts.Agent = "openclaw:main"
	}
	if log == nil {
		log = zap.NewNop()
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.GatewayURL, "/")).
		SetAuthToken(opts.Token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream")
	return &Client{opts: opts, http: rc, log: log}
}

type inputText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inputMessage struct {
	Type    string      `json:"type"`
	Role    string      `json:"role"`
	Content []inputText `json:"content"`
}

type requestBody struct {
	Model           string         `json:"model"`
	User            string         `json:"user"`
	Input           []inputMessage `json:"input"`
	Stream          bool           `json:"stream"`
	MaxOutputTokens int            `json:"max_output_tokens"`
}

func (c *Client) body(sessionID, userText string) requestBody {
	return requestBody{
		Model: c.opts.Agent,
		User:  "canvas:" + sessionID,
		Input: []inputMessage{{
			Type:    "message",
			Role:    "user",
			Content: []inputText{{Type: "input_text", Text: protocol.TruncateRunes(userText, MaxInputLen)}},
		}},
		Stream:          c.opts.Stream,
		MaxOutputTokens: c.opts.MaxOutputTokens,
	}
}

// Complete 返回模型输出文本。每次尝试独立超时，失败后线性退避；
// 全部失败返回 KindExhaustedRetries，Err 为最后一次的错误
func (c *Client) Complete(ctx context.Context, sessionID, userText string) (string, error) {
	body := c.body(sessionID, userText)

	var last error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		text, err := c.attempt(ctx, attempt, body)
		if err == nil {
			return text, nil
		}
		last = err
		c.log.Warn("[model] call failed",
			zap.String("sessionId", sessionID), zap.Int("attempt", attempt), zap.Error(err))

		if ctx.Err() != nil {
			break
		}
		if attempt < c.opts.Attempts {
			if err := sleep(ctx, c.opts.Backoff*time.Duration(attempt)); err != nil {
				break
			}
		}
	}
	return "", &ModelInvocationError{Kind: KindExhaustedRetries, Attempt: c.opts.Attempts, Err: last}
}

func (c *Client) attempt(parent context.Context, attempt int, body requestBody) (string, error) {
	ctx, cancel := context.WithTimeout(parent, c.opts.Timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetDoNotParseResponse(true).
		Post(ResponsesPath)
	if err != nil {
		return "", c.classify(ctx, attempt, err)
	}
	raw := resp.RawBody()
	if raw == nil || raw == http.NoBody {
		return "", &ModelInvocationError{Kind: KindMissingBody, Attempt: attempt, Status: resp.StatusCode()}
	}
	defer raw.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(raw, 2000))
		c.log.Error("[model] non-OK response",
			zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode()),
			zap.String("bodySnippet", string(snippet)))
		return "", &ModelInvocationError{
			Kind:    KindNon2xx,
			Attempt: attempt,
			Status:  resp.StatusCode(),
			Body:    tools.Snippet(string(snippet), 200),
		}
	}

	if c.opts.Stream {
		text, err := readStream(raw)
		if err != nil {
			return "", c.classify(ctx, attempt, err)
		}
		return text, nil
	}

	data, err := io.ReadAll(raw)
	if err != nil {
		return "", c.classify(ctx, attempt, err)
	}
	text, err := extractText(data)
	if err != nil {
		return "", &ModelInvocationError{Kind: KindDecode, Attempt: attempt, Status: resp.StatusCode(), Err: err}
	}
	return text, nil
}

func (c *Client) classify(ctx context.Context, attempt int, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &ModelInvocationError{Kind: KindTimeout, Attempt: attempt, Err: err}
	}
	return &ModelInvocationError{Kind: KindNetwork, Attempt: attempt, Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
