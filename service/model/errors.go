package model

import (
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindNon2xx           ErrorKind = "non2xx"
	KindMissingBody      ErrorKind = "missing_body"
	KindDecode           ErrorKind = "decode"
	KindNetwork          ErrorKind = "network"
	KindExhaustedRetries ErrorKind = "exhausted_retries"
)

// ModelInvocationError 网关调用失败；exhausted_retries 包裹最后一次尝试的错误
type ModelInvocationError struct {
	Kind    ErrorKind
	Attempt int
	Status  int
	Body    string
	Err     error
}

func (e *ModelInvocationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "model invocation failed: kind=%s attempt=%d", e.Kind, e.Attempt)
	if e.Status != 0 {
		fmt.Fprintf(&sb, " status=%d", e.Status)
	}
	if e.Body != "" {
		fmt.Fprintf(&sb, " body=%q", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// ModelOutputError 模型输出在兜底解析后仍不是 JSON 对象
type ModelOutputError struct {
	Text string
	Err  error
}

func (e *ModelOutputError) Error() string {
	return "failed to parse JSON from model output: " + e.Err.Error()
}

func (e *ModelOutputError) Unwrap() error { return e.Err }
