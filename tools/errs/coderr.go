package errs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	ArgsError           = 1001 // 参数错误
	TokenInvalid        = 1501 // 令牌无效
	TokenMissing        = 1502
	NoPermission        = 1503
	ServerInternalError = 500
	ServiceUnavailable  = 503
)

var (
	ErrArgs         = NewCodeError(ArgsError, "ArgsError")
	ErrTokenInvalid = NewCodeError(TokenInvalid, "TokenInvalid")
	ErrTokenMissing = NewCodeError(TokenMissing, "TokenMissing")
	ErrNoPermission = NewCodeError(NoPermission, "NoPermission")
	ErrInternal     = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrUnavailable  = NewCodeError(ServiceUnavailable, "ServiceUnavailable")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

// CodeError 对外返回的错误体
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// WrapMsg 附加 detail 与调用栈
func (e CodeError) WrapMsg(msg string, kv ...any) error {
	ret := e
	if msg != "" || len(kv) > 0 {
		ret = e.WithDetail(toString(msg, kv))
	}
	return errors.WithStack(ret)
}

// Is 按 code 比较
func (e CodeError) Is(err error) bool {
	var other CodeError
	if !errors.As(err, &other) {
		return false
	}
	return other.Code == e.Code
}

func (e CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// From 取出错误链上的 CodeError，没有则归为内部错误
func From(err error) CodeError {
	var ce CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return ErrInternal.WithDetail(err.Error())
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		fmt.Fprintf(&sb, ", %v", kv[len(kv)-1])
	}
	return sb.String()
}
