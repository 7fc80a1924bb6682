package protocol

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

var ErrInvalidEvent = errors.New("invalid response event")

// ParseResponseEvent 校验广播消息是否为合法的 v1 ResponseEvent。
// data 也可以是一个内嵌 JSON 文本的字符串（text 类型推送）。
func ParseResponseEvent(data []byte) (*ResponseEvent, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, errors.Wrap(ErrInvalidEvent, err.Error())
		}
		data = []byte(inner)
	}

	var raw struct {
		V         json.RawMessage `json:"v"`
		RequestID *string         `json:"requestId"`
		SessionID *string         `json:"sessionId"`
		CreatedAt *string         `json:"createdAt"`
		ReplyText *string         `json:"replyText"`
		Commands  json.RawMessage `json:"commands"`
		Edits     json.RawMessage `json:"edits"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(ErrInvalidEvent, err.Error())
	}
	var v float64
	if err := json.Unmarshal(raw.V, &v); err != nil || v != Version {
		return nil, errors.Wrap(ErrInvalidEvent, "version mismatch")
	}
	if raw.RequestID == nil || raw.SessionID == nil {
		return nil, errors.Wrap(ErrInvalidEvent, "missing requestId/sessionId")
	}
	if raw.CreatedAt == nil || raw.ReplyText == nil {
		return nil, errors.Wrap(ErrInvalidEvent, "missing createdAt/replyText")
	}
	if !isArray(raw.Commands) || !isArray(raw.Edits) {
		return nil, errors.Wrap(ErrInvalidEvent, "commands/edits must be arrays")
	}
	// 更深的校验在应用阶段做
	return &ResponseEvent{
		V:         Version,
		RequestID: *raw.RequestID,
		SessionID: *raw.SessionID,
		CreatedAt: *raw.CreatedAt,
		ReplyText: *raw.ReplyText,
		Commands:  DecodeCommands(raw.Commands),
		Edits:     DecodeEdits(raw.Edits),
	}, nil
}

// ClampStrokeForSend 发送前裁剪笔画：点数上限、坐标落入画布、宽度 [1,30]
func ClampStrokeForSend(s Stroke, c Canvas) Stroke {
	pts := s.Points
	if len(pts) > MaxStrokePoints {
		pts = pts[:MaxStrokePoints]
	}
	out := make([]Point, 0, len(pts))
	for _, p := range pts {
		out = append(out, Point{
			X: ClampPx(p.X, 0, c.Width),
			Y: ClampPx(p.Y, 0, c.Height),
			T: p.T,
		})
	}
	s.Points = out
	s.Width = ClampPx(s.Width, 1, 30)
	return s
}

// ClampPx 非有限值取 min
func ClampPx(v, min, max float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return min
	}
	return math.Min(max, math.Max(min, v))
}

// TruncateRunes 按字符截断
func TruncateRunes(s string, n int) string {
	if n < 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
