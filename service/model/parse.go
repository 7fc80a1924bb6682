package model

import (
	"encoding/json"
	"strings"

	"MotPad/module/protocol"

	"github.com/pkg/errors"
)

const DefaultReplyText = "OK."

// Output 模型输出解析结果；commands/edits 尚未按画布清洗
type Output struct {
	ReplyText string
	Commands  []protocol.Command
	Edits     []protocol.Edit
}

type rawOutput struct {
	ReplyText json.RawMessage `json:"replyText"`
	Commands  json.RawMessage `json:"commands"`
	Edits     json.RawMessage `json:"edits"`
}

// ParseModelJSON 先对整段文本严格解析；失败时只尝试一次：截取第一个 '{' 到最后一个 '}'
func ParseModelJSON(text string) (Output, error) {
	trimmed := strings.TrimSpace(text)

	var raw rawOutput
	err := json.Unmarshal([]byte(trimmed), &raw)
	if err == nil && !strings.HasPrefix(trimmed, "{") {
		// null 也能解进 struct，但顶层必须是对象
		return Output{}, &ModelOutputError{Text: text, Err: errors.New("top-level JSON value is not an object")}
	}
	if err != nil {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start < 0 || end <= start {
			return Output{}, &ModelOutputError{Text: text, Err: errors.New("no JSON object found")}
		}
		raw = rawOutput{}
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &raw); err != nil {
			return Output{}, &ModelOutputError{Text: text, Err: err}
		}
	}

	out := Output{ReplyText: DefaultReplyText}
	var reply *string
	if len(raw.ReplyText) > 0 && json.Unmarshal(raw.ReplyText, &reply) == nil && reply != nil {
		out.ReplyText = *reply
	}
	out.Commands = protocol.DecodeCommands(raw.Commands)
	out.Edits = protocol.DecodeEdits(raw.Edits)
	return out, nil
}
