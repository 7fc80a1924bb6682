package model

import (
	"encoding/json"
	"strings"

	"MotPad/module/protocol"
)

const maxPayloadInPrompt = 4000

// BuildPreamble 紧凑的上下文说明，让模型只输出 JSON 对象
func BuildPreamble(req *protocol.RequestMessage) string {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	ps := protocol.TruncateRunes(string(payload), maxPayloadInPrompt)

	var sb strings.Builder
	sb.WriteString("You are Mot, responding to a canvas-notepad request.\n\n")
	sb.WriteString("Return ONLY a JSON object with this shape:\n")
	sb.WriteString(`{ "replyText": string, "commands": array, "edits": array }` + "\n\n")
	sb.WriteString("Where commands are drawing commands with kind one of: clear | line | polyline | rect | circle | text.\n")
	sb.WriteString(`Where edits can include { "op": "replaceStroke", "strokeId": string, "replacement": commands[] }.` + "\n\n")
	sb.WriteString("Context:\n")
	sb.WriteString("- sessionId: " + req.SessionID + "\n")
	sb.WriteString("- requestId: " + req.RequestID + "\n")
	sb.WriteString("- type: " + string(req.Type) + "\n")
	sb.WriteString("- payload: " + ps + "\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Commands MUST be valid JSON and use pixel coords consistent with payload.canvas.{width,height}.\n")
	sb.WriteString("- Be conservative: if unsure, replyText should ask a brief clarification.\n")
	return sb.String()
}

// BuildUserText 前言 + 用户原话；没有文本时写 [no text]
func BuildUserText(req *protocol.RequestMessage) string {
	text := protocol.TruncateRunes(req.Payload.Text, protocol.MaxTextLen)
	if text == "" {
		text = "[no text]"
	}
	return BuildPreamble(req) + "\nUser says: " + text + "\n"
}
