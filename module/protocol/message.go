package protocol

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Version 当前协议版本
const Version = 1

// 边界硬上限
const (
	MaxTextLen      = 2000
	MaxStrokePoints = 2000
	MaxCommands     = 200
)

type RequestType string

const (
	TypeChatDraw      RequestType = "chat_draw"
	TypeStrokeSharpen RequestType = "stroke_sharpen"
)

func (t RequestType) Valid() bool {
	return t == TypeChatDraw || t == TypeStrokeSharpen
}

// Canvas 画布尺寸（CSS 像素）
type Canvas struct {
	Width  float64 `json:"width" mapstructure:"width"`
	Height float64 `json:"height" mapstructure:"height"`
	Dpr    float64 `json:"dpr" mapstructure:"dpr"`
}

// Point 坐标为绝对像素。x/y 必填，t 为可选时间戳（ms）
type Point struct {
	X float64  `json:"x" mapstructure:"x"`
	Y float64  `json:"y" mapstructure:"y"`
	T *float64 `json:"t,omitempty" mapstructure:"t"`
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var raw struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
		T *float64 `json:"t"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.X == nil || raw.Y == nil {
		return errors.New("point requires numeric x and y")
	}
	*p = Point{X: *raw.X, Y: *raw.Y, T: raw.T}
	return nil
}

// Stroke 用户手绘笔画
type Stroke struct {
	ID     string  `json:"id" mapstructure:"id"`
	Color  string  `json:"color" mapstructure:"color"`
	Width  float64 `json:"width" mapstructure:"width"`
	Points []Point `json:"points" mapstructure:"points"`
}

type Payload struct {
	Text   string  `json:"text,omitempty" mapstructure:"text"`
	Canvas Canvas  `json:"canvas" mapstructure:"canvas"`
	Stroke *Stroke `json:"stroke,omitempty" mapstructure:"stroke"`
}

// RequestMessage 客户端请求（v=1），创建后不再修改
type RequestMessage struct {
	V          int         `json:"v" mapstructure:"v"`
	RequestID  string      `json:"requestId" mapstructure:"requestId"`
	SessionID  string      `json:"sessionId" mapstructure:"sessionId"`
	Type       RequestType `json:"type" mapstructure:"type"`
	CreatedAt  string      `json:"createdAt" mapstructure:"createdAt"`
	ReceivedAt string      `json:"receivedAt,omitempty" mapstructure:"receivedAt"`
	Payload    Payload     `json:"payload" mapstructure:"payload"`
}

const EditOpReplaceStroke = "replaceStroke"

// Edit 目前只有 replaceStroke
type Edit struct {
	Op          string    `json:"op"`
	StrokeID    string    `json:"strokeId"`
	Replacement []Command `json:"replacement"`
	Confidence  float64   `json:"confidence"`
}

// ResponseEvent 广播给会话组的回复（v=1）
type ResponseEvent struct {
	V         int       `json:"v"`
	RequestID string    `json:"requestId"`
	SessionID string    `json:"sessionId"`
	CreatedAt string    `json:"createdAt"`
	ReplyText string    `json:"replyText"`
	Commands  []Command `json:"commands"`
	Edits     []Edit    `json:"edits"`
}

// NewResponseEvent 构造回复，保证 commands/edits 序列化为 []
func NewResponseEvent(requestID, sessionID, replyText string, commands []Command, edits []Edit) ResponseEvent {
	if commands == nil {
		commands = []Command{}
	}
	if edits == nil {
		edits = []Edit{}
	}
	return ResponseEvent{
		V:         Version,
		RequestID: requestID,
		SessionID: sessionID,
		CreatedAt: Now(),
		ReplyText: replyText,
		Commands:  commands,
		Edits:     edits,
	}
}

// Now ISO-8601 UTC 毫秒
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func GroupForSession(sessionID string) string {
	return "session-" + sessionID
}
