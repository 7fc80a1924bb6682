package pubsub

import "encoding/json"

// Subprotocol JSON 子协议，连接时显式声明
const Subprotocol = "json.webpubsub.azure.v1"

const (
	FrameJoinGroup  = "joinGroup"
	FrameLeaveGroup = "leaveGroup"
	FrameAck        = "ack"
	FrameMessage    = "message"
)

// ControlFrame 客户端发出的控制帧
type ControlFrame struct {
	Type  string `json:"type"`
	Group string `json:"group"`
	AckID uint64 `json:"ackId,omitempty"`
}

// ServerFrame 服务端下发帧（ack / message）
type ServerFrame struct {
	Type     string          `json:"type"`
	AckID    *uint64         `json:"ackId,omitempty"`
	Success  *bool           `json:"success,omitempty"`
	Error    *AckError       `json:"error,omitempty"`
	From     string          `json:"from,omitempty"`
	Group    string          `json:"group,omitempty"`
	DataType string          `json:"dataType,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type AckError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *AckError) String() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}
