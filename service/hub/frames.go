package hub

import (
	"encoding/json"

	"MotPad/service/pubsub"
)

const (
	dataTypeJSON = "json"
	fromServer   = "server"
)

// buildMessageFrame 组消息，data 必须是合法 JSON（入口已校验）
func buildMessageFrame(group string, data []byte) ([]byte, error) {
	return json.Marshal(pubsub.ServerFrame{
		Type:     pubsub.FrameMessage,
		From:     fromServer,
		Group:    group,
		DataType: dataTypeJSON,
		Data:     json.RawMessage(data),
	})
}

// buildConnected 握手后的 system 帧
func buildConnected(connID, userID string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"type":         "system",
		"event":        "connected",
		"userId":       userID,
		"connectionId": connID,
	})
}

func buildAck(ackID uint64, errName, errMsg string) ([]byte, error) {
	ok := errName == ""
	f := pubsub.ServerFrame{
		Type:    pubsub.FrameAck,
		AckID:   &ackID,
		Success: &ok,
	}
	if !ok {
		f.Error = &pubsub.AckError{Name: errName, Message: errMsg}
	}
	return json.Marshal(f)
}
