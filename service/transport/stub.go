package transport

import (
	"context"
	"sync"

	"MotPad/module/commands"
	"MotPad/module/notepad"
	"MotPad/module/protocol"
	"MotPad/module/stub"
	"MotPad/tools/ids"
)

// Stub 本地规则应答，不走网络
type Stub struct {
	sessionID string
	replies   *replyRegistry

	mu      sync.Mutex
	lastReq string
}

func NewStub(sessionID string) *Stub {
	return &Stub{sessionID: sessionID, replies: newReplyRegistry()}
}

func (s *Stub) Init(context.Context) error { return nil }

func (s *Stub) SendChat(_ context.Context, text string, state notepad.State) (string, error) {
	requestID := s.nextID()
	res := stub.Respond(text, state)
	cmds := commands.ValidateAll(commands.Cap(res.Commands), state.Canvas)
	s.replies.emitAsync(notepad.Reply{RequestID: requestID, ReplyText: res.ReplyText, Commands: cmds})
	return requestID, nil
}

// SendStrokeSharpen stub 模式不做笔画修整，回一条空回复
func (s *Stub) SendStrokeSharpen(_ context.Context, _ protocol.Stroke, _ notepad.State) (string, error) {
	requestID := s.nextID()
	s.replies.emitAsync(notepad.Reply{RequestID: requestID})
	return requestID, nil
}

func (s *Stub) nextID() string {
	id := ids.NewRequestID()
	s.mu.Lock()
	s.lastReq = id
	s.mu.Unlock()
	return id
}

func (s *Stub) OnReply(cb func(notepad.Reply)) func() { return s.replies.add(cb) }

func (s *Stub) Status() Status    { return StatusStub }
func (s *Stub) ModeLabel() string { return ModeStub }

func (s *Stub) Dispose(context.Context) error { return nil }

func (s *Stub) Debug() DebugInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DebugInfo{
		SessionID:     s.sessionID,
		LastRequestID: s.lastReq,
		Mode:          ModeStub,
		Status:        StatusStub,
	}
}
