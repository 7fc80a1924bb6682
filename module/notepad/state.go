package notepad

import (
	"MotPad/module/commands"
	"MotPad/module/protocol"
)

// State 画板状态。Strokes/UndoneStrokes 属于用户，MotCommands 属于 Mot 图层
type State struct {
	Canvas        protocol.Canvas
	Strokes       []protocol.Stroke
	UndoneStrokes []protocol.Stroke
	MotCommands   []protocol.Command
}

func NewState(canvas protocol.Canvas) State {
	return State{Canvas: canvas}
}

// Reply 客户端收到的回复；Failed 表示本地生成的失败提示
type Reply struct {
	RequestID string
	ReplyText string
	Commands  []protocol.Command
	Edits     []protocol.Edit
	Failed    bool
}

func ReplyFromEvent(evt *protocol.ResponseEvent) Reply {
	return Reply{
		RequestID: evt.RequestID,
		ReplyText: evt.ReplyText,
		Commands:  evt.Commands,
		Edits:     evt.Edits,
	}
}

// ApplyCommands 顺序应用：clear 在其所在位置清空笔画、撤销栈和 Mot 图层；
// 其他指令只追加到 Mot 图层
func ApplyCommands(s State, cmds []protocol.Command) State {
	next := s
	for _, c := range cmds {
		if c.Kind == protocol.KindClear {
			next.Strokes = nil
			next.UndoneStrokes = nil
			next.MotCommands = nil
			continue
		}
		mc := make([]protocol.Command, len(next.MotCommands), len(next.MotCommands)+1)
		copy(mc, next.MotCommands)
		next.MotCommands = append(mc, c)
	}
	return next
}

// AutoApplyConfidence 达到该置信度的 edit 自动应用，低于的作为建议留给用户确认
const AutoApplyConfidence = 0.8

// Suggestion 待确认的低置信度 edit
type Suggestion struct {
	RequestID string
	Edit      protocol.Edit
}

// ApplyReply 先应用 commands，再按顺序处理 edits。
// 置信度 >= AutoApplyConfidence 的 replaceStroke 立即应用，其余按顺序作为建议返回
func ApplyReply(s State, r Reply) (State, []Suggestion) {
	valid := commands.ValidateAll(commands.Cap(r.Commands), s.Canvas)
	next := ApplyCommands(s, valid)

	var suggestions []Suggestion
	for _, e := range r.Edits {
		if e.Op != protocol.EditOpReplaceStroke {
			continue
		}
		if e.Confidence >= AutoApplyConfidence {
			next = ApplyReplaceStroke(next, e)
			continue
		}
		suggestions = append(suggestions, Suggestion{RequestID: r.RequestID, Edit: e})
	}
	return next, suggestions
}

// ApplyReplaceStroke 删除对应用户笔画并把替换内容当作 Mot 指令画上，不进入撤销历史
func ApplyReplaceStroke(s State, e protocol.Edit) State {
	next := s
	next.Strokes = removeStroke(next.Strokes, e.StrokeID)
	repl := commands.ValidateAll(commands.Cap(e.Replacement), next.Canvas)
	return ApplyCommands(next, repl)
}

func removeStroke(strokes []protocol.Stroke, id string) []protocol.Stroke {
	out := make([]protocol.Stroke, 0, len(strokes))
	for _, st := range strokes {
		if st.ID != id {
			out = append(out, st)
		}
	}
	return out
}
