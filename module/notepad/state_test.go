package notepad

import (
	"fmt"
	"testing"

	"MotPad/module/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var canvas = protocol.Canvas{Width: 800, Height: 600, Dpr: 2}

func stroke(id string) protocol.Stroke {
	return NewStroke(id, "#000", 2, protocol.Point{X: 1, Y: 1})
}

func TestApplyCommandsClearIsPositional(t *testing.T) {
	s := NewState(canvas)
	s = CommitStroke(s, stroke("a"))
	s = CommitStroke(s, stroke("b"))
	s = Undo(s)
	s = ApplyCommands(s, []protocol.Command{protocol.Circle(1, 1, 1)})
	require.Len(t, s.MotCommands, 1)

	s = ApplyCommands(s, []protocol.Command{
		protocol.Rect(0, 0, 1, 1),
		protocol.Clear(),
		protocol.Text(1, 1, "after"),
	})
	assert.Empty(t, s.Strokes)
	assert.Empty(t, s.UndoneStrokes)
	require.Len(t, s.MotCommands, 1)
	assert.Equal(t, protocol.KindText, s.MotCommands[0].Kind)
}

func TestApplyCommandsDoesNotMutateInput(t *testing.T) {
	s := ApplyCommands(NewState(canvas), []protocol.Command{protocol.Circle(1, 1, 1)})
	next := ApplyCommands(s, []protocol.Command{protocol.Circle(2, 2, 2)})
	assert.Len(t, s.MotCommands, 1)
	assert.Len(t, next.MotCommands, 2)
}

func TestApplyReplyOrderAndReplaceStroke(t *testing.T) {
	s := NewState(canvas)
	s = CommitStroke(s, stroke("keep"))
	s = CommitStroke(s, stroke("rough"))
	s = CommitStroke(s, stroke("undone"))
	s = Undo(s)

	r := Reply{
		RequestID: "r1",
		Commands:  []protocol.Command{protocol.Circle(10, 10, 5), {Kind: "bogus"}},
		Edits: []protocol.Edit{
			{Op: "other", StrokeID: "keep"},
			{Op: protocol.EditOpReplaceStroke, StrokeID: "rough", Confidence: 0.9, Replacement: []protocol.Command{
				protocol.Line(protocol.Point{X: 0, Y: 0}, protocol.Point{X: 900, Y: 10}),
			}},
		},
	}
	next, suggestions := ApplyReply(s, r)
	assert.Empty(t, suggestions)

	require.Len(t, next.Strokes, 1)
	assert.Equal(t, "keep", next.Strokes[0].ID)
	// 撤销栈不受 edit 影响
	require.Len(t, next.UndoneStrokes, 1)
	assert.Equal(t, "undone", next.UndoneStrokes[0].ID)

	require.Len(t, next.MotCommands, 2)
	assert.Equal(t, protocol.KindCircle, next.MotCommands[0].Kind)
	assert.Equal(t, protocol.KindLine, next.MotCommands[1].Kind)
	assert.Equal(t, 800.0, next.MotCommands[1].To.X)
}

func TestApplyReplyCapsCommands(t *testing.T) {
	cmds := make([]protocol.Command, protocol.MaxCommands+20)
	for i := range cmds {
		cmds[i] = protocol.Circle(1, 1, 1)
	}
	next, _ := ApplyReply(NewState(canvas), Reply{Commands: cmds})
	assert.Len(t, next.MotCommands, protocol.MaxCommands)
}

func TestApplyReplyConfidenceGate(t *testing.T) {
	s := NewState(canvas)
	s = CommitStroke(s, stroke("low"))
	s = CommitStroke(s, stroke("edge"))
	repl := []protocol.Command{protocol.Circle(5, 5, 2)}

	next, suggestions := ApplyReply(s, Reply{RequestID: "r1", Edits: []protocol.Edit{
		{Op: protocol.EditOpReplaceStroke, StrokeID: "low", Confidence: 0.1, Replacement: repl},
		{Op: protocol.EditOpReplaceStroke, StrokeID: "edge", Confidence: AutoApplyConfidence, Replacement: repl},
	}})

	// 阈值上的 edit 立即应用
	require.Len(t, next.Strokes, 1)
	assert.Equal(t, "low", next.Strokes[0].ID)
	assert.Len(t, next.MotCommands, 1)

	// 低置信度的留作建议，用户笔画不动
	require.Len(t, suggestions, 1)
	assert.Equal(t, "r1", suggestions[0].RequestID)
	assert.Equal(t, "low", suggestions[0].Edit.StrokeID)

	next = ApplyReplaceStroke(next, suggestions[0].Edit)
	assert.Empty(t, next.Strokes)
	assert.Len(t, next.MotCommands, 2)
}

func TestUndoRedo(t *testing.T) {
	s := NewState(canvas)
	assert.Equal(t, s, Undo(s))
	assert.Equal(t, s, Redo(s))

	s = CommitStroke(s, stroke("a"))
	s = CommitStroke(s, stroke("b"))
	s = Undo(s)
	s = Undo(s)
	require.Len(t, s.UndoneStrokes, 2)
	assert.Equal(t, "a", s.UndoneStrokes[0].ID)

	s = Redo(s)
	require.Len(t, s.Strokes, 1)
	assert.Equal(t, "a", s.Strokes[0].ID)

	s = CommitStroke(s, stroke("c"))
	assert.Empty(t, s.UndoneStrokes)
}

func TestAddPointSkipsDuplicates(t *testing.T) {
	st := stroke("a")
	st = AddPoint(st, protocol.Point{X: 1, Y: 1})
	assert.Len(t, st.Points, 1)
	st = AddPoint(st, protocol.Point{X: 2, Y: 1})
	assert.Len(t, st.Points, 2)
}

func TestPending(t *testing.T) {
	p := NewPending()
	p.Add("r1", "draw")
	p.Add("r2", "write")
	text, ok := p.Resolve("r2")
	assert.True(t, ok)
	assert.Equal(t, "write", text)
	_, ok = p.Resolve("r2")
	assert.False(t, ok)
	assert.Equal(t, 1, p.Len())
}

func TestPendingReplyBeforeAdd(t *testing.T) {
	p := NewPending()
	_, ok := p.Resolve("r1")
	assert.False(t, ok)
	assert.False(t, p.Add("r1", "draw"), "reply already arrived")
	assert.Equal(t, 0, p.Len())

	assert.True(t, p.Add("r1", "again"))
	assert.Equal(t, 1, p.Len())
}

func TestPendingEarlyBounded(t *testing.T) {
	p := NewPending()
	for i := 0; i < maxEarly+10; i++ {
		p.Resolve(fmt.Sprintf("x%d", i))
	}
	assert.Len(t, p.early, maxEarly)
	assert.True(t, p.Add("x0", "evicted"), "oldest early id forgotten")
	assert.False(t, p.Add(fmt.Sprintf("x%d", maxEarly+9), "kept"))
}
