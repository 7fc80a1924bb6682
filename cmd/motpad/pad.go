package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"MotPad/module/notepad"
	"MotPad/module/protocol"
	"MotPad/tools/ids"

	"github.com/pkg/errors"
)

// pad 终端画板：本地状态 + 待回复请求
type pad struct {
	mu          sync.Mutex
	state       notepad.State
	suggestions []notepad.Suggestion
	pending     *notepad.Pending
	out         io.Writer
}

func newPad(canvas protocol.Canvas, out io.Writer) *pad {
	return &pad{state: notepad.NewState(canvas), pending: notepad.NewPending(), out: out}
}

func (p *pad) snapshot() notepad.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// onReply 回复按 requestId 关联，未知 id 也照常应用
func (p *pad) onReply(r notepad.Reply) {
	text, known := p.pending.Resolve(r.RequestID)

	var suggested []notepad.Suggestion
	p.mu.Lock()
	if !r.Failed {
		p.state, suggested = notepad.ApplyReply(p.state, r)
		p.suggestions = append(p.suggestions, suggested...)
	}
	strokes, mot := len(p.state.Strokes), len(p.state.MotCommands)
	p.mu.Unlock()

	if known {
		fmt.Fprintf(p.out, "you> %s\n", text)
	}
	fmt.Fprintf(p.out, "mot> %s  [%s] +%d commands, %d edits (strokes=%d mot=%d)\n",
		r.ReplyText, r.RequestID, len(r.Commands), len(r.Edits), strokes, mot)
	if len(suggested) > 0 {
		fmt.Fprintf(p.out, "mot> %d low-confidence edit(s) waiting, see /suggestions\n", len(suggested))
	}
}

func (p *pad) listSuggestions() []notepad.Suggestion {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notepad.Suggestion(nil), p.suggestions...)
}

// applySuggestion 按 /suggestions 的序号（从 1 开始）应用并移除一条建议
func (p *pad) applySuggestion(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 1 || n > len(p.suggestions) {
		return errors.Errorf("no suggestion #%d", n)
	}
	sg := p.suggestions[n-1]
	p.state = notepad.ApplyReplaceStroke(p.state, sg.Edit)
	p.suggestions = append(p.suggestions[:n-1:n-1], p.suggestions[n:]...)
	return nil
}

// commitStroke 把点列提交为用户笔画，返回提交后的状态
func (p *pad) commitStroke(pts []protocol.Point) (protocol.Stroke, notepad.State) {
	st := notepad.NewStroke(ids.NewRequestID(), "#111111", 3, pts[0])
	for _, pt := range pts[1:] {
		st = notepad.AddPoint(st, pt)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = notepad.CommitStroke(p.state, st)
	return st, p.state
}

func (p *pad) undo() {
	p.mu.Lock()
	p.state = notepad.Undo(p.state)
	p.mu.Unlock()
}

func (p *pad) redo() {
	p.mu.Lock()
	p.state = notepad.Redo(p.state)
	p.mu.Unlock()
}

// parsePoints "x,y x,y ..."，至少两个点
func parsePoints(s string) ([]protocol.Point, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return nil, errors.New("need at least two points")
	}
	if len(fields) > protocol.MaxStrokePoints {
		return nil, errors.Errorf("at most %d points", protocol.MaxStrokePoints)
	}
	pts := make([]protocol.Point, 0, len(fields))
	for _, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return nil, errors.Errorf("bad point %q", f)
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad x in %q", f)
		}
		y, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad y in %q", f)
		}
		pts = append(pts, protocol.Point{X: x, Y: y})
	}
	return pts, nil
}
