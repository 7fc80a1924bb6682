package notepad

import (
	"sync"

	"MotPad/module/protocol"
)

func NewStroke(id, color string, width float64, start protocol.Point) protocol.Stroke {
	return protocol.Stroke{ID: id, Color: color, Width: width, Points: []protocol.Point{start}}
}

// AddPoint 与上一点重合时忽略
func AddPoint(st protocol.Stroke, p protocol.Point) protocol.Stroke {
	if n := len(st.Points); n > 0 {
		last := st.Points[n-1]
		if last.X == p.X && last.Y == p.Y {
			return st
		}
	}
	pts := make([]protocol.Point, len(st.Points), len(st.Points)+1)
	copy(pts, st.Points)
	st.Points = append(pts, p)
	return st
}

// CommitStroke 新笔画会清空 redo 栈
func CommitStroke(s State, st protocol.Stroke) State {
	strokes := make([]protocol.Stroke, len(s.Strokes), len(s.Strokes)+1)
	copy(strokes, s.Strokes)
	s.Strokes = append(strokes, st)
	s.UndoneStrokes = nil
	return s
}

func Undo(s State) State {
	n := len(s.Strokes)
	if n == 0 {
		return s
	}
	last := s.Strokes[n-1]
	s.Strokes = append([]protocol.Stroke(nil), s.Strokes[:n-1]...)
	s.UndoneStrokes = append([]protocol.Stroke{last}, s.UndoneStrokes...)
	return s
}

func Redo(s State) State {
	if len(s.UndoneStrokes) == 0 {
		return s
	}
	first := s.UndoneStrokes[0]
	s.Strokes = append(append([]protocol.Stroke(nil), s.Strokes...), first)
	s.UndoneStrokes = append([]protocol.Stroke(nil), s.UndoneStrokes[1:]...)
	return s
}

// maxEarly 提前到达回复的记忆上限，超出时丢弃最早的
const maxEarly = 256

// Pending 记录尚未收到回复的 requestId。回复可能乱序到达，只按 id 关联；
// 回复也可能先于 Add 到达（发送方异步投递），这类 id 记在 early 里
type Pending struct {
	mu         sync.Mutex
	ids        map[string]string // requestId -> user text
	early      map[string]struct{}
	earlyOrder []string
}

func NewPending() *Pending {
	return &Pending{ids: make(map[string]string), early: make(map[string]struct{})}
}

// Add 登记请求。回复已先到时不再登记，返回 false
func (p *Pending) Add(requestID, text string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.early[requestID]; ok {
		delete(p.early, requestID)
		return false
	}
	p.ids[requestID] = text
	return true
}

// Resolve 返回请求原文；未知 id 返回 ok=false 并记为提前到达
func (p *Pending) Resolve(requestID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.ids[requestID]
	if ok {
		delete(p.ids, requestID)
		return text, true
	}
	p.rememberEarly(requestID)
	return "", false
}

func (p *Pending) rememberEarly(id string) {
	if _, ok := p.early[id]; ok {
		return
	}
	p.early[id] = struct{}{}
	p.earlyOrder = append(p.earlyOrder, id)
	for len(p.earlyOrder) > maxEarly {
		delete(p.early, p.earlyOrder[0])
		p.earlyOrder = p.earlyOrder[1:]
	}
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}
