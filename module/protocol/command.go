package protocol

import (
	"bytes"
	"encoding/json"
)

type CommandKind string

const (
	KindClear    CommandKind = "clear"
	KindLine     CommandKind = "line"
	KindPolyline CommandKind = "polyline"
	KindRect     CommandKind = "rect"
	KindCircle   CommandKind = "circle"
	KindText     CommandKind = "text"
)

// Command 绘图指令。按 Kind 只使用对应字段，其余为 nil
type Command struct {
	Kind CommandKind `json:"kind"`

	// line
	From *Point `json:"from,omitempty"`
	To   *Point `json:"to,omitempty"`
	// polyline
	Points []Point `json:"points,omitempty"`
	// rect / text
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	W *float64 `json:"w,omitempty"`
	H *float64 `json:"h,omitempty"`
	// circle
	CX *float64 `json:"cx,omitempty"`
	CY *float64 `json:"cy,omitempty"`
	R  *float64 `json:"r,omitempty"`
	// text
	Text     *string  `json:"text,omitempty"`
	FontSize *float64 `json:"fontSize,omitempty"`

	// line / polyline / text
	Color *string  `json:"color,omitempty"`
	Width *float64 `json:"width,omitempty"`
	// rect / circle
	StrokeColor *string  `json:"strokeColor,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
	FillColor   *string  `json:"fillColor,omitempty"`
}

func Num(v float64) *float64 { return &v }
func Str(s string) *string   { return &s }

func Clear() Command { return Command{Kind: KindClear} }

func Line(from, to Point) Command {
	return Command{Kind: KindLine, From: &from, To: &to}
}

func Polyline(points ...Point) Command {
	return Command{Kind: KindPolyline, Points: points}
}

func Rect(x, y, w, h float64) Command {
	return Command{Kind: KindRect, X: Num(x), Y: Num(y), W: Num(w), H: Num(h)}
}

func Circle(cx, cy, r float64) Command {
	return Command{Kind: KindCircle, CX: Num(cx), CY: Num(cy), R: Num(r)}
}

func Text(x, y float64, text string) Command {
	return Command{Kind: KindText, X: Num(x), Y: Num(y), Text: Str(text)}
}

func (c Command) WithStrokeWidth(w float64) Command {
	if c.Kind == KindRect || c.Kind == KindCircle {
		c.StrokeWidth = Num(w)
	} else {
		c.Width = Num(w)
	}
	return c
}

func (c Command) WithFill(color string) Command {
	c.FillColor = Str(color)
	return c
}

func (c Command) WithFontSize(size float64) Command {
	c.FontSize = Num(size)
	return c
}

// DecodeCommands 宽容解码：逐条解析，坏的单条直接丢弃。
// raw 不是数组时返回 nil
func DecodeCommands(raw json.RawMessage) []Command {
	var items []json.RawMessage
	if !isArray(raw) || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]Command, 0, len(items))
	for _, it := range items {
		var c Command
		if err := json.Unmarshal(it, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DecodeEdits 同 DecodeCommands，replacement 内部同样逐条容错
func DecodeEdits(raw json.RawMessage) []Edit {
	var items []json.RawMessage
	if !isArray(raw) || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]Edit, 0, len(items))
	for _, it := range items {
		var e struct {
			Op          string          `json:"op"`
			StrokeID    string          `json:"strokeId"`
			Replacement json.RawMessage `json:"replacement"`
			Confidence  float64         `json:"confidence"`
		}
		if err := json.Unmarshal(it, &e); err != nil {
			continue
		}
		out = append(out, Edit{
			Op:          e.Op,
			StrokeID:    e.StrokeID,
			Replacement: DecodeCommands(e.Replacement),
			Confidence:  e.Confidence,
		})
	}
	return out
}

func isArray(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) > 0 && b[0] == '['
}
