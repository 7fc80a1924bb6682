package commands

import (
	"math"
	"strings"

	"MotPad/module/protocol"
)

const (
	DefaultStrokeColor = "#1e3a8a"
	DefaultStrokeWidth = 3.0
	DefaultFontSize    = 20.0

	minWidth, maxWidth = 1.0, 40.0
	minFont, maxFont   = 8.0, 96.0
)

// Result 单条指令校验结果
type Result struct {
	OK      bool
	Command protocol.Command
	Reason  string
}

func reject(reason string) Result { return Result{Reason: reason} }

func accept(c protocol.Command) Result { return Result{OK: true, Command: c} }

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

func finitePoint(p *protocol.Point) bool {
	return p != nil && finite(&p.X) && finite(&p.Y)
}

func clampPoint(p protocol.Point, c protocol.Canvas) protocol.Point {
	return protocol.Point{
		X: protocol.ClampPx(p.X, 0, c.Width),
		Y: protocol.ClampPx(p.Y, 0, c.Height),
	}
}

func clampWidth(v *float64) *float64 {
	if v == nil || !finite(v) {
		return protocol.Num(DefaultStrokeWidth)
	}
	return protocol.Num(math.Min(maxWidth, math.Max(minWidth, *v)))
}

func clampFont(v *float64) *float64 {
	if v == nil || !finite(v) {
		return protocol.Num(DefaultFontSize)
	}
	return protocol.Num(math.Min(maxFont, math.Max(minFont, *v)))
}

func colorOr(v *string) *string {
	if v == nil {
		return protocol.Str(DefaultStrokeColor)
	}
	return v
}

// Validate 校验并规范化单条指令：填默认值、裁剪几何到画布内
func Validate(cmd protocol.Command, canvas protocol.Canvas) Result {
	switch cmd.Kind {
	case protocol.KindClear:
		return accept(protocol.Clear())

	case protocol.KindLine:
		if cmd.From == nil || cmd.To == nil {
			return reject("line missing from/to")
		}
		if !finitePoint(cmd.From) || !finitePoint(cmd.To) {
			return reject("line has non-numeric coords")
		}
		from, to := clampPoint(*cmd.From, canvas), clampPoint(*cmd.To, canvas)
		return accept(protocol.Command{
			Kind:  protocol.KindLine,
			From:  &from,
			To:    &to,
			Color: colorOr(cmd.Color),
			Width: clampWidth(cmd.Width),
		})

	case protocol.KindPolyline:
		if len(cmd.Points) < 2 {
			return reject("polyline needs 2+ points")
		}
		pts := make([]protocol.Point, 0, len(cmd.Points))
		for i := range cmd.Points {
			if !finitePoint(&cmd.Points[i]) {
				return reject("polyline has non-numeric point")
			}
			pts = append(pts, clampPoint(cmd.Points[i], canvas))
		}
		return accept(protocol.Command{
			Kind:   protocol.KindPolyline,
			Points: pts,
			Color:  colorOr(cmd.Color),
			Width:  clampWidth(cmd.Width),
		})

	case protocol.KindRect:
		if !finite(cmd.X) || !finite(cmd.Y) || !finite(cmd.W) || !finite(cmd.H) {
			return reject("rect has non-numeric fields")
		}
		x, y, w, h := *cmd.X, *cmd.Y, *cmd.W, *cmd.H
		// 负宽高：平移原点，保持同一区域
		if w < 0 {
			x += w
			w = -w
		}
		if h < 0 {
			y += h
			h = -h
		}
		return accept(protocol.Command{
			Kind:        protocol.KindRect,
			X:           protocol.Num(protocol.ClampPx(x, 0, canvas.Width)),
			Y:           protocol.Num(protocol.ClampPx(y, 0, canvas.Height)),
			W:           protocol.Num(protocol.ClampPx(w, 0, canvas.Width)),
			H:           protocol.Num(protocol.ClampPx(h, 0, canvas.Height)),
			StrokeColor: colorOr(cmd.StrokeColor),
			StrokeWidth: clampWidth(cmd.StrokeWidth),
			FillColor:   cmd.FillColor,
		})

	case protocol.KindCircle:
		if !finite(cmd.CX) || !finite(cmd.CY) || !finite(cmd.R) {
			return reject("circle has non-numeric fields")
		}
		return accept(protocol.Command{
			Kind:        protocol.KindCircle,
			CX:          protocol.Num(protocol.ClampPx(*cmd.CX, 0, canvas.Width)),
			CY:          protocol.Num(protocol.ClampPx(*cmd.CY, 0, canvas.Height)),
			R:           protocol.Num(protocol.ClampPx(*cmd.R, 0, math.Max(canvas.Width, canvas.Height))),
			StrokeColor: colorOr(cmd.StrokeColor),
			StrokeWidth: clampWidth(cmd.StrokeWidth),
			FillColor:   cmd.FillColor,
		})

	case protocol.KindText:
		if !finite(cmd.X) || !finite(cmd.Y) {
			return reject("text has non-numeric x/y")
		}
		if cmd.Text == nil || strings.TrimSpace(*cmd.Text) == "" {
			return reject("text missing")
		}
		return accept(protocol.Command{
			Kind:     protocol.KindText,
			X:        protocol.Num(protocol.ClampPx(*cmd.X, 0, canvas.Width)),
			Y:        protocol.Num(protocol.ClampPx(*cmd.Y, 0, canvas.Height)),
			Text:     protocol.Str(*cmd.Text),
			FontSize: clampFont(cmd.FontSize),
			Color:    colorOr(cmd.Color),
		})
	}
	return reject("unknown command kind")
}

// ValidateAll 逐条校验，非法的单独丢弃
func ValidateAll(cmds []protocol.Command, canvas protocol.Canvas) []protocol.Command {
	out := make([]protocol.Command, 0, len(cmds))
	for _, c := range cmds {
		if r := Validate(c, canvas); r.OK {
			out = append(out, r.Command)
		}
	}
	return out
}

// ValidateEdits 只保留 replaceStroke，replacement 截断到上限后再校验
func ValidateEdits(edits []protocol.Edit, canvas protocol.Canvas) []protocol.Edit {
	out := make([]protocol.Edit, 0, len(edits))
	for _, e := range edits {
		if e.Op != protocol.EditOpReplaceStroke || e.StrokeID == "" {
			continue
		}
		conf := e.Confidence
		if math.IsNaN(conf) {
			conf = 0
		}
		out = append(out, protocol.Edit{
			Op:          e.Op,
			StrokeID:    e.StrokeID,
			Replacement: ValidateAll(Cap(e.Replacement), canvas),
			Confidence:  math.Min(1, math.Max(0, conf)),
		})
	}
	return out
}

// Cap 截断到 MaxCommands
func Cap(cmds []protocol.Command) []protocol.Command {
	if len(cmds) > protocol.MaxCommands {
		return cmds[:protocol.MaxCommands]
	}
	return cmds
}
