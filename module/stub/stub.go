// Package stub 本地规则应答器：无网络时的兜底，输出绝对像素坐标。
package stub

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"MotPad/module/notepad"
	"MotPad/module/protocol"
)

const (
	motBlue  = "#1e3a8a"
	helpText = "Give me something to draw (e.g. “draw a house”, “draw a circle”, “write hello”)."
)

var writeRe = regexp.MustCompile(`(?i)\b(write|text)\s+(.+)`)

// Response 规则匹配结果
type Response struct {
	ReplyText string
	Commands  []protocol.Command
}

func includesAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// frame 把 [0,1] 比例换算到画布像素
type frame struct{ w, h float64 }

func (f frame) x(v float64) float64 { return v * f.w }
func (f frame) y(v float64) float64 { return v * f.h }
func (f frame) r(v float64) float64 { return v * math.Min(f.w, f.h) }
func (f frame) pt(x, y float64) protocol.Point {
	return protocol.Point{X: f.x(x), Y: f.y(y)}
}

func colored(c protocol.Command, color string) protocol.Command {
	if c.Kind == protocol.KindRect || c.Kind == protocol.KindCircle {
		c.StrokeColor = protocol.Str(color)
	} else {
		c.Color = protocol.Str(color)
	}
	return c
}

// Respond 按固定顺序匹配意图：clear、write、circle、rectangle、house、smiley，否则给出帮助
func Respond(message string, state notepad.State) Response {
	raw := strings.TrimSpace(message)
	m := strings.ToLower(raw)
	f := frame{w: state.Canvas.Width, h: state.Canvas.Height}

	if m == "" {
		return Response{ReplyText: helpText}
	}

	if includesAny(m, "clear canvas", "clear", "erase everything", "reset") {
		return Response{ReplyText: "Clearing the canvas.", Commands: []protocol.Command{protocol.Clear()}}
	}

	if mt := writeRe.FindStringSubmatch(raw); mt != nil {
		text := strings.TrimSpace(mt[2])
		text = strings.TrimSuffix(strings.TrimPrefix(text, `"`), `"`)
		return Response{
			ReplyText: fmt.Sprintf("Writing “%s”.", text),
			Commands: []protocol.Command{
				colored(protocol.Text(f.x(0.08), f.y(0.08), text).WithFontSize(28), motBlue),
			},
		}
	}

	if includesAny(m, "circle") {
		return Response{
			ReplyText: "Drawing a circle in the center.",
			Commands: []protocol.Command{
				colored(protocol.Circle(f.x(0.5), f.y(0.5), f.r(0.22)), motBlue).
					WithStrokeWidth(4).WithFill("rgba(30, 58, 138, 0.08)"),
			},
		}
	}

	if includesAny(m, "rectangle", "rect", "box") {
		return Response{
			ReplyText: "Drawing a rectangle.",
			Commands: []protocol.Command{
				colored(protocol.Rect(f.x(0.2), f.y(0.25), f.x(0.6), f.y(0.45)), motBlue).
					WithStrokeWidth(4).WithFill("rgba(30, 58, 138, 0.06)"),
			},
		}
	}

	if includesAny(m, "house") {
		return Response{
			ReplyText: "Drawing a simple house (base + roof + door).",
			Commands: []protocol.Command{
				colored(protocol.Rect(f.x(0.25), f.y(0.45), f.x(0.5), f.y(0.35)), motBlue).
					WithStrokeWidth(4).WithFill("rgba(30, 58, 138, 0.04)"),
				colored(protocol.Polyline(f.pt(0.25, 0.45), f.pt(0.5, 0.2), f.pt(0.75, 0.45)), motBlue).
					WithStrokeWidth(4),
				colored(protocol.Rect(f.x(0.47), f.y(0.62), f.x(0.06), f.y(0.18)), motBlue).
					WithStrokeWidth(3).WithFill("rgba(30, 58, 138, 0.08)"),
			},
		}
	}

	if includesAny(m, "smiley", "smile", "face") {
		return Response{
			ReplyText: "Smiley coming up.",
			Commands: []protocol.Command{
				colored(protocol.Circle(f.x(0.5), f.y(0.5), f.r(0.25)), motBlue).WithStrokeWidth(4),
				protocol.Circle(f.x(0.42), f.y(0.45), f.r(0.03)).WithFill(motBlue),
				protocol.Circle(f.x(0.58), f.y(0.45), f.r(0.03)).WithFill(motBlue),
				colored(protocol.Polyline(f.pt(0.4, 0.6), f.pt(0.5, 0.67), f.pt(0.6, 0.6)), motBlue).
					WithStrokeWidth(4),
			},
		}
	}

	ctx := fmt.Sprintf("Currently: %d user stroke(s), %d Mot command(s).", len(state.Strokes), len(state.MotCommands))
	return Response{
		ReplyText: "I can do a few MVP intents right now: “draw a circle”, “draw a house”, “draw a rectangle”, or “write hello”. " + ctx,
		Commands: []protocol.Command{
			colored(protocol.Text(f.x(0.08), f.y(0.14), "Unknown intent: "+raw).WithFontSize(16), "rgba(30, 58, 138, 0.9)"),
			colored(protocol.Polyline(f.pt(0.08, 0.2), f.pt(0.4, 0.2)), "rgba(30, 58, 138, 0.35)").WithStrokeWidth(3),
		},
	}
}
