package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"MotPad/global/config"
	"MotPad/logger"
	"MotPad/module/protocol"
	"MotPad/service/transport"
	"MotPad/tools/ids"

	"go.uber.org/zap"
)

var configPath = flag.String("config", "", "config file (json/yaml/toml)")

const help = `commands:
  <text>                 ask Mot to draw
  /stroke x,y x,y ...    draw a stroke and ask Mot to sharpen it
  /undo  /redo           user stroke history
  /suggestions           low-confidence edits from Mot
  /apply <n>             apply suggestion n
  /state                 canvas summary
  /debug                 transport debug info
  /quit`

func main() {
	flag.Parse()
	if envPath := os.Getenv("MOT_CONFIG"); envPath != "" {
		*configPath = envPath
	}
	cfg := config.MustLoad(*configPath)
	logger.Init(cfg.Log.Level)
	defer logger.Sync()
	log := logger.Named("motpad")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := cfg.Client.SessionID
	if sessionID == "" {
		sessionID = ids.NewSessionID()
	}
	canvas := protocol.Canvas{Width: cfg.Client.CanvasWidth, Height: cfg.Client.CanvasHeight, Dpr: 1}

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	tr := transport.NewBestEffort(initCtx, transport.RealtimeParams{
		SessionID: sessionID,
		APIBase:   cfg.Client.APIBase,
		Logger:    log,
	})
	cancel()
	defer func() { _ = tr.Dispose(context.Background()) }()

	p := newPad(canvas, os.Stdout)
	unsubscribe := tr.OnReply(p.onReply)
	defer unsubscribe()

	fmt.Printf("session %s, mode %s, status %s\n%s\n", sessionID, tr.ModeLabel(), tr.Status(), help)

	lines := make(chan string)
	go readLines(os.Stdin, lines)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !run(ctx, tr, p, line) {
				return
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// run 执行一行输入，返回 false 表示退出
func run(ctx context.Context, tr transport.Transport, p *pad, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/quit":
		return false
	case line == "/undo":
		p.undo()
	case line == "/redo":
		p.redo()
	case line == "/state":
		s := p.snapshot()
		fmt.Fprintf(p.out, "canvas %.0fx%.0f strokes=%d undone=%d mot=%d pending=%d\n",
			s.Canvas.Width, s.Canvas.Height, len(s.Strokes), len(s.UndoneStrokes), len(s.MotCommands), p.pending.Len())
	case line == "/suggestions":
		for i, sg := range p.listSuggestions() {
			fmt.Fprintf(p.out, "%d. replace stroke %s with %d commands (confidence %.0f%%) [%s]\n",
				i+1, sg.Edit.StrokeID, len(sg.Edit.Replacement), sg.Edit.Confidence*100, sg.RequestID)
		}
	case strings.HasPrefix(line, "/apply"):
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/apply")))
		if err == nil {
			err = p.applySuggestion(n)
		}
		if err != nil {
			fmt.Fprintln(p.out, "error:", err)
		}
	case line == "/debug":
		d := tr.Debug()
		fmt.Fprintf(p.out, "mode=%s status=%s connected=%v last=%s\n", d.Mode, d.Status, d.Connected, d.LastRequestID)
	case strings.HasPrefix(line, "/stroke"):
		pts, err := parsePoints(strings.TrimPrefix(line, "/stroke"))
		if err != nil {
			fmt.Fprintln(p.out, "error:", err)
			return true
		}
		st, state := p.commitStroke(pts)
		id, err := tr.SendStrokeSharpen(ctx, st, state)
		if err != nil {
			fmt.Fprintln(p.out, "send failed:", err)
			return true
		}
		p.pending.Add(id, "(sharpen "+st.ID+")")
	case strings.HasPrefix(line, "/"):
		fmt.Fprintln(p.out, help)
	default:
		id, err := tr.SendChat(ctx, line, p.snapshot())
		if err != nil {
			fmt.Fprintln(p.out, "send failed:", err)
			return true
		}
		p.pending.Add(id, line)
		logger.Debug("chat sent", zap.String("requestId", id))
	}
	return true
}
