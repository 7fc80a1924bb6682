// Package worker 队列消费：调用模型、校验指令、把回复广播到会话组。
package worker

import (
	"context"
	"strings"
	"time"

	"MotPad/global/config"
	"MotPad/module/commands"
	"MotPad/module/protocol"
	"MotPad/service/model"
	"MotPad/service/natsx"
	"MotPad/service/publisher"
	"MotPad/tools"
	"MotPad/tools/decode"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// 画布缺省尺寸
const (
	DefaultCanvasWidth  = 800
	DefaultCanvasHeight = 600
)

// Queue 拉取消费能力，由 natsx.NatsManager 实现
type Queue interface {
	Consume(ctx context.Context, batch, concurrency int, h natsx.NatsxHandler) error
}

type Options struct {
	Prefetch          int
	Concurrency       int
	MaxDeliveries     int
	MaxLockRenewal    time.Duration
	LockRenewInterval time.Duration
	IdemTTL           time.Duration
	Verbose           bool
}

func OptionsFromConfig(c config.WorkerConfig) Options {
	return Options{
		Prefetch:          c.PrefetchCount,
		Concurrency:       c.MaxConcurrentCalls,
		MaxDeliveries:     c.MaxDeliveries,
		MaxLockRenewal:    c.MaxLockRenewal,
		LockRenewInterval: c.LockRenewInterval,
		IdemTTL:           c.IdemTTL,
		Verbose:           c.Verbose,
	}
}

func (o *Options) norm() {
	if o.Prefetch <= 0 {
		o.Prefetch = 20
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 5
	}
	if o.MaxLockRenewal <= 0 {
		o.MaxLockRenewal = 5 * time.Minute
	}
	if o.LockRenewInterval <= 0 {
		o.LockRenewInterval = 10 * time.Second
	}
}

type Worker struct {
	o     Options
	model model.Completer
	pub   publisher.Publisher
	idem  natsx.IdemStore // 可为 nil
	log   *zap.Logger
}

func New(o Options, m model.Completer, pub publisher.Publisher, idem natsx.IdemStore, log *zap.Logger) *Worker {
	o.norm()
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{o: o, model: m, pub: pub, idem: idem, log: log}
}

// Run 阻塞消费直到 ctx 结束
func (w *Worker) Run(ctx context.Context, q Queue) error {
	w.log.Info("worker starting",
		zap.Int("prefetch", w.o.Prefetch),
		zap.Int("concurrency", w.o.Concurrency),
		zap.Int("maxDeliveries", w.o.MaxDeliveries))
	return q.Consume(ctx, w.o.Prefetch, w.o.Concurrency, w.Handle)
}

// RequestKey 幂等 key：优先取 Nats-Msg-Id（入队时即 requestId），否则读消息体
func RequestKey(d natsx.Delivery) string {
	if id := strings.TrimSpace(d.Header()[natsx.HdrMsgID]); id != "" {
		return id
	}
	m, err := decode.JSONMap(d.Body())
	if err != nil {
		return ""
	}
	id, _ := decode.ReadString(m, "requestId")
	return id
}

// Handle 处理一条投递，并且只结算一次
func (w *Worker) Handle(ctx context.Context, d natsx.Delivery) error {
	m, err := decode.JSONMap(d.Body())
	var requestID, sessionID string
	okR, okS := false, false
	if err == nil {
		requestID, okR = decode.ReadString(m, "requestId")
		sessionID, okS = decode.ReadString(m, "sessionId")
	}
	if !okR || !okS {
		w.log.Warn("invalid message (missing requestId/sessionId), dead-lettering", zap.Int("deliveryCount", d.DeliveryCount()))
		return d.DeadLetter(ctx, ReasonInvalidMessage, "Missing requestId/sessionId")
	}
	log := w.log.With(zap.String("requestId", requestID), zap.String("sessionId", sessionID))

	if w.o.Verbose {
		log.Info("verbose: incoming message body", zap.ByteString("body", d.Body()))
	}

	req, err := decode.DecodeMap[protocol.RequestMessage](m)
	if err != nil {
		log.Warn("undecodable message, dead-lettering", zap.Error(err))
		return d.DeadLetter(ctx, ReasonInvalidMessage, protocol.TruncateRunes(err.Error(), maxDeadLetterDesc))
	}
	req.RequestID, req.SessionID = requestID, sessionID

	stopRenew := w.renewLock(ctx, d, log)
	defer stopRenew()

	evt, err := w.Process(ctx, req)
	if err == nil {
		if w.o.Verbose {
			log.Info("verbose: outgoing event", zap.Any("event", evt))
		}
		if perr := w.pub.SendToGroup(ctx, protocol.GroupForSession(sessionID), evt); perr != nil {
			err = &ProcessingError{RequestID: requestID, SessionID: sessionID, Stage: StagePublish, Err: perr}
		}
	}
	if err != nil {
		return w.fail(ctx, d, log, err)
	}

	if w.idem != nil {
		if merr := w.idem.Mark(ctx, requestID, w.o.IdemTTL); merr != nil {
			log.Warn("idem mark failed", zap.Error(merr))
		}
	}
	if err := d.Complete(ctx); err != nil {
		return errors.Wrap(err, "complete")
	}
	log.Info("processed", zap.Int("commands", len(evt.Commands)), zap.Int("edits", len(evt.Edits)))
	return nil
}

// Process 模型调用 + 解析 + 服务端校验
func (w *Worker) Process(ctx context.Context, req *protocol.RequestMessage) (protocol.ResponseEvent, error) {
	log := w.log.With(zap.String("requestId", req.RequestID), zap.String("sessionId", req.SessionID))

	userText := model.BuildUserText(req)
	if w.o.Verbose {
		log.Info("verbose: calling model", zap.String("userText", tools.Snippet(userText, 800)))
	}
	text, err := w.model.Complete(ctx, req.SessionID, userText)
	if err != nil {
		return protocol.ResponseEvent{}, &ProcessingError{RequestID: req.RequestID, SessionID: req.SessionID, Stage: StageModel, Err: err}
	}
	if w.o.Verbose {
		log.Info("verbose: raw model text", zap.String("modelText", text))
	}

	out, err := model.ParseModelJSON(text)
	if err != nil {
		log.Error("model returned invalid JSON", zap.Error(err), zap.String("modelText", text))
		return protocol.ResponseEvent{}, &ProcessingError{RequestID: req.RequestID, SessionID: req.SessionID, Stage: StageParse, Err: err}
	}

	canvas := CanvasOrDefault(req.Payload.Canvas)
	cmds := commands.ValidateAll(commands.Cap(out.Commands), canvas)
	edits := commands.ValidateEdits(out.Edits, canvas)
	if w.o.Verbose {
		log.Info("verbose: parsed result",
			zap.Int("replyTextLen", len([]rune(out.ReplyText))),
			zap.Int("commands", len(out.Commands)),
			zap.Int("commandsKept", len(cmds)),
			zap.Strings("kinds", kinds(out.Commands, 10)),
			zap.Int("edits", len(edits)))
	}
	return protocol.NewResponseEvent(req.RequestID, req.SessionID, out.ReplyText, cmds, edits), nil
}

// fail 投递次数达到上限进死信，否则放回队列重投
func (w *Worker) fail(ctx context.Context, d natsx.Delivery, log *zap.Logger, cause error) error {
	dc := d.DeliveryCount()
	log.Error("processing failed", zap.Int("deliveryCount", dc), zap.Error(cause))
	var settle error
	if dc >= w.o.MaxDeliveries {
		settle = d.DeadLetter(ctx, ReasonProcessingFailed, protocol.TruncateRunes(cause.Error(), maxDeadLetterDesc))
	} else {
		settle = d.Abandon(ctx)
	}
	if settle != nil {
		log.Warn("settle failed", zap.Error(settle))
		return errors.Wrapf(cause, "settle: %v", settle)
	}
	return cause
}

// renewLock 处理期间定时续租，最长 MaxLockRenewal
func (w *Worker) renewLock(ctx context.Context, d natsx.Delivery, log *zap.Logger) (stop func()) {
	done := make(chan struct{})
	deadline := time.Now().Add(w.o.MaxLockRenewal)
	go func() {
		t := time.NewTicker(w.o.LockRenewInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case now := <-t.C:
				if now.After(deadline) {
					log.Warn("lock renewal limit reached", zap.Duration("max", w.o.MaxLockRenewal))
					return
				}
				if err := d.RenewLock(ctx); err != nil {
					log.Debug("renew lock failed", zap.Error(err))
				}
			}
		}
	}()
	return func() { close(done) }
}

// CanvasOrDefault 宽高缺失时按 800×600
func CanvasOrDefault(c protocol.Canvas) protocol.Canvas {
	if !(c.Width > 0) {
		c.Width = DefaultCanvasWidth
	}
	if !(c.Height > 0) {
		c.Height = DefaultCanvasHeight
	}
	return c
}

func kinds(cmds []protocol.Command, max int) []string {
	out := make([]string, 0, max)
	for i, c := range cmds {
		if i >= max {
			break
		}
		out = append(out, string(c.Kind))
	}
	return out
}
