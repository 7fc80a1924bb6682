package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"MotPad/module/notepad"
	"MotPad/module/protocol"
	"MotPad/service/negotiate"
	"MotPad/service/pubsub"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNegotiator struct {
	mu    sync.Mutex
	calls int
	errs  []error // 依次返回，用完后成功
}

func (f *fakeNegotiator) Negotiate(_ context.Context, sessionID string) (negotiate.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return negotiate.Result{}, err
	}
	return negotiate.Result{URL: "ws://hub/client", Hub: "mot", Group: protocol.GroupForSession(sessionID)}, nil
}

func (f *fakeNegotiator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeConn struct {
	mu      sync.Mutex
	params  pubsub.ConnParams
	stopped bool
}

func (c *fakeConn) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

func (c *fakeConn) Debug() pubsub.Debug { return pubsub.Debug{Group: c.params.Group} }

type connRecorder struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (r *connRecorder) connect(p pubsub.ConnParams) Conn {
	c := &fakeConn{params: p}
	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.mu.Unlock()
	return c
}

func (r *connRecorder) last() *fakeConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return nil
	}
	return r.conns[len(r.conns)-1]
}

func canvasState() notepad.State {
	return notepad.NewState(protocol.Canvas{Width: 800, Height: 600, Dpr: 1})
}

func collect(t Transport) (<-chan notepad.Reply, func()) {
	ch := make(chan notepad.Reply, 8)
	unsub := t.OnReply(func(r notepad.Reply) { ch <- r })
	return ch, unsub
}

func recv(t *testing.T, ch <-chan notepad.Reply) notepad.Reply {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return notepad.Reply{}
	}
}

func TestBestEffortRealtimeOnSuccess(t *testing.T) {
	rec := &connRecorder{}
	tr := NewBestEffort(context.Background(), RealtimeParams{
		SessionID:  "abc",
		Negotiator: &fakeNegotiator{},
		Connect:    rec.connect,
	})
	defer tr.Dispose(context.Background())

	assert.Equal(t, ModeRealtime, tr.ModeLabel())
	assert.Equal(t, StatusConnected, tr.Status())
	require.NotNil(t, rec.last())
	assert.Equal(t, "session-abc", rec.last().params.Group)
	assert.Equal(t, "ws://hub/client", rec.last().params.URL)
}

func TestBestEffortStubOn404(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusNotImplemented} {
		neg := &fakeNegotiator{errs: []error{&negotiate.NegotiateError{Kind: negotiate.KindNon2xx, HTTPStatus: status}}}
		tr := NewBestEffort(context.Background(), RealtimeParams{SessionID: "abc", Negotiator: neg, Connect: (&connRecorder{}).connect})
		assert.Equal(t, ModeStub, tr.ModeLabel(), "status %d", status)
		assert.Equal(t, StatusStub, tr.Status())
	}
}

func TestBestEffortStaysRealtimeOnOtherFailures(t *testing.T) {
	cases := []error{
		&negotiate.NegotiateError{Kind: negotiate.KindNetwork, Err: errors.New("dial tcp: refused")},
		&negotiate.NegotiateError{Kind: negotiate.KindNonJSON, Redirected: true, ContentType: "text/html"},
		&negotiate.NegotiateError{Kind: negotiate.KindMalformedBody},
		&negotiate.NegotiateError{Kind: negotiate.KindNon2xx, HTTPStatus: http.StatusInternalServerError},
	}
	for _, e := range cases {
		neg := &fakeNegotiator{errs: []error{e}}
		tr := NewBestEffort(context.Background(), RealtimeParams{
			SessionID:  "abc",
			Negotiator: neg,
			Backoff:    pubsub.NewBackoff(time.Hour),
			Connect:    (&connRecorder{}).connect,
		})
		assert.Equal(t, ModeRealtime, tr.ModeLabel(), e.Error())
		assert.Equal(t, StatusDisconnected, tr.Status(), e.Error())
		_ = tr.Dispose(context.Background())
	}
}

func TestBackgroundRetryRecovers(t *testing.T) {
	network := &negotiate.NegotiateError{Kind: negotiate.KindNetwork}
	neg := &fakeNegotiator{errs: []error{network, network}}
	rec := &connRecorder{}
	bo := pubsub.NewBackoff(5*time.Millisecond, 10*time.Millisecond)

	tr := NewBestEffort(context.Background(), RealtimeParams{SessionID: "abc", Negotiator: neg, Backoff: bo, Connect: rec.connect})
	defer tr.Dispose(context.Background())

	assert.Eventually(t, func() bool {
		return tr.Status() == StatusConnected && bo.Attempt() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, neg.Calls())
	require.NotNil(t, rec.last())
}

func TestRealtimeRepliesFilteredBySession(t *testing.T) {
	rec := &connRecorder{}
	tr := NewRealtime(RealtimeParams{SessionID: "abc", Negotiator: &fakeNegotiator{}, Connect: rec.connect})
	require.NoError(t, tr.Init(context.Background()))
	ch, _ := collect(tr)

	h := rec.last().params.Handlers
	other, _ := json.Marshal(protocol.NewResponseEvent("r0", "zzz", "not mine", nil, nil))
	h.OnServerMessage(other)
	h.OnServerMessage([]byte(`not json`))
	mine, _ := json.Marshal(protocol.NewResponseEvent("r1", "abc", "hi", []protocol.Command{protocol.Clear()}, nil))
	h.OnServerMessage(mine)

	r := recv(t, ch)
	assert.Equal(t, "r1", r.RequestID)
	assert.Equal(t, "hi", r.ReplyText)
	assert.Len(t, r.Commands, 1)
	assert.False(t, r.Failed)

	h.OnDisconnected()
	assert.Equal(t, StatusDisconnected, tr.Status())
	assert.False(t, tr.Debug().Connected)
	h.OnConnected()
	assert.Equal(t, StatusConnected, tr.Status())
	assert.True(t, tr.Debug().Connected)

	require.NoError(t, tr.Dispose(context.Background()))
	assert.True(t, rec.last().stopped)
}

func TestRealtimeSendPostsToIngress(t *testing.T) {
	var got protocol.RequestMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, RequestsPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"requestId": got.RequestID, "ok": true})
	}))
	defer srv.Close()

	tr := NewRealtime(RealtimeParams{SessionID: "abc", APIBase: srv.URL, Negotiator: &fakeNegotiator{}, Connect: (&connRecorder{}).connect})
	require.NoError(t, tr.Init(context.Background()))

	id, err := tr.SendChat(context.Background(), "draw a circle", canvasState())
	require.NoError(t, err)
	assert.Equal(t, id, got.RequestID)
	assert.Equal(t, "abc", got.SessionID)
	assert.Equal(t, protocol.TypeChatDraw, got.Type)
	assert.Equal(t, 1, got.V)
	assert.Equal(t, "draw a circle", got.Payload.Text)
	assert.Equal(t, 800.0, got.Payload.Canvas.Width)
	assert.Equal(t, id, tr.Debug().LastRequestID)

	stroke := protocol.Stroke{ID: "s1", Color: "#000", Width: 99, Points: []protocol.Point{{X: -5, Y: 10}, {X: 900, Y: 700}}}
	id, err = tr.SendStrokeSharpen(context.Background(), stroke, canvasState())
	require.NoError(t, err)
	assert.Equal(t, id, got.RequestID)
	assert.Equal(t, protocol.TypeStrokeSharpen, got.Type)
	require.NotNil(t, got.Payload.Stroke)
	assert.Equal(t, 30.0, got.Payload.Stroke.Width)
	assert.Equal(t, protocol.Point{X: 0, Y: 10}, got.Payload.Stroke.Points[0])
	assert.Equal(t, protocol.Point{X: 800, Y: 600}, got.Payload.Stroke.Points[1])
}

func TestRealtimeSendFailureEmitsLocalReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewRealtime(RealtimeParams{SessionID: "abc", APIBase: srv.URL, Negotiator: &fakeNegotiator{}, Connect: (&connRecorder{}).connect})
	require.NoError(t, tr.Init(context.Background()))
	ch, _ := collect(tr)

	id, err := tr.SendChat(context.Background(), "hello", canvasState())
	require.Error(t, err)
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, id, terr.RequestID)

	r := recv(t, ch)
	assert.Equal(t, id, r.RequestID)
	assert.True(t, r.Failed)
	assert.Contains(t, r.ReplyText, "Request failed: ")
	assert.Contains(t, r.ReplyText, "503")
}

func TestStubRepliesAsync(t *testing.T) {
	tr := NewStub("abc")
	require.NoError(t, tr.Init(context.Background()))

	var mu sync.Mutex
	returned := false
	ch := make(chan bool, 1)
	tr.OnReply(func(notepad.Reply) {
		mu.Lock()
		ch <- returned
		mu.Unlock()
	})

	mu.Lock()
	id, err := tr.SendChat(context.Background(), "draw a circle", canvasState())
	returned = true
	mu.Unlock()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case sawReturn := <-ch:
		assert.True(t, sawReturn, "reply delivered before send returned")
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
	assert.Equal(t, id, tr.Debug().LastRequestID)
}

func TestStubCircleEndToEnd(t *testing.T) {
	tr := NewStub("abc")
	ch, _ := collect(tr)

	id, err := tr.SendChat(context.Background(), "draw a circle", canvasState())
	require.NoError(t, err)
	r := recv(t, ch)
	assert.Equal(t, id, r.RequestID)
	assert.Equal(t, "Drawing a circle in the center.", r.ReplyText)
	require.Len(t, r.Commands, 1)
	c := r.Commands[0]
	assert.Equal(t, protocol.KindCircle, c.Kind)
	assert.InDelta(t, 400, *c.CX, 0.001)
	assert.InDelta(t, 300, *c.CY, 0.001)
	assert.InDelta(t, 0.22*600, *c.R, 0.001)
}

func TestStubStrokeSharpenEmpty(t *testing.T) {
	tr := NewStub("abc")
	ch, _ := collect(tr)
	id, err := tr.SendStrokeSharpen(context.Background(), protocol.Stroke{ID: "s"}, canvasState())
	require.NoError(t, err)
	r := recv(t, ch)
	assert.Equal(t, id, r.RequestID)
	assert.Empty(t, r.ReplyText)
	assert.Empty(t, r.Commands)
	assert.Empty(t, r.Edits)
}

func TestRegistryMultipleSubscribersAndIdempotentUnsubscribe(t *testing.T) {
	reg := newReplyRegistry()
	var a, b int
	unsubA := reg.add(func(notepad.Reply) { a++ })
	reg.add(func(notepad.Reply) { b++ })

	reg.emit(notepad.Reply{RequestID: "1"})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)

	unsubA()
	unsubA()
	reg.emit(notepad.Reply{RequestID: "2"})
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestRegistrySubscriberPanicDoesNotStopOthers(t *testing.T) {
	reg := newReplyRegistry()
	got := 0
	reg.add(func(notepad.Reply) { panic("boom") })
	reg.add(func(notepad.Reply) { got++ })
	reg.emit(notepad.Reply{})
	assert.Equal(t, 1, got)
}

func TestInitDisposedDuringConnectStopsConn(t *testing.T) {
	rec := &connRecorder{}
	var tr *Realtime
	tr = NewRealtime(RealtimeParams{SessionID: "abc", Negotiator: &fakeNegotiator{}, Connect: func(p pubsub.ConnParams) Conn {
		c := rec.connect(p)
		_ = tr.Dispose(context.Background())
		return c
	}})

	require.Error(t, tr.Init(context.Background()))
	c := rec.last()
	require.NotNil(t, c)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.True(t, c.stopped)
	_, ok := tr.ConnDebug()
	assert.False(t, ok)
}
