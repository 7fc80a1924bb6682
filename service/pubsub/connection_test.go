package pubsub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff()
	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		5000 * time.Millisecond,
		10000 * time.Millisecond,
		10000 * time.Millisecond,
	}, got)
	assert.Equal(t, 5, b.Attempt())
	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, 1000*time.Millisecond, b.Next())
}

// fakeHub 记录收到的控制帧，可按需回 ack / 主动断开
type fakeHub struct {
	t        *testing.T
	mu       sync.Mutex
	frames   []ControlFrame
	protos   []string
	conns    []*websocket.Conn
	ackOK    bool
	accepted chan *websocket.Conn
}

func newFakeHub(t *testing.T, ackOK bool) (*fakeHub, string) {
	h := &fakeHub{t: t, ackOK: ackOK, accepted: make(chan *websocket.Conn, 8)}
	up := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.protos = append(h.protos, ws.Subprotocol())
		h.conns = append(h.conns, ws)
		h.mu.Unlock()
		h.accepted <- ws
		for {
			var f ControlFrame
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			h.mu.Lock()
			h.frames = append(h.frames, f)
			h.mu.Unlock()
			if f.Type == FrameJoinGroup {
				ack := map[string]any{"type": FrameAck, "ackId": f.AckID, "success": h.ackOK}
				if !h.ackOK {
					ack["error"] = map[string]string{"name": "Forbidden", "message": "no role"}
				}
				_ = ws.WriteJSON(ack)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (h *fakeHub) snapshot() []ControlFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ControlFrame(nil), h.frames...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
}

func TestConnectJoinAndDeliver(t *testing.T) {
	hub, url := newFakeHub(t, true)
	msgs := make(chan []byte, 4)
	var connected sync.WaitGroup
	connected.Add(1)

	c := Connect(ConnParams{
		URL:   url,
		Group: "session-s1",
		Hub:   "mot",
		Handlers: Handlers{
			OnConnected:     func() { connected.Done() },
			OnServerMessage: func(data []byte) { msgs <- data },
		},
	})
	defer c.Stop()

	connected.Wait()
	ws := <-hub.accepted
	waitFor(t, func() bool { return c.Debug().Join.Status == JoinAck })
	assert.True(t, c.Debug().Join.Success)

	frames := hub.snapshot()
	require.NotEmpty(t, frames)
	assert.Equal(t, FrameJoinGroup, frames[0].Type)
	assert.Equal(t, "session-s1", frames[0].Group)
	assert.NotZero(t, frames[0].AckID)
	hub.mu.Lock()
	assert.Equal(t, Subprotocol, hub.protos[0])
	hub.mu.Unlock()

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type": FrameMessage, "from": "server", "dataType": "json",
		"data": map[string]any{"v": 1, "requestId": "r1"},
	}))
	select {
	case data := <-msgs:
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		assert.Equal(t, "r1", m["requestId"])
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	// 其他形状原样转交
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"system","event":"connected"}`)))
	select {
	case data := <-msgs:
		assert.Contains(t, string(data), `"system"`)
	case <-time.After(2 * time.Second):
		t.Fatal("fallback not delivered")
	}
}

func TestJoinRejected(t *testing.T) {
	_, url := newFakeHub(t, false)
	c := Connect(ConnParams{URL: url, Group: "session-x"})
	defer c.Stop()

	waitFor(t, func() bool { return c.Debug().Join.Status == JoinError })
	assert.Equal(t, "Forbidden: no role", c.Debug().Join.Error)
}

func TestReconnectAfterClose(t *testing.T) {
	hub, url := newFakeHub(t, true)
	var mu sync.Mutex
	disconnects := 0

	c := Connect(ConnParams{
		URL:     url,
		Group:   "session-r",
		Backoff: NewBackoff(10*time.Millisecond, 20*time.Millisecond),
		Handlers: Handlers{
			OnDisconnected: func() {
				mu.Lock()
				disconnects++
				mu.Unlock()
			},
		},
	})

	first := <-hub.accepted
	_ = first.Close()

	select {
	case <-hub.accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("did not reconnect")
	}
	waitFor(t, func() bool { return c.Debug().Join.Status == JoinAck })
	assert.Equal(t, 1, c.Debug().WS.ReconnectAttempt)
	mu.Lock()
	assert.Equal(t, 1, disconnects)
	mu.Unlock()

	c.Stop()
	waitFor(t, func() bool {
		for _, f := range hub.snapshot() {
			if f.Type == FrameLeaveGroup && f.Group == "session-r" {
				return true
			}
		}
		return false
	})
	assert.Equal(t, 0, c.Debug().WS.ReconnectAttempt)
}

func TestDialFailureSchedulesRetry(t *testing.T) {
	errs := make(chan error, 8)
	c := Connect(ConnParams{
		URL:      "ws://127.0.0.1:1/client",
		Group:    "g",
		Backoff:  NewBackoff(time.Hour),
		Handlers: Handlers{OnError: func(err error) { errs <- err }},
	})
	defer c.Stop()

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("expected dial error")
	}
	waitFor(t, func() bool { return c.Debug().WS.NextRetry == time.Hour })
	assert.Equal(t, 1, c.Debug().WS.ReconnectAttempt)
	assert.Equal(t, "127.0.0.1:1", c.Debug().WS.URLHost)
}
