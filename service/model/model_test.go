package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"MotPad/module/protocol"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseFrames(events ...string) string {
	var sb strings.Builder
	for _, e := range events {
		sb.WriteString(e)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func TestReadStreamDeltasAndDone(t *testing.T) {
	body := sseFrames(
		"event: response.created\ndata: {\"type\":\"response.created\"}",
		`data: {"type":"response.output_text.delta","delta":"{\"replyText\":"}`,
		`data:{"type":"response.output_text.delta","delta":"\"hi\"}"}`,
		"data: not json",
		"data: ",
		": keepalive",
	)
	text, err := readStream(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, `{"replyText":"hi"}`, text)

	withDone := body + sseFrames(
		`data: {"type":"response.output_text.done","text":"final"}`,
		`data: {"type":"response.output_text.done","text":""}`,
	)
	text, err = readStream(strings.NewReader(withDone))
	require.NoError(t, err)
	assert.Equal(t, "final", text)
}

func TestReadStreamStopsOnCompleted(t *testing.T) {
	for _, term := range []string{EventCompleted, EventFailed} {
		body := sseFrames(
			`data: {"type":"response.output_text.delta","delta":"a"}`,
			fmt.Sprintf(`data: {"type":"%s"}`, term),
			`data: {"type":"response.output_text.delta","delta":"b"}`,
		)
		text, err := readStream(strings.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, "a", text, term)
	}
}

func TestReadStreamDoneMarkerAndUnterminatedTail(t *testing.T) {
	body := sseFrames(`data: {"type":"response.output_text.delta","delta":"x"}`, "data: [DONE]") +
		`data: {"type":"response.output_text.delta","delta":"lost"}`
	text, err := readStream(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "x", text)
}

func TestExtractText(t *testing.T) {
	text, err := extractText([]byte(`{"output_text":"direct"}`))
	require.NoError(t, err)
	assert.Equal(t, "direct", text)

	text, err = extractText([]byte(`{"output":[{"content":[{"type":"output_text","text":"a"},{"type":"refusal","text":"x"}]},{"content":[{"type":"output_text","text":"b"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, "ab", text)

	_, err = extractText([]byte(`<html>`))
	assert.Error(t, err)
}

func TestParseModelJSON(t *testing.T) {
	out, err := ParseModelJSON(`  {"replyText":"Here","commands":[{"kind":"clear"},{"kind":"line"}],"edits":[]}  `)
	require.NoError(t, err)
	assert.Equal(t, "Here", out.ReplyText)
	assert.Len(t, out.Commands, 2)
	assert.Empty(t, out.Edits)

	out, err = ParseModelJSON("Sure! ```json\n{\"replyText\":\"wrapped\",\"commands\":{}}\n``` hope that helps")
	require.NoError(t, err)
	assert.Equal(t, "wrapped", out.ReplyText)
	assert.Empty(t, out.Commands)

	out, err = ParseModelJSON(`{"commands":"nope","edits":null,"replyText":null}`)
	require.NoError(t, err)
	assert.Equal(t, DefaultReplyText, out.ReplyText)
	assert.Empty(t, out.Commands)
	assert.Empty(t, out.Edits)
}

func TestParseModelJSONFailures(t *testing.T) {
	cases := []string{
		"no braces at all",
		"} backwards {",
		`{"a":1} and also {"b":2}`,
		`{"replyText": "truncated`,
		"null",
		"  null \n",
	}
	for _, c := range cases {
		_, err := ParseModelJSON(c)
		var oe *ModelOutputError
		assert.True(t, errors.As(err, &oe), c)
	}
}

func TestBuildUserText(t *testing.T) {
	req := &protocol.RequestMessage{
		RequestID: "r1",
		SessionID: "s1",
		Type:      protocol.TypeChatDraw,
		Payload:   protocol.Payload{Canvas: protocol.Canvas{Width: 800, Height: 600, Dpr: 2}},
	}
	text := BuildUserText(req)
	assert.True(t, strings.HasPrefix(text, "You are Mot, responding to a canvas-notepad request.\n\n"))
	assert.Contains(t, text, "- sessionId: s1\n- requestId: r1\n- type: chat_draw\n")
	assert.Contains(t, text, `- payload: {"canvas":{"width":800,"height":600,"dpr":2}}`)
	assert.True(t, strings.HasSuffix(text, "\nUser says: [no text]\n"))

	req.Payload.Text = strings.Repeat("a", 5000)
	text = BuildUserText(req)
	assert.Contains(t, text, "User says: "+strings.Repeat("a", protocol.MaxTextLen)+"\n")
	assert.NotContains(t, text, strings.Repeat("a", protocol.MaxTextLen+1)+"\n")
}

func gateway(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func testOptions(url string) Options {
	return Options{
		GatewayURL:      url,
		Token:           "tok",
		Agent:           "openclaw:main",
		Stream:          true,
		MaxOutputTokens: 700,
		Attempts:        2,
		Timeout:         2 * time.Second,
		Backoff:         time.Millisecond,
	}
}

func TestCompleteStreaming(t *testing.T) {
	url := gateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ResponsesPath, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "openclaw:main", body["model"])
		assert.Equal(t, "canvas:s1", body["user"])
		assert.Equal(t, true, body["stream"])
		assert.Equal(t, float64(700), body["max_output_tokens"])
		input := body["input"].([]any)[0].(map[string]any)
		assert.Equal(t, "message", input["type"])
		assert.Equal(t, "user", input["role"])
		part := input["content"].([]any)[0].(map[string]any)
		assert.Equal(t, "input_text", part["type"])
		assert.Len(t, part["text"], MaxInputLen)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseFrames(
			`data: {"type":"response.output_text.delta","delta":"he"}`,
			`data: {"type":"response.output_text.delta","delta":"llo"}`,
			`data: {"type":"response.completed"}`,
		)))
	})

	text, err := New(testOptions(url), nil).Complete(context.Background(), "s1", strings.Repeat("x", MaxInputLen+50))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestCompleteNonStreaming(t *testing.T) {
	url := gateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":[{"content":[{"type":"output_text","text":"{}"}]}]}`))
	})
	opts := testOptions(url)
	opts.Stream = false
	text, err := New(opts, nil).Complete(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "{}", text)
}

func TestCompleteRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	url := gateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sseFrames(`data: {"type":"response.output_text.done","text":"ok"}`)))
	})
	text, err := New(testOptions(url), nil).Complete(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	url := gateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	opts := testOptions(url)
	opts.Attempts = 3
	_, err := New(opts, nil).Complete(context.Background(), "s1", "hi")

	var me *ModelInvocationError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, KindExhaustedRetries, me.Kind)
	assert.Equal(t, int32(3), calls.Load())

	var cause *ModelInvocationError
	require.True(t, errors.As(me.Err, &cause))
	assert.Equal(t, KindNon2xx, cause.Kind)
	assert.Equal(t, http.StatusInternalServerError, cause.Status)
	assert.Equal(t, 3, cause.Attempt)
}

func TestCompleteTimeout(t *testing.T) {
	url := gateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	opts := testOptions(url)
	opts.Attempts = 1
	opts.Timeout = 50 * time.Millisecond
	_, err := New(opts, nil).Complete(context.Background(), "s1", "hi")

	var me *ModelInvocationError
	require.True(t, errors.As(err, &me))
	var cause *ModelInvocationError
	require.True(t, errors.As(me.Err, &cause))
	assert.Equal(t, KindTimeout, cause.Kind)
}

func TestCompleteMissingBody(t *testing.T) {
	url := gateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	})
	opts := testOptions(url)
	opts.Attempts = 1
	_, err := New(opts, nil).Complete(context.Background(), "s1", "hi")

	var me *ModelInvocationError
	require.True(t, errors.As(err, &me))
	var cause *ModelInvocationError
	require.True(t, errors.As(me.Err, &cause))
	assert.Equal(t, KindMissingBody, cause.Kind)
}
