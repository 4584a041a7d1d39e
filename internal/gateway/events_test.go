// ABOUTME: Tests for the SSE event stream handler
// ABOUTME: Reads a live stream over httptest and checks snapshot, events, keepalives and shutdown

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paradiselabs-ai/AgentMix/internal/conversation"
)

// sseFrame is one parsed "event:/data:" block.
type sseFrame struct {
	event string
	data  string
}

// sseReader parses frames from a stream in a goroutine.
func sseReader(t *testing.T, resp *http.Response) <-chan sseFrame {
	t.Helper()
	frames := make(chan sseFrame, 32)
	go func() {
		defer close(frames)
		scanner := bufio.NewScanner(resp.Body)
		var cur sseFrame
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				cur.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				cur.data = strings.TrimPrefix(line, "data: ")
			case strings.HasPrefix(line, ":"):
				frames <- sseFrame{event: "comment", data: line}
			case line == "" && cur.event != "":
				frames <- cur
				cur = sseFrame{}
			}
		}
	}()
	return frames
}

func nextFrame(t *testing.T, frames <-chan sseFrame) sseFrame {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "stream closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SSE frame")
		return sseFrame{}
	}
}

// newStreamServer serves the gateway over HTTP. Its cleanup is registered
// before any stream's, so streams are closed first.
func newStreamServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func openStream(t *testing.T, srv *httptest.Server, id string) *http.Response {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/conversations/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleEvents_Stream(t *testing.T) {
	gw, s := newTestGateway(t, blockingGenerator())
	agents := seedAgents(t, s, "Alpha", "Beta")
	conv := seedConversation(t, s, agents...)
	srv := newStreamServer(t, gw)

	resp := openStream(t, srv, conv.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	frames := sseReader(t, resp)

	snapshot := nextFrame(t, frames)
	assert.Equal(t, "status", snapshot.event)
	var status conversation.Status
	require.NoError(t, json.Unmarshal([]byte(snapshot.data), &status))
	assert.Equal(t, conv.ID, status.ConversationID)
	assert.False(t, status.Active)

	_, err := gw.Runtime().SendHumanMessage(t.Context(), conv.ID, "Agenda first", "Dana")
	require.NoError(t, err)

	frame := nextFrame(t, frames)
	assert.Equal(t, string(conversation.EventMessageAppended), frame.event)
	var evt conversation.Event
	require.NoError(t, json.Unmarshal([]byte(frame.data), &evt))
	assert.Equal(t, conv.ID, evt.ConversationID)
	require.NotNil(t, evt.Message)
	assert.Equal(t, "Agenda first", evt.Message.Content)
	assert.Equal(t, "Dana", evt.Message.SenderName)
}

func TestHandleEvents_FollowsTransitions(t *testing.T) {
	gw, s := newTestGateway(t, blockingGenerator())
	agents := seedAgents(t, s, "Alpha", "Beta")
	conv := seedConversation(t, s, agents...)
	srv := newStreamServer(t, gw)

	frames := sseReader(t, openStream(t, srv, conv.ID))
	require.Equal(t, "status", nextFrame(t, frames).event)

	require.NoError(t, gw.Runtime().Start(t.Context(), conv.ID))
	assert.Equal(t, string(conversation.EventStatusChanged), nextFrame(t, frames).event)
	assert.Equal(t, string(conversation.EventMessageAppended), nextFrame(t, frames).event, "starter")

	require.NoError(t, gw.Runtime().Pause(t.Context(), conv.ID, "lunch"))
	assert.Equal(t, string(conversation.EventMessageAppended), nextFrame(t, frames).event, "pause notice")
	paused := nextFrame(t, frames)
	assert.Equal(t, string(conversation.EventPaused), paused.event)
	assert.Contains(t, paused.data, `"reason":"lunch"`)
}

func TestHandleEvents_OtherConversationsAreFiltered(t *testing.T) {
	gw, s := newTestGateway(t, blockingGenerator())
	agents := seedAgents(t, s, "Alpha", "Beta")
	watched := seedConversation(t, s, agents...)
	other := seedConversation(t, s, agents...)
	srv := newStreamServer(t, gw)

	frames := sseReader(t, openStream(t, srv, watched.ID))
	require.Equal(t, "status", nextFrame(t, frames).event)

	_, err := gw.Runtime().SendHumanMessage(t.Context(), other.ID, "not for you", "Dana")
	require.NoError(t, err)
	_, err = gw.Runtime().SendHumanMessage(t.Context(), watched.ID, "for you", "Dana")
	require.NoError(t, err)

	frame := nextFrame(t, frames)
	assert.Contains(t, frame.data, "for you")
	assert.NotContains(t, frame.data, "not for you")
}

func TestHandleEvents_Keepalive(t *testing.T) {
	prev := sseKeepalive
	sseKeepalive = 20 * time.Millisecond
	t.Cleanup(func() { sseKeepalive = prev })

	gw, s := newTestGateway(t, blockingGenerator())
	conv := seedConversation(t, s)
	srv := newStreamServer(t, gw)

	frames := sseReader(t, openStream(t, srv, conv.ID))
	require.Equal(t, "status", nextFrame(t, frames).event)

	frame := nextFrame(t, frames)
	assert.Equal(t, "comment", frame.event)
	assert.Equal(t, ": keepalive", frame.data)
}

func TestHandleEvents_EndsOnShutdown(t *testing.T) {
	gw, s := newTestGateway(t, blockingGenerator())
	conv := seedConversation(t, s)
	srv := newStreamServer(t, gw)

	frames := sseReader(t, openStream(t, srv, conv.ID))
	require.Equal(t, "status", nextFrame(t, frames).event)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, gw.Shutdown(ctx))

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-frames:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "stream closes when the gateway shuts down")
}

func TestHandleEvents_UnknownConversation(t *testing.T) {
	gw, _ := newTestGateway(t, blockingGenerator())

	rec := doJSON(t, gw, http.MethodGet, "/api/conversations/missing/events", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
