package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/policychat/pkg/models"
)

func dialStream(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) streamFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var frame streamFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestStreamProgress_ReplaysAndTerminates(t *testing.T) {
	env := newAPIEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx := context.Background()
	_, err := env.progress.Append(ctx, "c1", models.EventThinking, models.ThinkingPayload{Stage: "plan", Line: "Plan ready"})
	require.NoError(t, err)
	_, err = env.progress.Append(ctx, "c1", models.EventMessageChunk, models.ChunkPayload{Delta: "hello"})
	require.NoError(t, err)

	finalResp := models.Response{CorrelationID: "c1", Status: models.StatusCompleted, Message: "done"}
	_, err = env.progress.Append(ctx, "c1", models.EventCompleted, finalResp)
	require.NoError(t, err)

	conn := dialStream(t, server, "/chat/stream/c1")

	frame := readFrame(t, conn)
	assert.Equal(t, "thinking", frame.Event)
	assert.Equal(t, int64(1), frame.Seq)
	var thinking models.ThinkingPayload
	require.NoError(t, json.Unmarshal(frame.Data, &thinking))
	assert.Equal(t, "Plan ready", thinking.Line)

	frame = readFrame(t, conn)
	assert.Equal(t, "message", frame.Event)

	frame = readFrame(t, conn)
	assert.Equal(t, "completed", frame.Event)

	// The terminal frame carries the same body the poll endpoint serves.
	var resp models.Response
	require.NoError(t, json.Unmarshal(frame.Data, &resp))
	assert.Equal(t, finalResp, resp)

	// The server closes the stream after the terminal event.
	readCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = conn.Read(readCtx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestStreamProgress_ResumesAfterCursor(t *testing.T) {
	env := newAPIEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := env.progress.Append(ctx, "c1", models.EventThinking, models.ThinkingPayload{Line: "x"})
		require.NoError(t, err)
	}
	_, err := env.progress.Append(ctx, "c1", models.EventCompleted, models.Response{CorrelationID: "c1"})
	require.NoError(t, err)

	conn := dialStream(t, server, "/chat/stream/c1?after=3")

	frame := readFrame(t, conn)
	assert.Equal(t, int64(4), frame.Seq)
	frame = readFrame(t, conn)
	assert.Equal(t, int64(5), frame.Seq)
	assert.Equal(t, "completed", frame.Event)
}

func TestStreamProgress_RelaysLiveEvents(t *testing.T) {
	env := newAPIEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	conn := dialStream(t, server, "/chat/stream/c1")

	// Events appended after the client connected still arrive.
	go func() {
		time.Sleep(50 * time.Millisecond)
		ctx := context.Background()
		_, _ = env.progress.Append(ctx, "c1", models.EventThinking, models.ThinkingPayload{Line: "working"})
		_, _ = env.progress.Append(ctx, "c1", models.EventCompleted, models.Response{CorrelationID: "c1"})
	}()

	frame := readFrame(t, conn)
	assert.Equal(t, "thinking", frame.Event)
	frame = readFrame(t, conn)
	assert.Equal(t, "completed", frame.Event)
}

func TestStreamProgress_RejectsBadCursor(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do("GET", "/chat/stream/c1?after=banana", nil)
	assert.Equal(t, 400, w.Code)
}
