package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/transport"
)

const (
	// streamIdleTimeout closes a stream that has seen no new events for
	// this long. The client reconnects with ?after= to resume.
	streamIdleTimeout = 60 * time.Second

	// streamWriteTimeout bounds a single frame write.
	streamWriteTimeout = 10 * time.Second
)

// streamFrame is one event frame sent over the WebSocket.
type streamFrame struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// frameEvent maps the stored event kind to the wire event name.
func frameEvent(kind models.EventKind) string {
	if kind == models.EventMessageChunk {
		return "message"
	}
	return string(kind)
}

// StreamProgress handles GET /chat/stream/{correlation_id}. It replays events
// after the ?after= cursor and then relays live events until the terminal
// event or the idle timeout. Disconnecting never cancels the turn: the stream
// is a read-only view over the progress log.
//
// The route is served on the raw ResponseWriter rather than through gin:
// the upgrade hijacks the connection, which gin's buffered writer refuses
// once headers are staged.
func (s *Server) StreamProgress(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("correlation_id")

	afterRaw := r.URL.Query().Get("after")
	if afterRaw == "" {
		afterRaw = "0"
	}
	afterSeq, err := strconv.ParseInt(afterRaw, 10, 64)
	if err != nil || afterSeq < 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "after must be a non-negative integer"})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket accept failed", "correlation_id", correlationID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	it, err := s.progress.ReadFrom(ctx, correlationID, afterSeq)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "progress log unavailable")
		return
	}
	defer func() { _ = it.Close() }()

	log := slog.With("correlation_id", correlationID, "after", afterSeq)
	for {
		waitCtx, cancel := context.WithTimeout(ctx, streamIdleTimeout)
		ev, err := it.Next(waitCtx)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrEndOfStream):
			conn.Close(websocket.StatusNormalClosure, "stream complete")
			return
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			log.Debug("Stream idle timeout, closing")
			conn.Close(websocket.StatusGoingAway, "idle timeout, reconnect with ?after=")
			return
		default:
			// Client went away or the log failed; either way just drop.
			return
		}

		if err := writeFrame(ctx, conn, ev); err != nil {
			log.Debug("Stream write failed, client likely disconnected", "error", err)
			return
		}
		if ev.Kind.Terminal() {
			conn.Close(websocket.StatusNormalClosure, "stream complete")
			return
		}
	}
}

// writeFrame sends one event frame.
func writeFrame(ctx context.Context, conn *websocket.Conn, ev models.ProgressEvent) error {
	data, err := json.Marshal(streamFrame{
		Event: frameEvent(ev.Kind),
		Seq:   ev.Seq,
		Data:  ev.Payload,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
