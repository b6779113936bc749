package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/transport"
)

// ProgressLog keeps one append-only event list per correlation id. Live
// readers wait on a per-stream notification channel that is replaced on every
// append, so any number of iterators can follow the feed without buffering
// inside the log.
type ProgressLog struct {
	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	mu       sync.Mutex
	events   []models.ProgressEvent
	terminal bool
	// changed is closed and replaced on every append; waiters reacquire
	// the lock and re-check the event list.
	changed chan struct{}
}

// NewProgressLog creates an empty log.
func NewProgressLog() *ProgressLog {
	return &ProgressLog{streams: make(map[string]*stream)}
}

func (l *ProgressLog) stream(correlationID string) *stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.streams[correlationID]
	if !ok {
		st = &stream{changed: make(chan struct{})}
		l.streams[correlationID] = st
	}
	return st
}

// Append assigns the next seq and appends the event. Appends after a terminal
// event fail with ErrTerminalReached.
func (l *ProgressLog) Append(_ context.Context, correlationID string, kind models.EventKind, payload any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling event payload: %w", err)
	}

	st := l.stream(correlationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.terminal {
		return 0, transport.ErrTerminalReached
	}

	seq := int64(len(st.events)) + 1
	st.events = append(st.events, models.ProgressEvent{
		Seq:           seq,
		CorrelationID: correlationID,
		Kind:          kind,
		Payload:       raw,
		Timestamp:     time.Now(),
	})
	if kind.Terminal() {
		st.terminal = true
	}

	close(st.changed)
	st.changed = make(chan struct{})
	return seq, nil
}

// ReadSnapshot returns a copy of the events recorded so far.
func (l *ProgressLog) ReadSnapshot(_ context.Context, correlationID string) ([]models.ProgressEvent, error) {
	st := l.stream(correlationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]models.ProgressEvent, len(st.events))
	copy(out, st.events)
	return out, nil
}

// ReadFrom returns a live iterator positioned after afterSeq.
func (l *ProgressLog) ReadFrom(_ context.Context, correlationID string, afterSeq int64) (transport.EventIterator, error) {
	return &iterator{st: l.stream(correlationID), cursor: afterSeq}, nil
}

type iterator struct {
	st     *stream
	cursor int64
	done   bool

	closeMu sync.Mutex
	closed  chan struct{}
}

// Next blocks until an event past the cursor exists, the stream terminates,
// or ctx ends.
func (it *iterator) Next(ctx context.Context) (models.ProgressEvent, error) {
	if it.done {
		return models.ProgressEvent{}, transport.ErrEndOfStream
	}
	for {
		it.st.mu.Lock()
		if int(it.cursor) < len(it.st.events) {
			ev := it.st.events[it.cursor]
			it.cursor++
			if ev.Kind.Terminal() {
				it.done = true
			}
			it.st.mu.Unlock()
			return ev, nil
		}
		if it.st.terminal {
			// Terminal already consumed by an earlier cursor position.
			it.st.mu.Unlock()
			it.done = true
			return models.ProgressEvent{}, transport.ErrEndOfStream
		}
		changed := it.st.changed
		it.st.mu.Unlock()

		select {
		case <-changed:
		case <-it.closedCh():
			return models.ProgressEvent{}, transport.ErrEndOfStream
		case <-ctx.Done():
			return models.ProgressEvent{}, ctx.Err()
		}
	}
}

func (it *iterator) closedCh() chan struct{} {
	it.closeMu.Lock()
	defer it.closeMu.Unlock()
	if it.closed == nil {
		it.closed = make(chan struct{})
	}
	return it.closed
}

// Close releases the iterator; a blocked Next returns ErrEndOfStream.
func (it *iterator) Close() error {
	it.closeMu.Lock()
	defer it.closeMu.Unlock()
	if it.closed == nil {
		it.closed = make(chan struct{})
	}
	select {
	case <-it.closed:
	default:
		close(it.closed)
	}
	return nil
}
