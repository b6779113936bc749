// Package pglog implements the progress-event log on a PostgreSQL
// append-only table with a (correlation_id, seq) unique constraint. Live
// reads poll the table on a tight interval bounded by the caller's deadline;
// no NOTIFY channel is required for correctness.
package pglog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/transport"
)

const (
	// uniqueViolation is the PostgreSQL error code raised when two
	// appenders race for the same seq.
	uniqueViolation = "23505"

	// appendAttempts bounds retries on seq collisions.
	appendAttempts = 5

	// pollInterval is how often a live reader re-queries for new events.
	pollInterval = 150 * time.Millisecond
)

// ProgressLog persists progress events in the progress_events table.
type ProgressLog struct {
	db *sql.DB
}

// NewProgressLog creates a log over an existing database handle.
func NewProgressLog(db *sql.DB) *ProgressLog {
	return &ProgressLog{db: db}
}

// Append inserts the event with seq = max(seq)+1 for the correlation id. The
// insert is guarded so nothing lands after a terminal event, and seq races
// are resolved by retrying on the unique constraint.
//
// The guard holds across concurrent appenders even though it only sees
// committed rows: the MAX and the NOT EXISTS evaluate under the same
// statement snapshot, so any append whose seq would follow the terminal
// event also sees the terminal row and is rejected, and an append racing
// the terminal for the same seq loses the unique constraint and re-checks
// with a fresh snapshot.
func (l *ProgressLog) Append(ctx context.Context, correlationID string, kind models.EventKind, payload any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling event payload: %w", err)
	}

	for attempt := 0; attempt < appendAttempts; attempt++ {
		var seq int64
		err = l.db.QueryRowContext(ctx, `
			INSERT INTO progress_events (correlation_id, seq, kind, payload, created_at)
			SELECT $1,
			       COALESCE((SELECT MAX(seq) FROM progress_events WHERE correlation_id = $1), 0) + 1,
			       $2, $3, $4
			WHERE NOT EXISTS (
			       SELECT 1 FROM progress_events
			       WHERE correlation_id = $1 AND kind IN ('completed', 'error')
			)
			RETURNING seq`,
			correlationID, string(kind), raw, time.Now(),
		).Scan(&seq)
		if err == nil {
			return seq, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return 0, transport.ErrTerminalReached
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			continue // lost the seq race, recompute
		}
		return 0, fmt.Errorf("appending progress event: %w", err)
	}
	return 0, fmt.Errorf("appending progress event for %s: retries exhausted", correlationID)
}

// ReadSnapshot returns all recorded events in seq order, non-blocking.
func (l *ProgressLog) ReadSnapshot(ctx context.Context, correlationID string) ([]models.ProgressEvent, error) {
	return l.query(ctx, correlationID, 0)
}

// ReadFrom returns a polling live iterator positioned after afterSeq.
func (l *ProgressLog) ReadFrom(_ context.Context, correlationID string, afterSeq int64) (transport.EventIterator, error) {
	it := &iterator{
		log:           l,
		correlationID: correlationID,
		cursor:        afterSeq,
		closed:        make(chan struct{}),
	}
	return it, nil
}

func (l *ProgressLog) query(ctx context.Context, correlationID string, afterSeq int64) ([]models.ProgressEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, kind, payload, created_at
		FROM progress_events
		WHERE correlation_id = $1 AND seq > $2
		ORDER BY seq ASC`,
		correlationID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("querying progress events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []models.ProgressEvent
	for rows.Next() {
		var (
			ev   models.ProgressEvent
			kind string
		)
		if err := rows.Scan(&ev.Seq, &kind, &ev.Payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning progress event: %w", err)
		}
		ev.CorrelationID = correlationID
		ev.Kind = models.EventKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating progress events: %w", err)
	}
	return events, nil
}

type iterator struct {
	log           *ProgressLog
	correlationID string
	cursor        int64
	buffered      []models.ProgressEvent
	done          bool
	closed        chan struct{}
	closeOnce     sync.Once
}

// Next returns the next buffered event, refilling from the table as needed.
func (it *iterator) Next(ctx context.Context) (models.ProgressEvent, error) {
	if it.done {
		return models.ProgressEvent{}, transport.ErrEndOfStream
	}
	for {
		if len(it.buffered) > 0 {
			ev := it.buffered[0]
			it.buffered = it.buffered[1:]
			it.cursor = ev.Seq
			if ev.Kind.Terminal() {
				it.done = true
			}
			return ev, nil
		}

		events, err := it.log.query(ctx, it.correlationID, it.cursor)
		if err != nil {
			return models.ProgressEvent{}, err
		}
		if len(events) > 0 {
			it.buffered = events
			continue
		}

		select {
		case <-time.After(pollInterval):
		case <-it.closed:
			return models.ProgressEvent{}, transport.ErrEndOfStream
		case <-ctx.Done():
			return models.ProgressEvent{}, ctx.Err()
		}
	}
}

// Close releases the iterator.
func (it *iterator) Close() error {
	it.closeOnce.Do(func() { close(it.closed) })
	return nil
}
