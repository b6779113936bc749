package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carebridge/policychat/pkg/models"
)

// PostgresStore persists thread state and turns in the relational backend.
// The whole ThreadState is stored as one JSONB document per thread; the
// version column carries the optimistic concurrency check.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the stored state or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, threadID string) (models.ThreadState, error) {
	var (
		raw     []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, state FROM thread_states WHERE thread_id = $1`,
		threadID,
	).Scan(&version, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ThreadState{}, ErrNotFound
		}
		return models.ThreadState{}, fmt.Errorf("reading thread state %s: %w", threadID, err)
	}

	var st models.ThreadState
	if err := json.Unmarshal(raw, &st); err != nil {
		return models.ThreadState{}, fmt.Errorf("unmarshaling thread state %s: %w", threadID, err)
	}
	st.ThreadID = threadID
	st.Version = version
	return st, nil
}

// Put writes the whole state conditional on the stored version.
func (s *PostgresStore) Put(ctx context.Context, st models.ThreadState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling thread state %s: %w", st.ThreadID, err)
	}

	if st.Version == 1 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO thread_states (thread_id, version, state, updated_at)
			VALUES ($1, 1, $2, $3)
			ON CONFLICT (thread_id) DO NOTHING`,
			st.ThreadID, raw, time.Now())
		if err != nil {
			return fmt.Errorf("inserting thread state %s: %w", st.ThreadID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrVersionConflict
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE thread_states
		SET version = $2, state = $3, updated_at = $4
		WHERE thread_id = $1 AND version = $2 - 1`,
		st.ThreadID, st.Version, raw, time.Now())
	if err != nil {
		return fmt.Errorf("updating thread state %s: %w", st.ThreadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// AppendTurn records the turn once per correlation id.
func (s *PostgresStore) AppendTurn(ctx context.Context, turn models.Turn) error {
	sources, err := json.Marshal(turn.Sources)
	if err != nil {
		return fmt.Errorf("marshaling turn sources: %w", err)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turns (correlation_id, thread_id, user_message, assistant_message, status, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (correlation_id) DO NOTHING`,
		turn.CorrelationID, turn.ThreadID, turn.UserMessage, turn.AssistantMessage,
		string(turn.Status), sources, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending turn %s: %w", turn.CorrelationID, err)
	}
	return nil
}

// Transcript returns (user, assistant) entries in turn-completion order.
func (s *PostgresStore) Transcript(ctx context.Context, threadID string) ([]models.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_message, assistant_message
		FROM turns WHERE thread_id = $1 ORDER BY id ASC`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("querying transcript for %s: %w", threadID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.TranscriptEntry
	for rows.Next() {
		var user, assistant string
		if err := rows.Scan(&user, &assistant); err != nil {
			return nil, fmt.Errorf("scanning transcript row: %w", err)
		}
		out = append(out,
			models.TranscriptEntry{Role: models.RoleUser, Content: user},
			models.TranscriptEntry{Role: models.RoleAssistant, Content: assistant},
		)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transcript rows: %w", err)
	}
	return out, nil
}

// RecentTurns returns up to limit turns, newest first.
func (s *PostgresStore) RecentTurns(ctx context.Context, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT correlation_id, thread_id, user_message, assistant_message, status, sources, created_at
		FROM turns ORDER BY id DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Turn
	for rows.Next() {
		var (
			t       models.Turn
			status  string
			sources []byte
		)
		if err := rows.Scan(&t.CorrelationID, &t.ThreadID, &t.UserMessage, &t.AssistantMessage, &status, &sources, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		t.Status = models.ResponseStatus(status)
		if err := json.Unmarshal(sources, &t.Sources); err != nil {
			return nil, fmt.Errorf("unmarshaling turn sources: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}
	return out, nil
}

// RecordFeedback records one helpfulness signal against an existing turn.
func (s *PostgresStore) RecordFeedback(ctx context.Context, fb models.Feedback) error {
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO turn_feedback (correlation_id, helpful, note, created_at)
		SELECT $1, $2, $3, $4
		WHERE EXISTS (SELECT 1 FROM turns WHERE correlation_id = $1)`,
		fb.CorrelationID, fb.Helpful, fb.Note, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording feedback for %s: %w", fb.CorrelationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HelpfulTurns returns the turns with at least one positive signal, newest
// first.
func (s *PostgresStore) HelpfulTurns(ctx context.Context) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.correlation_id, t.thread_id, t.user_message, t.assistant_message, t.status, t.sources, t.created_at
		FROM turns t
		WHERE EXISTS (
			SELECT 1 FROM turn_feedback f
			WHERE f.correlation_id = t.correlation_id AND f.helpful
		)
		ORDER BY t.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying helpful turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Turn
	for rows.Next() {
		var (
			t       models.Turn
			status  string
			sources []byte
		)
		if err := rows.Scan(&t.CorrelationID, &t.ThreadID, &t.UserMessage, &t.AssistantMessage, &status, &sources, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning helpful turn row: %w", err)
		}
		t.Status = models.ResponseStatus(status)
		if err := json.Unmarshal(sources, &t.Sources); err != nil {
			return nil, fmt.Errorf("unmarshaling turn sources: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating helpful turn rows: %w", err)
	}
	return out, nil
}
