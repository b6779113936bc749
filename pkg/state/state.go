// Package state persists per-thread conversational state and the turn
// transcript. ThreadState writes use optimistic concurrency on the version
// field: a Put succeeds only if the stored version is exactly one less than
// the written version, so concurrent turns on one thread cannot lose updates.
package state

import (
	"context"
	"errors"

	"github.com/carebridge/policychat/pkg/models"
)

// Sentinel errors.
var (
	// ErrNotFound indicates no state exists for the thread yet.
	ErrNotFound = errors.New("thread state not found")

	// ErrVersionConflict indicates the stored version did not match the
	// expected predecessor of the written state.
	ErrVersionConflict = errors.New("thread state version conflict")
)

// ThreadStore is the persistence port for thread state and turns.
type ThreadStore interface {
	// Get returns the current state for the thread, or ErrNotFound.
	Get(ctx context.Context, threadID string) (models.ThreadState, error)

	// Put writes the whole state conditional on the stored version being
	// state.Version-1 (state.Version == 1 requires no prior record).
	// Returns ErrVersionConflict otherwise.
	Put(ctx context.Context, st models.ThreadState) error

	// AppendTurn records a completed turn. Idempotent per correlation id.
	AppendTurn(ctx context.Context, turn models.Turn) error

	// Transcript returns the thread's conversation transcript: the
	// (user, assistant) entries of its turns in completion order.
	Transcript(ctx context.Context, threadID string) ([]models.TranscriptEntry, error)

	// RecentTurns returns the most recent turns across all threads,
	// newest first.
	RecentTurns(ctx context.Context, limit int) ([]models.Turn, error)

	// RecordFeedback records one helpfulness signal against an existing
	// turn. Returns ErrNotFound if no turn exists for the correlation id.
	RecordFeedback(ctx context.Context, fb models.Feedback) error

	// HelpfulTurns returns the turns that received at least one positive
	// feedback signal, newest first.
	HelpfulTurns(ctx context.Context) ([]models.Turn, error)
}
