package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/state"
)

// defaultHistoryLimit bounds history projections when the client passes no
// limit.
const defaultHistoryLimit = 20

// SearchStat is one entry of the most-helpful-searches projection: a user
// question and how many positive signals its turns collected.
type SearchStat struct {
	Query        string `json:"query"`
	HelpfulCount int    `json:"helpful_count"`
}

// DocumentStat is one entry of the most-helpful-documents projection: a cited
// document and how often it backed a positively rated turn.
type DocumentStat struct {
	DocumentID   string `json:"document_id,omitempty"`
	Title        string `json:"title"`
	URL          string `json:"url,omitempty"`
	HelpfulCount int    `json:"helpful_count"`
}

// FeedbackRequest is the validated feedback input.
type FeedbackRequest struct {
	CorrelationID string `json:"correlation_id" binding:"required"`
	Helpful       bool   `json:"helpful"`
	Note          string `json:"note"`
}

// HistoryService serves the read-only history projections over the turn
// records and records per-turn feedback.
type HistoryService struct {
	threads state.ThreadStore
}

// NewHistoryService creates a HistoryService over the thread store.
func NewHistoryService(threads state.ThreadStore) *HistoryService {
	return &HistoryService{threads: threads}
}

// Recent returns the most recent turns, newest first.
func (s *HistoryService) Recent(httpCtx context.Context, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	turns, err := s.threads.RecentTurns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("reading recent turns: %w", err)
	}
	return turns, nil
}

// RecordFeedback validates and records one helpfulness signal.
func (s *HistoryService) RecordFeedback(httpCtx context.Context, req FeedbackRequest) error {
	if req.CorrelationID == "" {
		return NewValidationError("correlation_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	err := s.threads.RecordFeedback(ctx, models.Feedback{
		CorrelationID: req.CorrelationID,
		Helpful:       req.Helpful,
		Note:          req.Note,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("recording feedback: %w", err)
	}
	return nil
}

// MostHelpfulSearches aggregates positively rated turns by user question.
func (s *HistoryService) MostHelpfulSearches(httpCtx context.Context, limit int) ([]SearchStat, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	turns, err := s.threads.HelpfulTurns(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading helpful turns: %w", err)
	}

	counts := make(map[string]int)
	for _, t := range turns {
		counts[t.UserMessage]++
	}
	stats := make([]SearchStat, 0, len(counts))
	for query, n := range counts {
		stats = append(stats, SearchStat{Query: query, HelpfulCount: n})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].HelpfulCount != stats[j].HelpfulCount {
			return stats[i].HelpfulCount > stats[j].HelpfulCount
		}
		return stats[i].Query < stats[j].Query
	})
	if len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

// MostHelpfulDocuments aggregates the sources cited by positively rated
// turns.
func (s *HistoryService) MostHelpfulDocuments(httpCtx context.Context, limit int) ([]DocumentStat, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	turns, err := s.threads.HelpfulTurns(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading helpful turns: %w", err)
	}

	type key struct{ id, title string }
	counts := make(map[key]*DocumentStat)
	for _, t := range turns {
		for _, src := range t.Sources {
			k := key{src.DocumentID, src.Title}
			if st, ok := counts[k]; ok {
				st.HelpfulCount++
				continue
			}
			counts[k] = &DocumentStat{
				DocumentID:   src.DocumentID,
				Title:        src.Title,
				URL:          src.URL,
				HelpfulCount: 1,
			}
		}
	}
	stats := make([]DocumentStat, 0, len(counts))
	for _, st := range counts {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].HelpfulCount != stats[j].HelpfulCount {
			return stats[i].HelpfulCount > stats[j].HelpfulCount
		}
		return stats[i].Title < stats[j].Title
	})
	if len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}
