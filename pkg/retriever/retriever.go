// Package retriever defines the port to the retrieval subsystem (vector
// search + metadata lookup + reranking) and an HTTP client implementation.
// The orchestration core only sees ranked passages; the retrieval machinery
// itself is an external collaborator.
package retriever

import (
	"context"
)

// Passage is one ranked passage of evidence.
type Passage struct {
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title"`
	URL        string            `json:"url,omitempty"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Retriever returns ranked passages for a query.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]Passage, error)
}
