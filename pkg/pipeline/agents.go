package pipeline

import (
	"context"
	"fmt"

	"github.com/carebridge/policychat/pkg/llm"
	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/retriever"
)

const (
	// retrievalLimit is how many passages the rag agent requests per
	// subquestion.
	retrievalLimit = 8

	// degradedAnswer replaces a subquestion's contribution when its
	// answer generation fails after retries. The turn continues.
	degradedAnswer = "I could not retrieve an answer for this part of the question."
)

// ragAgent resolves policy/process subquestions against the document corpus:
// retrieve, build context, answer with citations.
type ragAgent struct {
	llm       llm.Client
	retriever retriever.Retriever
}

func (a *ragAgent) Competency() string {
	return "Policy/process lookup from the document corpus; falls back to web search if corpus confidence is low."
}

func (a *ragAgent) Answer(ctx context.Context, em *Emitter, sub models.Subquestion) (SubAnswer, error) {
	passages, err := a.retriever.Search(ctx, sub.Text, retrievalLimit)
	if err != nil {
		// Retriever failure degrades to empty evidence; the integrator
		// will produce a low-confidence answer.
		em.Thinking(ctx, stageResolve, fmt.Sprintf("Retrieval failed for %q, continuing without evidence", sub.Text))
		passages = nil
	}
	if len(passages) == 0 {
		em.Thinking(ctx, stageResolve, "empty evidence: no passages found for "+sub.Text)
	}

	answer, err := llm.CompleteWithRetry(ctx, a.llm, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: answeringSystemPrompt},
			{Role: llm.RoleUser, Content: answeringPrompt(sub.Text, passages)},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return SubAnswer{}, ctx.Err()
		}
		return SubAnswer{
			Subquestion: sub,
			Text:        degradedAnswer,
			Degraded:    true,
		}, nil
	}

	sources := make([]models.Source, 0, len(passages))
	for _, p := range passages {
		sources = append(sources, models.Source{
			DocumentID: p.DocumentID,
			Title:      p.Title,
			URL:        p.URL,
			Snippet:    snippet(p.Content),
			Score:      p.Score,
		})
	}

	return SubAnswer{Subquestion: sub, Text: answer, Sources: sources}, nil
}

// snippet truncates passage content for the cited source list.
func snippet(content string) string {
	const max = 240
	if len(content) <= max {
		return content
	}
	return content[:max] + "…"
}

// refusalAgent returns a fixed refusal for paths reserved for future use.
type refusalAgent struct {
	competency string
	refusal    string
}

func (a *refusalAgent) Competency() string { return a.competency }

func (a *refusalAgent) Answer(_ context.Context, _ *Emitter, sub models.Subquestion) (SubAnswer, error) {
	return SubAnswer{Subquestion: sub, Text: a.refusal, Degraded: true}, nil
}
