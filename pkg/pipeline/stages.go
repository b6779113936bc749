package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carebridge/policychat/pkg/llm"
	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/state"
)

// loadState reads the thread state, defaulting to a fresh state for new
// threads.
func (p *Pipeline) loadState(ctx context.Context, tc *turnContext) error {
	tc.em.StageStarted(ctx, stageLoad)

	st, err := p.threads.Get(ctx, tc.req.ThreadID)
	switch {
	case err == nil:
		tc.state = st
	case errors.Is(err, state.ErrNotFound):
		tc.state = models.NewThreadState(tc.req.ThreadID)
	default:
		return fmt.Errorf("loading thread state: %w", err)
	}
	return nil
}

// classify decides whether this message answers a pending clarification or
// starts a new question, and builds the effective message the planner sees.
func (p *Pipeline) classify(ctx context.Context, tc *turnContext) error {
	tc.em.StageStarted(ctx, stageClassify)

	if len(tc.state.OpenSlots) == 0 || tc.state.LastBlueprint == nil {
		tc.effective = tc.req.Message
		return nil
	}

	// A pending clarification exists: treat this message as the fill for
	// the first open slot.
	tc.slotFill = true
	tc.filledSlot = tc.state.OpenSlots[0]

	pending := tc.state.PendingQuestion
	if pending == "" {
		pending = tc.state.RefinedQuery
	}
	if pending == "" {
		pending = tc.req.Message
	}
	tc.effective = fmt.Sprintf("%s (%s: %s)", pending, tc.filledSlot, strings.TrimSpace(tc.req.Message))
	tc.em.Thinking(ctx, stageClassify, "Resuming with your clarification")
	return nil
}

// plan builds the decomposition blueprint. Slot-fill turns refine the stored
// blueprint in place instead of replanning from scratch.
func (p *Pipeline) plan(ctx context.Context, tc *turnContext) error {
	var prior *models.Blueprint
	if tc.slotFill {
		bp := tc.state.LastBlueprint.Clone()
		remaining := bp.RequiredClarifications[:0]
		for _, slot := range bp.RequiredClarifications {
			if slot != tc.filledSlot {
				remaining = append(remaining, slot)
			}
		}
		bp.RequiredClarifications = remaining
		if len(bp.Subquestions) > 0 || len(bp.RequiredClarifications) > 0 {
			tc.blueprint = bp
			tc.em.StageStarted(ctx, stagePlan)
			return nil
		}
		// The stored plan was clarification-only; now that the slot is
		// filled, plan the actual decomposition.
		prior = tc.state.LastBlueprint
	}

	transcript, err := p.threads.Transcript(ctx, tc.req.ThreadID)
	if err != nil {
		return fmt.Errorf("loading transcript for planner: %w", err)
	}

	out, err := llm.CompleteWithRetry(ctx, p.llm, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: plannerSystemPrompt},
			{Role: llm.RoleUser, Content: plannerPrompt(tc.effective, p.registry.Competencies(), transcript, prior)},
		},
	})
	if err != nil {
		return fmt.Errorf("planner call: %w", err)
	}
	tc.modelUsed = p.llm.Model()

	bp, perr := models.ParseBlueprint(out)
	if perr != nil {
		// A broken plan degrades to a single retrieval pass over the
		// whole question rather than failing the turn.
		tc.em.Thinking(ctx, stagePlan, "Plan was unreadable, answering the question as a single lookup")
		bp = &models.Blueprint{Subquestions: []models.Subquestion{
			{ID: "sq1", Text: tc.effective, Path: models.PathRAG},
		}}
	}
	tc.blueprint = bp
	tc.em.StageStarted(ctx, stagePlan)
	if len(bp.Subquestions) > 0 {
		tc.em.Thinking(ctx, stagePlan, fmt.Sprintf("Resolved plan: %d subquestions", len(bp.Subquestions)))
	}
	return nil
}

// clarify pauses the turn when the plan still has unresolved slots: it
// persists the pending question and blueprint, publishes a clarification
// response, and halts the pipeline. The thread resumes on the user's next
// message.
func (p *Pipeline) clarify(ctx context.Context, tc *turnContext) error {
	if !tc.blueprint.NeedsClarification() {
		return nil
	}
	tc.em.StageStarted(ctx, stageClarify)

	slots := append([]string(nil), tc.blueprint.RequiredClarifications...)
	options := clarificationOptions(slots)

	// The effective question carries every fill collected so far; persisting
	// it keeps earlier answers in play when the thread pauses again.
	pending := tc.effective
	bp := tc.blueprint
	delta := models.StateDelta{
		OpenSlots:       &slots,
		LastBlueprint:   &bp,
		PendingQuestion: &pending,
	}
	if err := p.persistState(ctx, tc, delta); err != nil {
		return err
	}

	// A first-turn pause is a clarification; a pause reached while refining
	// an already-clarified plan is a refinement ask. Same wire shape.
	status := models.StatusClarification
	if tc.slotFill {
		status = models.StatusRefinementAsk
	}

	msg := clarificationMessage(options)
	resp := models.Response{
		CorrelationID:        tc.req.CorrelationID,
		ThreadID:             tc.req.ThreadID,
		Status:               status,
		Message:              msg,
		ThinkingLog:          tc.em.Lines(),
		ModelUsed:            tc.modelUsed,
		OpenSlots:            slots,
		ClarificationOptions: options,
	}

	turn := models.Turn{
		CorrelationID:    tc.req.CorrelationID,
		ThreadID:         tc.req.ThreadID,
		UserMessage:      tc.req.Message,
		AssistantMessage: msg,
		Status:           status,
		CreatedAt:        time.Now().UTC(),
	}
	if err := p.threads.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("recording clarification turn: %w", err)
	}

	if err := p.responses.Put(ctx, resp); err != nil {
		return fmt.Errorf("storing clarification response: %w", err)
	}
	if err := tc.em.Completed(ctx, resp); err != nil {
		return fmt.Errorf("appending clarification terminal event: %w", err)
	}

	tc.halted = true
	return nil
}

// resolve runs every subquestion through its routed agent, sequentially.
// Per-subquestion failures degrade; only context cancellation or substrate
// errors fail the turn.
func (p *Pipeline) resolve(ctx context.Context, tc *turnContext) error {
	tc.em.StageStarted(ctx, stageResolve)

	for _, sq := range tc.blueprint.Subquestions {
		agent, remapped := p.registry.Route(sq.Path)
		if remapped {
			tc.em.Thinking(ctx, stageResolve, fmt.Sprintf("Unknown path %q for %s, routing to rag", sq.Path, sq.ID))
			sq.Path = models.PathRAG
		}
		tc.em.Thinking(ctx, stageResolve, "Working on: "+sq.Text)

		ans, err := agent.Answer(ctx, tc.em, sq)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", sq.ID, err)
		}
		if ans.Degraded {
			tc.em.Thinking(ctx, stageResolve, "Partial result for: "+sq.Text)
		}
		tc.answers = append(tc.answers, ans)
	}
	return nil
}

// integrate combines the subanswers into the final answer card, streaming
// the model output as message chunks. A malformed card gets one repair
// attempt, then falls back to the raw prose.
func (p *Pipeline) integrate(ctx context.Context, tc *turnContext) error {
	tc.em.StageStarted(ctx, stageIntegrate)

	raw, err := p.completeStreaming(ctx, tc, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: integratorSystemPrompt},
			{Role: llm.RoleUser, Content: integratorPrompt(tc.effective, tc.answers)},
		},
	})
	if err != nil {
		return fmt.Errorf("integrator call: %w", err)
	}
	tc.modelUsed = p.llm.Model()

	card, perr := models.ParseAnswerCard(raw)
	if perr != nil {
		tc.em.Thinking(ctx, stageIntegrate, "Reformatting answer")
		fixed, rerr := llm.CompleteWithRetry(ctx, p.llm, llm.Request{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: repairSystemPrompt},
				{Role: llm.RoleUser, Content: repairPrompt(raw)},
			},
		})
		if rerr == nil {
			if repaired, rperr := models.ParseAnswerCard(fixed); rperr == nil {
				card, raw = repaired, fixed
			}
		}
	}

	if card == nil {
		// Last resort: ship the prose as-is rather than fail a turn that
		// produced an answer.
		tc.em.Thinking(ctx, stageIntegrate, "Answer did not fit the card format, sending it as plain text")
		tc.finalMessage = strings.TrimSpace(raw)
		return nil
	}

	tc.card = card
	encoded, merr := json.Marshal(card)
	if merr != nil {
		return fmt.Errorf("encoding answer card: %w", merr)
	}
	tc.finalMessage = string(encoded)
	return nil
}

// completeStreaming runs the request through the streaming interface when
// the client supports it, relaying each delta as a message chunk. Otherwise
// it completes synchronously and emits the whole message as one chunk.
func (p *Pipeline) completeStreaming(ctx context.Context, tc *turnContext, req llm.Request) (string, error) {
	if s, ok := p.llm.(llm.Streamer); ok {
		ch, err := s.Stream(ctx, req)
		if err == nil {
			var b strings.Builder
			var streamErr error
			for chunk := range ch {
				if chunk.Err != nil {
					streamErr = chunk.Err
					break
				}
				b.WriteString(chunk.Delta)
				tc.em.Chunk(ctx, chunk.Delta)
			}
			if streamErr == nil && b.Len() > 0 {
				return b.String(), nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// Stream broke mid-answer; retry synchronously.
		}
	}

	out, err := llm.CompleteWithRetry(ctx, p.llm, req)
	if err != nil {
		return "", err
	}
	tc.em.Chunk(ctx, out)
	return out, nil
}

// publish makes the turn's outcome durable: thread state first, then the
// transcript, then the response, then the terminal event. The response is
// written before the terminal event so a reader woken by the event always
// finds it.
func (p *Pipeline) publish(ctx context.Context, tc *turnContext) error {
	sources, strip := collectSources(tc.answers)

	var noSlots []string
	var noBlueprint *models.Blueprint
	empty := ""
	delta := models.StateDelta{
		OpenSlots:       &noSlots,
		LastBlueprint:   &noBlueprint,
		PendingQuestion: &empty,
		RefinedQuery:    &tc.effective,
	}
	if err := p.persistState(ctx, tc, delta); err != nil {
		return err
	}

	turn := models.Turn{
		CorrelationID:    tc.req.CorrelationID,
		ThreadID:         tc.req.ThreadID,
		UserMessage:      tc.req.Message,
		AssistantMessage: tc.finalMessage,
		Status:           models.StatusCompleted,
		Sources:          sources,
		CreatedAt:        time.Now().UTC(),
	}
	if err := p.threads.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("recording completed turn: %w", err)
	}

	resp := models.Response{
		CorrelationID:         tc.req.CorrelationID,
		ThreadID:              tc.req.ThreadID,
		Status:                models.StatusCompleted,
		Message:               tc.finalMessage,
		Sources:               sources,
		SourceConfidenceStrip: strip,
		ThinkingLog:           tc.em.Lines(),
		ModelUsed:             tc.modelUsed,
	}
	if err := p.responses.Put(ctx, resp); err != nil {
		return fmt.Errorf("storing response: %w", err)
	}
	if err := tc.em.Completed(ctx, resp); err != nil {
		return fmt.Errorf("appending terminal completed event: %w", err)
	}
	return nil
}

// collectSources merges the subanswer citations, deduplicating by document
// id (or title when the id is empty), and derives the confidence strip from
// the retained scores in order.
func collectSources(answers []SubAnswer) ([]models.Source, []float64) {
	seen := make(map[string]bool)
	var sources []models.Source
	var strip []float64
	for _, a := range answers {
		for _, s := range a.Sources {
			key := s.DocumentID
			if key == "" {
				key = s.Title
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			sources = append(sources, s)
			strip = append(strip, s.Score)
		}
	}
	return sources, strip
}
