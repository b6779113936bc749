// Package pipeline implements the turn state machine: load conversational
// state, classify the message, plan the decomposition, ask for clarification
// or resolve the subquestions, integrate the findings, and publish the
// result. Exactly one worker drives a pipeline execution per correlation id.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carebridge/policychat/pkg/llm"
	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/retriever"
	"github.com/carebridge/policychat/pkg/state"
	"github.com/carebridge/policychat/pkg/transport"
)

// Stage names, in execution order. They key the announcement lines in
// stageLines and tag thinking events so readers can tell where a line came
// from.
const (
	stageLoad      = "load_state"
	stageClassify  = "classify"
	stagePlan      = "plan"
	stageClarify   = "clarify"
	stageResolve   = "resolve"
	stageIntegrate = "integrate"
	stagePublish   = "publish"
)

// publishGrace bounds the cleanup writes after the turn context is already
// canceled. A timed-out turn still owes the caller a durable failed response
// and a terminal event.
const publishGrace = 10 * time.Second

// stateAttempts is how many times a conditional state write is retried after
// a version conflict before the turn fails.
const stateAttempts = 3

// Result is the outcome of one pipeline execution, reported to the worker
// for logging.
type Result struct {
	Status models.ResponseStatus
	Err    error
}

// Pipeline executes turns. It is stateless across turns; all per-turn data
// lives in the turnContext.
type Pipeline struct {
	llm       llm.Client
	registry  *Registry
	progress  transport.ProgressLog
	responses transport.ResponseStore
	threads   state.ThreadStore
	logger    *slog.Logger
}

// New builds a pipeline over the given ports.
func New(llmClient llm.Client, retr retriever.Retriever, progress transport.ProgressLog, responses transport.ResponseStore, threads state.ThreadStore, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		llm:       llmClient,
		registry:  NewRegistry(llmClient, retr),
		progress:  progress,
		responses: responses,
		threads:   threads,
		logger:    logger,
	}
}

// turnContext carries one turn through the stages.
type turnContext struct {
	req models.Request
	em  *Emitter

	// state is the thread state the turn operates on; refreshed on
	// conflict during persistState.
	state models.ThreadState

	// effective is the message the planner sees. For slot-fill turns it is
	// the pending question augmented with the user's answer.
	effective  string
	slotFill   bool
	filledSlot string

	blueprint *models.Blueprint
	answers   []SubAnswer
	card      *models.AnswerCard

	finalMessage string
	modelUsed    string

	// halted is set when the clarify stage published a clarification ask
	// and the remaining stages must be skipped.
	halted bool
}

// Execute runs one turn to a terminal outcome. It always leaves behind a
// durable response and a terminal progress event, except when the substrate
// itself is down, in which case the inconsistency is logged and the error
// returned.
func (p *Pipeline) Execute(ctx context.Context, req models.Request) *Result {
	logger := p.logger.With("correlation_id", req.CorrelationID, "thread_id", req.ThreadID)
	tc := &turnContext{
		req:       req,
		em:        newEmitter(p.progress, req.CorrelationID, logger),
		effective: req.Message,
	}

	stages := []struct {
		name string
		fn   func(context.Context, *turnContext) error
	}{
		{stageLoad, p.loadState},
		{stageClassify, p.classify},
		{stagePlan, p.plan},
		{stageClarify, p.clarify},
		{stageResolve, p.resolve},
		{stageIntegrate, p.integrate},
		{stagePublish, p.publish},
	}

	start := time.Now()
	for _, st := range stages {
		if tc.halted {
			break
		}
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, tc, st.name, fmt.Errorf("turn deadline exceeded before %s: %w", st.name, err))
		}
		if err := st.fn(ctx, tc); err != nil {
			if st.name == stagePublish {
				// The response may already be durable; re-publishing a
				// failed response would violate immutability. Log and
				// surface.
				logger.Error("Publish stage failed after resolution, stream readers may see no terminal event",
					"error", err)
				return &Result{Status: models.StatusFailed, Err: err}
			}
			return p.fail(ctx, tc, st.name, err)
		}
	}

	status := models.StatusCompleted
	if tc.halted {
		status = models.StatusClarification
		if tc.slotFill {
			status = models.StatusRefinementAsk
		}
	}
	logger.Info("Turn finished", "status", status, "duration", time.Since(start))
	return &Result{Status: status}
}

// fail publishes the failed response and terminal error event, records the
// user message in the transcript, and returns the failed result. It runs on a
// detached context so a canceled turn can still clean up.
func (p *Pipeline) fail(ctx context.Context, tc *turnContext, stage string, cause error) *Result {
	logger := p.logger.With("correlation_id", tc.req.CorrelationID)
	logger.Error("Turn failed", "stage", stage, "error", cause)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishGrace)
	defer cancel()

	resp := models.Response{
		CorrelationID: tc.req.CorrelationID,
		ThreadID:      tc.req.ThreadID,
		Status:        models.StatusFailed,
		Message:       "I could not produce an answer for this question. Please try again.",
		ThinkingLog:   tc.em.Lines(),
		ModelUsed:     tc.modelUsed,
		Error:         cause.Error(),
	}

	if err := p.responses.Put(pubCtx, resp); err != nil {
		logger.Error("Failed to store failed response, poll readers will see pending forever", "error", err)
		return &Result{Status: models.StatusFailed, Err: errors.Join(cause, err)}
	}
	if err := tc.em.Failed(pubCtx, resp); err != nil {
		logger.Error("Failed to append terminal error event, stream readers may hang until idle timeout", "error", err)
	}

	// The user message still belongs in the transcript even though the
	// turn produced no answer.
	turn := models.Turn{
		CorrelationID: tc.req.CorrelationID,
		ThreadID:      tc.req.ThreadID,
		UserMessage:   tc.req.Message,
		Status:        models.StatusFailed,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.threads.AppendTurn(pubCtx, turn); err != nil {
		logger.Warn("Failed to record failed turn in transcript", "error", err)
	}

	return &Result{Status: models.StatusFailed, Err: cause}
}

// persistState applies the delta to the turn's view of the thread state and
// writes it conditionally. On a version conflict it re-reads the current
// state and reapplies the delta, up to stateAttempts times.
func (p *Pipeline) persistState(ctx context.Context, tc *turnContext, delta models.StateDelta) error {
	var lastErr error
	for attempt := 0; attempt < stateAttempts; attempt++ {
		next := tc.state.ApplyDelta(delta)
		err := p.threads.Put(ctx, next)
		if err == nil {
			tc.state = next
			return nil
		}
		if !errors.Is(err, state.ErrVersionConflict) {
			return fmt.Errorf("writing thread state: %w", err)
		}
		lastErr = err

		cur, gerr := p.threads.Get(ctx, tc.req.ThreadID)
		switch {
		case gerr == nil:
			tc.state = cur
		case errors.Is(gerr, state.ErrNotFound):
			tc.state = models.NewThreadState(tc.req.ThreadID)
		default:
			return fmt.Errorf("re-reading thread state after conflict: %w", gerr)
		}
	}
	return fmt.Errorf("thread state conflict persisted after %d attempts, please retry: %w", stateAttempts, lastErr)
}
