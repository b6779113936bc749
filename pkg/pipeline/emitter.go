package pipeline

import (
	"context"
	"log/slog"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/transport"
)

// Stage announcement lines shown to the user when a stage begins. Keyed on
// stage name; stages may emit additional ad-hoc lines (evidence notes,
// degradations) on top of these.
var stageLines = map[string]string{
	stageLoad:      "Reading conversation context",
	stageClassify:  "Interpreting your question",
	stagePlan:      "Plan ready",
	stageClarify:   "I need one more detail before I can answer",
	stageResolve:   "Gathering evidence",
	stageIntegrate: "Composing answer",
}

// Emitter writes progress events for one correlation id into two sinks: the
// progress log (user-facing relay) and the technical slog logger. Thinking
// and chunk events are best-effort; an append failure never aborts a stage.
// Terminal events are not: their failure is the caller's problem.
type Emitter struct {
	log    transport.ProgressLog
	cid    string
	logger *slog.Logger

	lines []string
}

func newEmitter(log transport.ProgressLog, correlationID string, logger *slog.Logger) *Emitter {
	return &Emitter{log: log, cid: correlationID, logger: logger}
}

// StageStarted emits the static announcement line for the stage, if any.
func (e *Emitter) StageStarted(ctx context.Context, stage string) {
	if line, ok := stageLines[stage]; ok {
		e.Thinking(ctx, stage, line)
	}
}

// Thinking emits one human-readable progress line. Best-effort.
func (e *Emitter) Thinking(ctx context.Context, stage, line string) {
	e.lines = append(e.lines, line)
	e.logger.Debug("pipeline progress", "stage", stage, "line", line)
	_, err := e.log.Append(ctx, e.cid, models.EventThinking, models.ThinkingPayload{Stage: stage, Line: line})
	if err != nil {
		e.logger.Warn("Failed to append thinking event", "stage", stage, "error", err)
	}
}

// Chunk relays one streamed answer fragment. Best-effort.
func (e *Emitter) Chunk(ctx context.Context, delta string) {
	_, err := e.log.Append(ctx, e.cid, models.EventMessageChunk, models.ChunkPayload{Delta: delta})
	if err != nil {
		e.logger.Warn("Failed to append message chunk", "error", err)
	}
}

// Completed appends the terminal completed event carrying the final response
// body. Must succeed; a failure is surfaced to the caller.
func (e *Emitter) Completed(ctx context.Context, resp models.Response) error {
	_, err := e.log.Append(ctx, e.cid, models.EventCompleted, resp)
	return err
}

// Failed appends the terminal error event. Must succeed.
func (e *Emitter) Failed(ctx context.Context, resp models.Response) error {
	_, err := e.log.Append(ctx, e.cid, models.EventError, resp)
	return err
}

// Lines returns the thinking lines emitted so far, for the response's
// thinking_log field.
func (e *Emitter) Lines() []string {
	out := make([]string, len(e.lines))
	copy(out, e.lines)
	return out
}
