package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/transport"
)

// genEventKinds produces random event sequences. Terminal kinds may appear
// anywhere; the log must reject everything after the first one.
func genEventKinds() gopter.Gen {
	return gen.SliceOf(gen.OneConstOf(
		models.EventThinking,
		models.EventMessageChunk,
		models.EventCompleted,
		models.EventError,
	))
}

func appendAll(t *testing.T, log *ProgressLog, cid string, kinds []models.EventKind) []models.ProgressEvent {
	t.Helper()
	ctx := context.Background()
	terminalSeen := false
	for _, kind := range kinds {
		_, err := log.Append(ctx, cid, kind, models.ThinkingPayload{Line: "x"})
		if terminalSeen {
			if !errors.Is(err, transport.ErrTerminalReached) {
				t.Fatalf("append after terminal: got %v, want ErrTerminalReached", err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if kind.Terminal() {
			terminalSeen = true
		}
	}
	events, err := log.ReadSnapshot(ctx, cid)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return events
}

func TestProgressLog_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("seqs are gapless starting at 1", prop.ForAll(
		func(kinds []models.EventKind) bool {
			events := appendAll(t, NewProgressLog(), "c1", kinds)
			for i, ev := range events {
				if ev.Seq != int64(i)+1 {
					return false
				}
			}
			return true
		},
		genEventKinds(),
	))

	properties.Property("nothing follows the first terminal event", prop.ForAll(
		func(kinds []models.EventKind) bool {
			events := appendAll(t, NewProgressLog(), "c1", kinds)
			for i, ev := range events {
				if ev.Kind.Terminal() && i != len(events)-1 {
					return false
				}
			}
			return true
		},
		genEventKinds(),
	))

	properties.Property("snapshot plus resume equals the full stream", prop.ForAll(
		func(kinds []models.EventKind, cut uint8) bool {
			log := NewProgressLog()
			events := appendAll(t, log, "c1", kinds)
			if len(events) == 0 || !events[len(events)-1].Kind.Terminal() {
				// Resume would block forever on an open stream; only
				// closed streams are checked here.
				return true
			}

			after := int64(int(cut) % (len(events) + 1))
			ctx := context.Background()
			it, err := log.ReadFrom(ctx, "c1", after)
			if err != nil {
				return false
			}
			defer it.Close()

			next := after
			for {
				ev, err := it.Next(ctx)
				if errors.Is(err, transport.ErrEndOfStream) {
					break
				}
				if err != nil {
					return false
				}
				next++
				if ev.Seq != next {
					return false
				}
			}
			return next == int64(len(events))
		},
		genEventKinds(),
		gen.UInt8(),
	))

	properties.Property("streams are isolated per correlation id", prop.ForAll(
		func(kindsA, kindsB []models.EventKind) bool {
			log := NewProgressLog()
			a := appendAll(t, log, "corr-a", kindsA)
			b := appendAll(t, log, "corr-b", kindsB)
			for i, ev := range a {
				if ev.CorrelationID != "corr-a" || ev.Seq != int64(i)+1 {
					return false
				}
			}
			for i, ev := range b {
				if ev.CorrelationID != "corr-b" || ev.Seq != int64(i)+1 {
					return false
				}
			}
			return true
		},
		genEventKinds(),
		genEventKinds(),
	))

	properties.TestingRun(t)
}

// Sanity check for the generator helper itself: terminal truncation leaves at
// most one terminal event at the end.
func TestAppendAll_TruncatesAtTerminal(t *testing.T) {
	kinds := []models.EventKind{
		models.EventThinking,
		models.EventCompleted,
		models.EventThinking,
		models.EventError,
	}
	events := appendAll(t, NewProgressLog(), fmt.Sprintf("c-%d", 1), kinds)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Kind != models.EventCompleted {
		t.Fatalf("got %s, want completed", events[1].Kind)
	}
}
