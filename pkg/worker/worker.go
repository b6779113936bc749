// Package worker runs the pipeline consumers: a pool of workers that pull
// requests off the queue and drive each one through the turn pipeline under a
// per-turn timeout.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/pipeline"
	"github.com/carebridge/policychat/pkg/transport"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID             string       `json:"id"`
	Status         WorkerStatus `json:"status"`
	CurrentTurnID  string       `json:"current_turn_id,omitempty"`
	TurnsProcessed int          `json:"turns_processed"`
	LastActivity   time.Time    `json:"last_activity"`
}

// TurnRegistry is the subset of Pool used by Worker for turn registration.
type TurnRegistry interface {
	RegisterTurn(correlationID string, cancel context.CancelFunc)
	UnregisterTurn(correlationID string)
}

// Worker is a single queue consumer. Each delivered request is processed to
// a terminal outcome before the worker asks the queue for the next one.
type Worker struct {
	id          string
	queue       transport.RequestQueue
	pipeline    *pipeline.Pipeline
	turnTimeout time.Duration
	pool        TurnRegistry
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	mu             sync.RWMutex
	status         WorkerStatus
	currentTurnID  string
	turnsProcessed int
	lastActivity   time.Time
}

// NewWorker creates a queue worker.
func NewWorker(id string, queue transport.RequestQueue, pl *pipeline.Pipeline, turnTimeout time.Duration, pool TurnRegistry) *Worker {
	return &Worker{
		id:           id,
		queue:        queue,
		pipeline:     pl,
		turnTimeout:  turnTimeout,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker consume loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// turn. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         w.status,
		CurrentTurnID:  w.currentTurnID,
		TurnsProcessed: w.turnsProcessed,
		LastActivity:   w.lastActivity,
	}
}

// run is the main consume loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	// The consume context ends when either the process context or the
	// worker's own stop signal fires, so a blocked Consume wakes up.
	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-consumeCtx.Done():
		}
	}()

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			err := w.queue.Consume(consumeCtx, w.process)
			if err == nil {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, transport.ErrQueueUnavailable) {
				log.Error("Queue unavailable, backing off", "error", err)
				w.sleep(2 * time.Second)
				continue
			}
			log.Error("Consume failed", "error", err)
			w.sleep(time.Second)
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// process drives one delivered request through the pipeline. The request is
// already consumed: whatever happens here, it is never redelivered, so the
// pipeline owns publishing a terminal outcome.
func (w *Worker) process(ctx context.Context, req models.Request) {
	log := slog.With("worker_id", w.id, "correlation_id", req.CorrelationID, "thread_id", req.ThreadID)
	log.Info("Turn claimed", "queued_for", time.Since(req.SubmittedAt))

	w.setStatus(WorkerStatusWorking, req.CorrelationID)
	defer w.setStatus(WorkerStatusIdle, "")

	// The turn is detached from the consume context: shutdown only wakes a
	// blocked Consume, it never aborts a claimed turn. The turn timeout
	// still bounds the work.
	turnCtx, cancelTurn := context.WithTimeout(context.WithoutCancel(ctx), w.turnTimeout)
	defer cancelTurn()

	w.pool.RegisterTurn(req.CorrelationID, cancelTurn)
	defer w.pool.UnregisterTurn(req.CorrelationID)

	result := w.pipeline.Execute(turnCtx, req)

	w.mu.Lock()
	w.turnsProcessed++
	w.mu.Unlock()

	if result.Err != nil {
		log.Error("Turn ended with error", "status", result.Status, "error", result.Err)
		return
	}
	log.Info("Turn processing complete", "status", result.Status)
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, correlationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTurnID = correlationID
	w.lastActivity = time.Now()
}
