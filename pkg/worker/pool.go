package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/policychat/pkg/pipeline"
	"github.com/carebridge/policychat/pkg/transport"
)

// PoolHealth is the pool's health snapshot, exposed by the health endpoint.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	PodID         string         `json:"pod_id"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	ActiveTurns   int            `json:"active_turns"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// Pool manages a set of queue workers sharing one pipeline.
type Pool struct {
	podID       string
	queue       transport.RequestQueue
	pipeline    *pipeline.Pipeline
	workerCount int
	turnTimeout time.Duration
	workers     []*Worker

	// Turn cancel registry: correlation_id -> cancel function.
	activeTurns map[string]context.CancelFunc
	mu          sync.RWMutex
	started     bool
}

// NewPool creates a worker pool.
func NewPool(podID string, queue transport.RequestQueue, pl *pipeline.Pipeline, workerCount int, turnTimeout time.Duration) *Pool {
	return &Pool{
		podID:       podID,
		queue:       queue,
		pipeline:    pl,
		workerCount: workerCount,
		turnTimeout: turnTimeout,
		workers:     make([]*Worker, 0, workerCount),
		activeTurns: make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines. Safe to call multiple times; subsequent
// calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		w := NewWorker(workerID, p.queue, p.pipeline, p.turnTimeout, p)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
	slog.Info("Worker pool started")
}

// Stop signals all workers to stop and waits for them to finish. Workers
// complete their current turns before exiting.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeTurnIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active turns to complete",
			"count", len(active), "correlation_ids", active)
	}

	for _, w := range p.workers {
		w.Stop()
	}
	slog.Info("Worker pool stopped gracefully")
}

// RegisterTurn stores a cancel function for the turn.
func (p *Pool) RegisterTurn(correlationID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTurns[correlationID] = cancel
}

// UnregisterTurn removes the cancel function when processing ends.
func (p *Pool) UnregisterTurn(correlationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeTurns, correlationID)
}

// InFlight reports whether a turn for the thread's correlation id is
// currently executing on this pod.
func (p *Pool) InFlight(correlationID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.activeTurns[correlationID]
	return ok
}

// Health returns the pool's health snapshot.
func (p *Pool) Health() *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, w := range p.workers {
		stats := w.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	p.mu.RLock()
	activeTurns := len(p.activeTurns)
	p.mu.RUnlock()

	return &PoolHealth{
		IsHealthy:     len(p.workers) > 0,
		PodID:         p.podID,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		ActiveTurns:   activeTurns,
		WorkerStats:   workerStats,
	}
}

// activeTurnIDs returns the correlation ids currently processing, for logging.
func (p *Pool) activeTurnIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeTurns))
	for id := range p.activeTurns {
		ids = append(ids, id)
	}
	return ids
}
