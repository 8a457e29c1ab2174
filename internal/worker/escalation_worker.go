package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/service"
)

// EscalationWorker owns the SLA schedule: each tick sweeps open queries and
// then retries unassigned ones.
type EscalationWorker struct {
	escalation *service.EscalationService
	assignment *service.AssignmentService
	clock      service.Clock
	interval   time.Duration
	batchLimit int
	logger     *zap.Logger
}

// TickResult summarizes one pass.
type TickResult struct {
	Transitions []service.Transition
	Batch       *service.BatchResult
}

// NewEscalationWorker builds the worker.
func NewEscalationWorker(escalation *service.EscalationService, assignment *service.AssignmentService, clock service.Clock, interval time.Duration, batchLimit int, logger *zap.Logger) *EscalationWorker {
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &EscalationWorker{
		escalation: escalation,
		assignment: assignment,
		clock:      clock,
		interval:   interval,
		batchLimit: batchLimit,
		logger:     logger,
	}
}

// Run ticks until ctx is cancelled. The first pass runs immediately.
func (w *EscalationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("escalation worker started", zap.Duration("interval", w.interval), zap.Int("batch_limit", w.batchLimit))
	w.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("escalation worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep followed by one batch assignment.
func (w *EscalationWorker) Tick(ctx context.Context) TickResult {
	var result TickResult
	transitions, err := w.escalation.Sweep(ctx, w.clock.Now())
	if err != nil {
		w.logger.Error("escalation sweep failed", zap.Error(err))
	}
	result.Transitions = transitions

	batch, err := w.assignment.BatchAssign(ctx, w.batchLimit)
	if err != nil {
		w.logger.Error("batch assign failed", zap.Error(err))
	}
	result.Batch = batch
	return result
}
