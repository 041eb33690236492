package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"cashflowsim/internal/amqp"
	"cashflowsim/internal/log"
	"cashflowsim/internal/simulation"
	"cashflowsim/internal/storage"
)

// ResultPublisher publishes completed simulations back to the broker.
type ResultPublisher interface {
	PublishSimulationResult(ctx context.Context, msg *amqp.SimulationResultMessage) error
}

// SimulationWorker consumes queued simulation jobs, runs them, records the
// outcome, and publishes a result message.
type SimulationWorker struct {
	store     *storage.RunStore
	publisher ResultPublisher
	logger    *log.Logger

	processed int64
	failed    int64
}

func NewSimulationWorker(store *storage.RunStore, publisher ResultPublisher, logger *log.Logger) *SimulationWorker {
	return &SimulationWorker{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// HandleJob processes a single simulation job. A validation failure is
// terminal: the error goes into the result message and the job is still
// acked, since redelivery cannot fix a malformed request.
func (w *SimulationWorker) HandleJob(ctx context.Context, msg *amqp.SimulationJobMessage) error {
	start := time.Now()

	w.logger.InfoContext(ctx, "Running simulation job",
		log.FieldJobID, msg.ID,
		log.FieldEventCount, len(msg.Request.Events))

	if unknown := simulation.UnknownFrequencies(msg.Request.Events); len(unknown) > 0 {
		w.logger.WarnContext(ctx, "Job has events with unrecognized frequency",
			log.FieldJobID, msg.ID,
			"events", unknown)
	}

	resp, err := simulation.Run(msg.Request)
	if err != nil {
		atomic.AddInt64(&w.failed, 1)
		w.logger.ErrorContext(ctx, "Simulation job failed",
			log.FieldJobID, msg.ID,
			"error", err)
		return w.publishResult(ctx, amqp.NewSimulationErrorMessage(msg.ID, err))
	}

	if w.store != nil {
		if err := w.store.SaveRun(ctx, msg.Request, resp); err != nil {
			// Requeue: the run succeeded but the outcome was not recorded.
			return fmt.Errorf("record run %s: %w", msg.ID, err)
		}
	}

	atomic.AddInt64(&w.processed, 1)
	w.logger.InfoContext(ctx, "Simulation job completed",
		log.FieldJobID, msg.ID,
		log.FieldEntryCount, len(resp.Cashflows),
		"final_balance_cents", resp.FinalBalance(),
		"duration_ms", time.Since(start).Milliseconds())

	return w.publishResult(ctx, amqp.NewSimulationResultMessage(msg.ID, resp))
}

func (w *SimulationWorker) publishResult(ctx context.Context, msg *amqp.SimulationResultMessage) error {
	if w.publisher == nil {
		return nil
	}
	if err := w.publisher.PublishSimulationResult(ctx, msg); err != nil {
		return fmt.Errorf("publish result %s: %w", msg.ID, err)
	}
	return nil
}

// Stats returns the number of jobs processed and failed so far.
func (w *SimulationWorker) Stats() (processed, failed int64) {
	return atomic.LoadInt64(&w.processed), atomic.LoadInt64(&w.failed)
}

// ReportStats logs throughput counters until the context is cancelled.
func (w *SimulationWorker) ReportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, failed := w.Stats()
			w.logger.InfoContext(ctx, "Worker stats",
				"processed", processed,
				"failed", failed)
		}
	}
}
