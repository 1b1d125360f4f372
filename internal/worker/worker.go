// Package worker is the single queue consumer that drives batches through processing and merging.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/async"
	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
	"github.com/joseph-ayodele/bills-analysis/internal/metrics"
	"github.com/joseph-ayodele/bills-analysis/internal/pipeline"
	"github.com/joseph-ayodele/bills-analysis/internal/repository"
	"github.com/joseph-ayodele/bills-analysis/internal/telemetry"
)

// Worker pulls one task at a time and records the outcome on the batch.
// Tasks are always acked; a failed task is never retried.
type Worker struct {
	repo    repository.BatchRepository
	queue   async.TaskQueue
	backend pipeline.Backend
	logger  *slog.Logger
	now     func() time.Time
}

func New(repo repository.BatchRepository, queue async.TaskQueue, backend pipeline.Backend, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		repo:    repo,
		queue:   queue,
		backend: backend,
		logger:  logger.With("component", "worker"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes tasks until ctx is done or the queue is shut down and drained.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")
	for {
		err := w.RunOnce(ctx)
		switch {
		case err == nil:
		case errors.Is(err, common.ErrQueueClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

// RunOnce blocks for the next task and handles it. The returned error is about the queue
// only; task failures are stored on the batch.
func (w *Worker) RunOnce(ctx context.Context) error {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return err
	}
	defer w.queue.Ack(task)
	w.handle(ctx, task)
	return nil
}

func (w *Worker) handle(ctx context.Context, task entity.QueueTask) {
	ctx = common.WithTask(ctx, task.BatchID, task.ID)
	log := common.LoggerWithContext(ctx, w.logger).With("task_type", task.Type)
	ctx, span := telemetry.Tracer().Start(ctx, "worker.task")
	span.SetAttributes(
		attribute.String("batch.id", task.BatchID),
		attribute.String("task.id", task.ID),
		attribute.String("task.type", string(task.Type)),
	)
	defer span.End()

	start := time.Now()
	batch, err := w.repo.Get(ctx, task.BatchID)
	if err != nil || batch == nil {
		log.Warn("worker.task.dropped", "reason", "batch not found", "error", err)
		metrics.ObserveTask(string(task.Type), "dropped", time.Since(start))
		return
	}
	log.Info("worker.task.start", "status", batch.Status)

	err = w.execute(ctx, log, task, batch)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.fail(ctx, log, task.BatchID, batch, err)
		metrics.ObserveTask(string(task.Type), "failed", elapsed)
		log.Error("worker.task.failed", "error", err, "elapsed_ms", elapsed.Milliseconds())
		return
	}
	metrics.ObserveTask(string(task.Type), "ok", elapsed)
	log.Info("worker.task.ok", "elapsed_ms", elapsed.Milliseconds())
}

// execute runs one task against batch. A panic in the backend is turned into an error.
func (w *Worker) execute(ctx context.Context, log *slog.Logger, task entity.QueueTask, batch *entity.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	switch task.Type {
	case constants.TaskTypeProcessBatch:
		return w.process(ctx, log, batch)
	case constants.TaskTypeMergeBatch:
		return w.merge(ctx, log, batch, entity.MergePayloadFromMap(task.Payload))
	default:
		return fmt.Errorf("unsupported task type: %s", task.Type)
	}
}

func (w *Worker) process(ctx context.Context, log *slog.Logger, batch *entity.Batch) error {
	w.transition(log, batch, constants.BatchStatusRunning)
	if err := w.repo.Save(ctx, batch); err != nil {
		return fmt.Errorf("save running batch: %w", err)
	}

	res, err := w.backend.ProcessBatch(ctx, batch.Clone())
	if err != nil {
		return err
	}

	latest := w.latest(ctx, log, batch)
	if latest.Artifacts == nil {
		latest.Artifacts = map[string]any{}
	}
	for k, v := range res.Artifacts {
		latest.Artifacts[k] = v
	}
	latest.ReviewRows = res.ReviewRows
	latest.Error = ""
	w.transition(log, latest, constants.BatchStatusReviewReady)
	if err := w.repo.Save(ctx, latest); err != nil {
		return fmt.Errorf("save processed batch: %w", err)
	}
	return nil
}

func (w *Worker) merge(ctx context.Context, log *slog.Logger, batch *entity.Batch, payload entity.MergePayload) error {
	if batch.Status != constants.BatchStatusMerging {
		w.transition(log, batch, constants.BatchStatusMerging)
		if err := w.repo.Save(ctx, batch); err != nil {
			return fmt.Errorf("save merging batch: %w", err)
		}
	}

	res, err := w.backend.MergeBatch(ctx, batch.Clone(), payload)
	if err != nil {
		return err
	}

	latest := w.latest(ctx, log, batch)
	latest.MergeOutput = res.Map()
	latest.Error = ""
	w.transition(log, latest, constants.BatchStatusMerged)
	if err := w.repo.Save(ctx, latest); err != nil {
		return fmt.Errorf("save merged batch: %w", err)
	}
	return nil
}

// fail records cause on the newest stored snapshot. Earlier merge_output is kept.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, batchID string, fallback *entity.Batch, cause error) {
	ctx = context.WithoutCancel(ctx)
	b := w.latest(ctx, log, fallback)
	b.Error = cause.Error()
	w.transition(log, b, constants.BatchStatusFailed)
	if err := w.repo.Save(ctx, b); err != nil {
		log.Error("worker.batch.save_failed", "batch_id", batchID, "error", err)
	}
}

// latest re-reads the batch so writes made while the backend ran are not lost.
func (w *Worker) latest(ctx context.Context, log *slog.Logger, fallback *entity.Batch) *entity.Batch {
	b, err := w.repo.Get(ctx, fallback.ID)
	if err != nil || b == nil {
		log.Warn("worker.batch.reload_failed", "error", err)
		return fallback
	}
	return b
}

func (w *Worker) transition(log *slog.Logger, b *entity.Batch, next constants.BatchStatus) {
	from, allowed := b.TransitionTo(next, w.now())
	if !allowed {
		log.Warn("worker.batch.unexpected_transition", "from", from, "to", next)
	}
	metrics.BatchTransitions.WithLabelValues(string(from), string(next)).Inc()
}
