package async

import (
	"context"
	"log/slog"
	"sync"

	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
	"github.com/joseph-ayodele/bills-analysis/internal/metrics"
)

// TaskQueue is a FIFO of queue tasks with a blocking Dequeue.
type TaskQueue interface {
	Enqueue(ctx context.Context, task entity.QueueTask) error
	// Dequeue blocks until a task is available, ctx is done, or the queue is shut down and empty.
	Dequeue(ctx context.Context) (entity.QueueTask, error)
	// Ack marks a dequeued task as handled. Tasks are never redelivered.
	Ack(task entity.QueueTask)
}

// ChannelQueue is an in-memory TaskQueue over a buffered channel. Nothing survives a restart.
type ChannelQueue struct {
	logger *slog.Logger
	size   int

	ch      chan entity.QueueTask
	closing chan struct{}
	once    sync.Once

	// mu is held shared by senders so Shutdown can close ch once no send is in progress.
	mu     sync.RWMutex
	closed bool

	// pending counts accepted tasks until they are acked.
	pending  sync.WaitGroup
	ackMu    sync.Mutex
	inflight map[string]struct{}
}

type Option func(*ChannelQueue)

// WithQueueSize bounds the number of waiting tasks; Enqueue blocks when full.
func WithQueueSize(n int) Option {
	return func(q *ChannelQueue) {
		if n > 0 {
			q.size = n
		}
	}
}

func NewChannelQueue(logger *slog.Logger, opts ...Option) *ChannelQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ChannelQueue{
		logger:   logger.With("component", "queue"),
		size:     256,
		closing:  make(chan struct{}),
		inflight: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.ch = make(chan entity.QueueTask, q.size)
	return q
}

func (q *ChannelQueue) Enqueue(ctx context.Context, task entity.QueueTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "task_id", task.ID, "batch_id", task.BatchID)
		return common.ErrQueueClosed
	}

	q.pending.Add(1)
	select {
	case q.ch <- task:
	default:
		q.logger.Warn("queue full, applying backpressure", "task_id", task.ID, "capacity", q.size)
		select {
		case q.ch <- task:
		case <-ctx.Done():
			q.pending.Done()
			return ctx.Err()
		case <-q.closing:
			q.pending.Done()
			return common.ErrQueueClosed
		}
	}

	depth := len(q.ch)
	metrics.QueueDepth.Set(float64(depth))
	q.logger.Info("queued task", "task_id", task.ID, "batch_id", task.BatchID, "task_type", task.Type, "depth", depth)
	return nil
}

func (q *ChannelQueue) Dequeue(ctx context.Context) (entity.QueueTask, error) {
	select {
	case <-ctx.Done():
		return entity.QueueTask{}, ctx.Err()
	case task, ok := <-q.ch:
		if !ok {
			return entity.QueueTask{}, common.ErrQueueClosed
		}
		q.ackMu.Lock()
		q.inflight[task.ID] = struct{}{}
		q.ackMu.Unlock()
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return task, nil
	}
}

// Ack releases a dequeued task. Unknown or repeated acks are ignored.
func (q *ChannelQueue) Ack(task entity.QueueTask) {
	q.ackMu.Lock()
	_, ok := q.inflight[task.ID]
	delete(q.inflight, task.ID)
	q.ackMu.Unlock()
	if ok {
		q.pending.Done()
	}
}

// Len returns the number of tasks waiting to be dequeued.
func (q *ChannelQueue) Len() int {
	return len(q.ch)
}

// Shutdown stops accepting tasks, closes the channel and waits until queued and
// in-flight tasks are acked or ctx is done.
func (q *ChannelQueue) Shutdown(ctx context.Context) {
	first := false
	q.once.Do(func() {
		first = true
		// wakes senders blocked on a full channel so they release mu
		close(q.closing)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
	if !first {
		return
	}

	done := make(chan struct{})
	go func() { defer close(done); q.pending.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context", "pending", q.Len())
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
