package repository

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/joseph-ayodele/bills-analysis/internal/entity"
)

// BatchRepository is keyed storage of batch entities.
// Every write replaces the whole record; callers serialize writers to the same batch.
type BatchRepository interface {
	// Create inserts batch. Re-creating an existing id overwrites it.
	Create(ctx context.Context, batch *entity.Batch) error
	// Get returns the batch or nil when the id is unknown.
	Get(ctx context.Context, id string) (*entity.Batch, error)
	// Save upserts the full entity.
	Save(ctx context.Context, batch *entity.Batch) error
	// List returns the newest batches first, at most limit of them.
	List(ctx context.Context, limit int) ([]*entity.Batch, error)
	// Delete removes a batch; unknown ids are ignored.
	Delete(ctx context.Context, id string) error
}

type memoryBatchRepo struct {
	mu      sync.RWMutex
	batches map[string]memoryEntry
	seq     uint64
	log     *slog.Logger
}

type memoryEntry struct {
	batch *entity.Batch
	seq   uint64
}

// NewMemoryBatchRepository returns a process-local repository. State is lost on restart.
func NewMemoryBatchRepository(log *slog.Logger) BatchRepository {
	if log == nil {
		log = slog.Default()
	}
	return &memoryBatchRepo{batches: make(map[string]memoryEntry), log: log}
}

func (r *memoryBatchRepo) Create(_ context.Context, batch *entity.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.batches[batch.ID] = memoryEntry{batch: batch.Clone(), seq: r.seq}
	r.log.Debug("batch created", "batch_id", batch.ID, "status", batch.Status)
	return nil
}

func (r *memoryBatchRepo) Get(_ context.Context, id string) (*entity.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.batches[id]
	if !ok {
		return nil, nil
	}
	return e.batch.Clone(), nil
}

func (r *memoryBatchRepo) Save(_ context.Context, batch *entity.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.batches[batch.ID]
	if !ok {
		r.seq++
		e.seq = r.seq
	}
	e.batch = batch.Clone()
	r.batches[batch.ID] = e
	return nil
}

func (r *memoryBatchRepo) List(_ context.Context, limit int) ([]*entity.Batch, error) {
	r.mu.RLock()
	entries := make([]memoryEntry, 0, len(r.batches))
	for _, e := range r.batches {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		ci, cj := entries[i].batch.CreatedAt, entries[j].batch.CreatedAt
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return entries[i].seq > entries[j].seq
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]*entity.Batch, len(entries))
	for i, e := range entries {
		out[i] = e.batch.Clone()
	}
	return out, nil
}

func (r *memoryBatchRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.batches, id)
	return nil
}
