package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
)

const batchesTable = "batches"

// batchesDDL works unchanged on postgres and sqlite.
const batchesDDL = `CREATE TABLE IF NOT EXISTS batches (
	id          TEXT PRIMARY KEY,
	batch_type  TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  BIGINT NOT NULL,
	updated_at  BIGINT NOT NULL,
	data        TEXT NOT NULL
)`

const batchesIndexDDL = `CREATE INDEX IF NOT EXISTS batches_created_at_idx ON batches (created_at)`

type sqlBatchRepo struct {
	drv *entsql.Driver
	log *slog.Logger
}

// NewSQLBatchRepository stores batches as JSON documents in a single table.
// Call Migrate once before use.
func NewSQLBatchRepository(drv *entsql.Driver, log *slog.Logger) BatchRepository {
	if log == nil {
		log = slog.Default()
	}
	return &sqlBatchRepo{drv: drv, log: log}
}

// Migrate creates the batches table if it does not exist.
func Migrate(ctx context.Context, drv *entsql.Driver) error {
	for _, stmt := range []string{batchesDDL, batchesIndexDDL} {
		if err := drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return common.NewAppError("DB_MIGRATE", "create batches table", fmt.Errorf("%w: %v", common.ErrDatabase, err))
		}
	}
	return nil
}

func (r *sqlBatchRepo) Create(ctx context.Context, batch *entity.Batch) error {
	return r.upsert(ctx, batch)
}

func (r *sqlBatchRepo) Save(ctx context.Context, batch *entity.Batch) error {
	return r.upsert(ctx, batch)
}

func (r *sqlBatchRepo) upsert(ctx context.Context, batch *entity.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", batch.ID, err)
	}
	query, args := entsql.Dialect(r.drv.Dialect()).
		Insert(batchesTable).
		Columns("id", "batch_type", "status", "created_at", "updated_at", "data").
		Values(batch.ID, string(batch.Type), string(batch.Status), batch.CreatedAt.UnixNano(), batch.UpdatedAt.UnixNano(), string(data)).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		r.log.Error("batch upsert failed", "batch_id", batch.ID, "err", err)
		return fmt.Errorf("%w: upsert batch %s: %v", common.ErrDatabase, batch.ID, err)
	}
	return nil
}

func (r *sqlBatchRepo) Get(ctx context.Context, id string) (*entity.Batch, error) {
	query, args := entsql.Dialect(r.drv.Dialect()).
		Select("data").
		From(entsql.Table(batchesTable)).
		Where(entsql.EQ("id", id)).
		Query()
	batches, err := r.queryBatches(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, nil
	}
	return batches[0], nil
}

func (r *sqlBatchRepo) List(ctx context.Context, limit int) ([]*entity.Batch, error) {
	sel := entsql.Dialect(r.drv.Dialect()).
		Select("data").
		From(entsql.Table(batchesTable)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	query, args := sel.Query()
	return r.queryBatches(ctx, query, args)
}

func (r *sqlBatchRepo) Delete(ctx context.Context, id string) error {
	query, args := entsql.Dialect(r.drv.Dialect()).
		Delete(batchesTable).
		Where(entsql.EQ("id", id)).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("%w: delete batch %s: %v", common.ErrDatabase, id, err)
	}
	return nil
}

func (r *sqlBatchRepo) queryBatches(ctx context.Context, query string, args []any) ([]*entity.Batch, error) {
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("%w: query batches: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Batch
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%w: scan batch: %v", common.ErrDatabase, err)
		}
		var b entity.Batch
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		if !b.Status.Valid() {
			return nil, fmt.Errorf("decode batch %s: unknown status %q", b.ID, b.Status)
		}
		normalizeDecoded(&b)
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate batches: %v", common.ErrDatabase, err)
	}
	return out, nil
}

// normalizeDecoded restores the empty-not-nil collections NewBatch guarantees.
func normalizeDecoded(b *entity.Batch) {
	if b.Metadata == nil {
		b.Metadata = map[string]any{}
	}
	if b.Artifacts == nil {
		b.Artifacts = map[string]any{}
	}
	if b.MergeOutput == nil {
		b.MergeOutput = map[string]any{}
	}
	if b.ReviewRows == nil {
		b.ReviewRows = []entity.ReviewRow{}
	}
	for i := range b.ReviewRows {
		if b.ReviewRows[i].Result == nil {
			b.ReviewRows[i].Result = map[string]any{}
		}
		if b.ReviewRows[i].Score == nil {
			b.ReviewRows[i].Score = map[string]any{}
		}
	}
}
