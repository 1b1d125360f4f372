package batch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/async"
	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
	"github.com/joseph-ayodele/bills-analysis/internal/repository"
)

type failingQueue struct{ err error }

func (q failingQueue) Enqueue(context.Context, entity.QueueTask) error { return q.err }
func (q failingQueue) Dequeue(context.Context) (entity.QueueTask, error) {
	return entity.QueueTask{}, q.err
}
func (q failingQueue) Ack(entity.QueueTask) {}

type fixture struct {
	svc   *Service
	repo  repository.BatchRepository
	queue *async.ChannelQueue
	root  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	repo := repository.NewMemoryBatchRepository(logger)
	queue := async.NewChannelQueue(logger)
	root := t.TempDir()
	return fixture{svc: NewService(repo, queue, root, logger), repo: repo, queue: queue, root: root}
}

func strPtr(s string) *string { return &s }

func dailyRequest() entity.CreateBatchRequest {
	return entity.CreateBatchRequest{
		Type:    constants.BatchTypeDaily,
		RunDate: strPtr("04/02/2026"),
		Inputs:  []entity.InputFile{{Path: "/in/z1.pdf", Category: constants.CategoryZBon}},
	}
}

func createDaily(t *testing.T, f fixture) *entity.Batch {
	t.Helper()
	b, err := f.svc.CreateBatch(context.Background(), dailyRequest())
	require.NoError(t, err)
	return b
}

func TestCreateBatchWithTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, task, err := f.svc.CreateBatchWithTask(ctx, dailyRequest())
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusQueued, b.Status)
	assert.Equal(t, b.ID, task.BatchID)
	assert.Equal(t, constants.TaskTypeProcessBatch, task.Type)
	assert.Equal(t, 1, f.queue.Len())

	stored, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusQueued, stored.Status)
	assert.Equal(t, "04/02/2026", stored.RunDateValue())

	queued, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, queued.ID)
}

func TestCreateBatchCanonicalizesInputs(t *testing.T) {
	f := newFixture(t)
	req := dailyRequest()
	req.Type = "DAILY"
	req.Inputs = []entity.InputFile{{Path: " /in/a.pdf ", Category: "Z-Bon"}, {Path: "/in/b.pdf", Category: "cash"}}

	b, err := f.svc.CreateBatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchTypeDaily, b.Type)
	assert.Equal(t, []entity.InputFile{
		{Path: "/in/a.pdf", Category: constants.CategoryZBon},
		{Path: "/in/b.pdf", Category: constants.CategoryBar},
	}, b.Inputs)
}

func TestCreateBatchValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*entity.CreateBatchRequest)
		wantMsg string
	}{
		{"no inputs", func(r *entity.CreateBatchRequest) { r.Inputs = nil }, "Inputs"},
		{"bad run date", func(r *entity.CreateBatchRequest) { r.RunDate = strPtr("2026-02-04") }, "must match DD/MM/YYYY"},
		{"unknown category", func(r *entity.CreateBatchRequest) { r.Inputs[0].Category = "fuel" }, "must be one of bar, zbon, office"},
		{"category outside batch type", func(r *entity.CreateBatchRequest) { r.Inputs[0].Category = constants.CategoryOffice },
			"category office is not allowed in a daily batch"},
		{"bad type", func(r *entity.CreateBatchRequest) { r.Type = "weekly" }, "must be one of daily, office"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := dailyRequest()
			tt.mutate(&req)

			_, _, err := f.svc.CreateBatchWithTask(context.Background(), req)
			require.Error(t, err)
			assert.True(t, common.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantMsg)

			all, err := f.svc.ListBatches(context.Background(), 0)
			require.NoError(t, err)
			assert.Empty(t, all)
			assert.Zero(t, f.queue.Len())
		})
	}
}

func TestCreateBatchRollsBackOnEnqueueFailure(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	repo := repository.NewMemoryBatchRepository(logger)
	svc := NewService(repo, failingQueue{err: common.ErrQueueClosed}, t.TempDir(), logger)

	b, _, err := svc.CreateBatchWithTask(context.Background(), dailyRequest())
	require.Error(t, err)
	assert.Nil(t, b)
	assert.True(t, errors.Is(err, common.ErrQueueClosed))

	all, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGetBatchNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetBatch(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, common.IsNotFound(err))
	assert.Contains(t, err.Error(), "missing")
}

func TestListBatchesNewestFirst(t *testing.T) {
	f := newFixture(t)
	first := createDaily(t, f)
	second := createDaily(t, f)

	all, err := f.svc.ListBatches(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	one, err := f.svc.ListBatches(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func reviewRequest() entity.SubmitReviewRequest {
	return entity.SubmitReviewRequest{Rows: []map[string]any{{
		"category": "zbon",
		"filename": "z1.pdf",
		"result":   map[string]any{"brutto": "100.00", "store_name": "Metro"},
		"score":    map[string]any{"brutto": 0.99},
	}}}
}

func TestSaveReviewIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := createDaily(t, f)

	first, err := f.svc.SaveReview(ctx, b.ID, reviewRequest())
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusQueued, first.Status, "review never changes status")
	require.Len(t, first.ReviewRows, 1)
	assert.Equal(t, "row-0001", first.ReviewRows[0].RowID)
	assert.Equal(t, "04/02/2026", first.ReviewRows[0].Result["run_date"])

	snapshotPath := first.ArtifactString(constants.ArtifactReviewSnapshot)
	reviewPath := first.ArtifactString(constants.ArtifactReviewJSON)
	assert.Equal(t, filepath.Join(f.root, b.ID, "review_submitted.json"), snapshotPath)
	snap1, err := os.ReadFile(snapshotPath)
	require.NoError(t, err)
	work1, err := os.ReadFile(reviewPath)
	require.NoError(t, err)

	second, err := f.svc.SaveReview(ctx, b.ID, reviewRequest())
	require.NoError(t, err)
	assert.Equal(t, first.ReviewRows, second.ReviewRows)
	snap2, err := os.ReadFile(snapshotPath)
	require.NoError(t, err)
	work2, err := os.ReadFile(reviewPath)
	require.NoError(t, err)
	assert.Equal(t, snap1, snap2)
	assert.Equal(t, work1, work2)
}

func TestSaveReviewRejectsWholeSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := createDaily(t, f)
	_, err := f.svc.SaveReview(ctx, b.ID, reviewRequest())
	require.NoError(t, err)

	req := reviewRequest()
	req.Rows = append(req.Rows, map[string]any{
		"category": "zbon",
		"filename": "z2.pdf",
		"result":   map[string]any{"run_date": "04/02/2026"},
	})
	_, err = f.svc.SaveReview(ctx, b.ID, req)
	require.Error(t, err)
	assert.True(t, common.IsValidation(err))

	_, rows, err := f.svc.GetReviewRows(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "z1.pdf", rows[0].Filename)
}

func TestSaveReviewUnknownBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SaveReview(context.Background(), "nope", reviewRequest())
	assert.True(t, common.IsNotFound(err))
}

func TestGetReviewRowsFallsBackToArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := createDaily(t, f)

	_, rows, err := f.svc.GetReviewRows(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	path := filepath.Join(f.root, b.ID, "review_rows.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`[{"row_id":"row-0001","filename":"z1.pdf","category":"zbon","result":{"brutto":12.5},"score":{},"preview_path":null}]`), 0o644))
	stored, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	stored.Artifacts[constants.ArtifactReviewJSON] = path
	require.NoError(t, f.repo.Save(ctx, stored))

	_, rows, err = f.svc.GetReviewRows(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 12.5, rows[0].Result["brutto"])
	assert.Nil(t, rows[0].PreviewPath)
}

func writeFile(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0o644))
	return path
}

func TestSaveMergeSourceLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := createDaily(t, f)
	src := t.TempDir()

	_, err := f.svc.SaveMergeSourceLocal(ctx, b.ID, writeFile(t, filepath.Join(src, "monthly.csv")))
	require.Error(t, err)
	assert.True(t, common.IsValidation(err))

	_, err = f.svc.SaveMergeSourceLocal(ctx, b.ID, filepath.Join(src, "absent.xlsx"))
	require.Error(t, err)
	assert.True(t, common.IsValidation(err))

	got, err := f.svc.SaveMergeSourceLocal(ctx, b.ID, writeFile(t, filepath.Join(src, "Monthly.XLSM")))
	require.NoError(t, err)
	dest := got.ArtifactString(constants.ArtifactMergeSource)
	want, _ := filepath.Abs(filepath.Join(f.root, b.ID, "merge_source", "Monthly.XLSM"))
	assert.Equal(t, want, dest)
	_, err = os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusQueued, got.Status)
}

func TestRequestMergeWithoutSourceLeavesBatchUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := createDaily(t, f)
	_, _ = f.queue.Dequeue(ctx)

	_, _, err := f.svc.RequestMerge(ctx, b.ID, entity.MergeRequest{MonthlyExcelPath: strPtr("   ")})
	require.Error(t, err)
	assert.True(t, common.IsValidation(err))
	assert.Contains(t, err.Error(), "monthly_excel_path is required")

	stored, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusQueued, stored.Status)
	assert.Zero(t, f.queue.Len())
}

func TestRequestMergeInvalidMode(t *testing.T) {
	f := newFixture(t)
	b := createDaily(t, f)
	_, _, err := f.svc.RequestMerge(context.Background(), b.ID, entity.MergeRequest{Mode: "replace", MonthlyExcelPath: strPtr("/m.xlsx")})
	require.Error(t, err)
	assert.True(t, common.IsValidation(err))
}

func TestRequestMergeResolvesSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := createDaily(t, f)
	_, _ = f.queue.Dequeue(ctx)

	saved, err := f.svc.SaveMergeSourceLocal(ctx, b.ID, writeFile(t, filepath.Join(t.TempDir(), "monthly.xlsx")))
	require.NoError(t, err)
	uploaded := saved.ArtifactString(constants.ArtifactMergeSource)

	got, task, err := f.svc.RequestMerge(ctx, b.ID, entity.MergeRequest{})
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusMerging, got.Status)
	assert.Equal(t, constants.TaskTypeMergeBatch, task.Type)
	assert.Equal(t, b.ID, task.BatchID)
	payload := entity.MergePayloadFromMap(task.Payload)
	assert.Equal(t, constants.MergeModeOverwrite, payload.Mode)
	assert.Equal(t, uploaded, payload.MonthlyExcelPath)

	_, task, err = f.svc.RequestMerge(ctx, b.ID, entity.MergeRequest{Mode: "Append", MonthlyExcelPath: strPtr(" /explicit.xlsx ")})
	require.NoError(t, err)
	payload = entity.MergePayloadFromMap(task.Payload)
	assert.Equal(t, constants.MergeModeAppend, payload.Mode)
	assert.Equal(t, "/explicit.xlsx", payload.MonthlyExcelPath)
	assert.Equal(t, 2, f.queue.Len())

	stored, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, uploaded, stored.ArtifactString(constants.ArtifactMergeSource), "merge source is never cleared")
}

func TestRequestMergeRestoresStatusOnEnqueueFailure(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	repo := repository.NewMemoryBatchRepository(logger)
	ctx := context.Background()
	b := entity.NewBatch(dailyRequest(), time.Now().UTC())
	b.Status = constants.BatchStatusReviewReady
	require.NoError(t, repo.Create(ctx, b))

	svc := NewService(repo, failingQueue{err: common.ErrQueueClosed}, t.TempDir(), logger)
	_, _, err := svc.RequestMerge(ctx, b.ID, entity.MergeRequest{MonthlyExcelPath: strPtr("/m.xlsx")})
	require.ErrorIs(t, err, common.ErrQueueClosed)

	stored, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusReviewReady, stored.Status)
}

func TestResolvePreviewPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := createDaily(t, f)

	inside := writeFile(t, filepath.Join(f.root, b.ID, "archive", "zbon", "z1_abc.pdf"))
	outside := writeFile(t, filepath.Join(t.TempDir(), "leak.pdf"))
	notPDF := writeFile(t, filepath.Join(f.root, b.ID, "archive", "zbon", "z1.txt"))

	stored, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	mk := func(id, preview string) entity.ReviewRow {
		r := entity.ReviewRow{RowID: id, Filename: id + ".pdf", Category: constants.CategoryZBon,
			Result: map[string]any{"brutto": 1.0}, Score: map[string]any{}}
		if preview != "" {
			r.PreviewPath = strPtr(preview)
		}
		return r
	}
	stored.ReviewRows = []entity.ReviewRow{
		mk("row-0001", inside),
		mk("row-0002", outside),
		mk("row-0003", notPDF),
		mk("row-0004", ""),
		mk("row-0005", filepath.Join(f.root, b.ID, "archive", "gone.pdf")),
	}
	require.NoError(t, f.repo.Save(ctx, stored))

	got, err := f.svc.ResolvePreviewPath(ctx, b.ID, "row-0001")
	require.NoError(t, err)
	want, _ := filepath.Abs(inside)
	assert.Equal(t, want, got)

	for _, id := range []string{"row-0002", "row-0003", "row-0004", "row-0005", "row-0099"} {
		_, err := f.svc.ResolvePreviewPath(ctx, b.ID, id)
		assert.True(t, common.IsNotFound(err), id)
	}
	_, err = f.svc.ResolvePreviewPath(ctx, "nope", "row-0001")
	assert.True(t, common.IsNotFound(err))
}
