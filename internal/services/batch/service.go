// Package batch is the application service behind the batch API: creation, review
// submission, merge-source registration and merge requests.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/async"
	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
	"github.com/joseph-ayodele/bills-analysis/internal/metrics"
	"github.com/joseph-ayodele/bills-analysis/internal/repository"
	"github.com/joseph-ayodele/bills-analysis/internal/review"
	"github.com/joseph-ayodele/bills-analysis/internal/utils"
)

const defaultListLimit = 100

// Service handles batch lifecycle business logic.
type Service struct {
	repo       repository.BatchRepository
	queue      async.TaskQueue
	outputRoot string
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a batch service writing artifacts under outputRoot.
func NewService(repo repository.BatchRepository, queue async.TaskQueue, outputRoot string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		queue:      queue,
		outputRoot: outputRoot,
		logger:     logger.With("component", "batch_service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateBatch stores a new QUEUED batch and enqueues its PROCESS_BATCH task.
func (s *Service) CreateBatch(ctx context.Context, req entity.CreateBatchRequest) (*entity.Batch, error) {
	b, _, err := s.CreateBatchWithTask(ctx, req)
	return b, err
}

// CreateBatchWithTask is CreateBatch that also returns the queued task.
// The batch is stored before the task is visible to the worker; a failed enqueue deletes it again.
func (s *Service) CreateBatchWithTask(ctx context.Context, req entity.CreateBatchRequest) (*entity.Batch, entity.QueueTask, error) {
	if err := validateCreate(&req); err != nil {
		s.logger.Warn("create batch rejected", "error", err)
		return nil, entity.QueueTask{}, err
	}

	b := entity.NewBatch(req, s.now())
	task := entity.NewQueueTask(b.ID, constants.TaskTypeProcessBatch, nil)

	if err := s.repo.Create(ctx, b); err != nil {
		return nil, entity.QueueTask{}, common.WrapError(err, "create batch")
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		if derr := s.repo.Delete(context.WithoutCancel(ctx), b.ID); derr != nil {
			s.logger.Error("rollback of unqueued batch failed", "batch_id", b.ID, "error", derr)
		}
		return nil, entity.QueueTask{}, common.WrapError(err, "enqueue process task")
	}

	s.logger.Info("batch created",
		"batch_id", b.ID,
		"batch_type", b.Type,
		"inputs", len(b.Inputs),
		"task_id", task.ID,
	)
	return b.Clone(), task, nil
}

// validateCreate applies struct tags, canonicalizes categories and checks each against the batch type.
func validateCreate(req *entity.CreateBatchRequest) error {
	if bt, ok := constants.ParseBatchType(string(req.Type)); ok {
		req.Type = bt
	}
	if err := common.ValidateStruct(req); err != nil {
		return err
	}
	v := common.NewValidator()
	for i := range req.Inputs {
		cat, _ := constants.Canonicalize(string(req.Inputs[i].Category))
		req.Inputs[i].Category = cat
		req.Inputs[i].Path = strings.TrimSpace(req.Inputs[i].Path)
		if !req.Type.Accepts(cat) {
			v.Add(fmt.Sprintf("inputs[%d].category", i), cat,
				fmt.Sprintf("category %s is not allowed in a %s batch", cat, req.Type))
		}
	}
	return v.Err()
}

// GetBatch returns the batch or a not-found error.
func (s *Service) GetBatch(ctx context.Context, batchID string) (*entity.Batch, error) {
	b, err := s.repo.Get(ctx, batchID)
	if err != nil {
		return nil, common.WrapError(err, "get batch")
	}
	if b == nil {
		return nil, common.NewNotFoundError("batch", batchID)
	}
	return b, nil
}

// ListBatches returns the newest batches first. A non-positive limit means 100.
func (s *Service) ListBatches(ctx context.Context, limit int) ([]*entity.Batch, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.List(ctx, limit)
}

// SaveReview normalizes submitted rows, writes the working file and the audit snapshot,
// and replaces the batch's review rows. Status is left alone.
func (s *Service) SaveReview(ctx context.Context, batchID string, req entity.SubmitReviewRequest) (*entity.Batch, error) {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	rows, err := review.Normalize(b.RunDateValue(), req.Rows)
	if err != nil {
		s.logger.Warn("review rejected", "batch_id", batchID, "error", err)
		return nil, err
	}

	dir := s.batchDir(batchID)
	reviewPath := filepath.Join(dir, constants.ReviewRowsFileName)
	snapshotPath := filepath.Join(dir, constants.ReviewSnapshotFileName)
	if err := utils.WriteJSONFile(reviewPath, rows); err != nil {
		return nil, err
	}
	if err := utils.WriteJSONFile(snapshotPath, rows); err != nil {
		return nil, err
	}

	if b.Artifacts == nil {
		b.Artifacts = map[string]any{}
	}
	b.Artifacts[constants.ArtifactReviewJSON] = reviewPath
	b.Artifacts[constants.ArtifactReviewSnapshot] = snapshotPath
	b.ReviewRows = rows
	b.Touch(s.now())
	if err := s.repo.Save(ctx, b); err != nil {
		return nil, common.WrapError(err, "save review")
	}
	s.logger.Info("review saved", "batch_id", batchID, "rows", len(rows), "status", b.Status)
	return b, nil
}

// GetReviewRows returns the stored rows, falling back to the review artifact written by processing.
func (s *Service) GetReviewRows(ctx context.Context, batchID string) (*entity.Batch, []entity.ReviewRow, error) {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	if len(b.ReviewRows) > 0 {
		return b, b.ReviewRows, nil
	}
	path := b.ArtifactString(constants.ArtifactReviewJSON)
	if path == "" || !utils.FileExists(path) {
		return b, []entity.ReviewRow{}, nil
	}
	var rows []entity.ReviewRow
	if err := utils.ReadJSONFile(path, &rows); err != nil {
		return nil, nil, common.WrapError(err, "load review rows")
	}
	return b, rows, nil
}

// SaveMergeSourceLocal registers a monthly workbook for later merges. The file is copied
// into the batch's merge_source directory unless it already lives there.
func (s *Service) SaveMergeSourceLocal(ctx context.Context, batchID, path string) (*entity.Batch, error) {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, common.NewValidationError("merge source path is required")
	}
	if _, ok := constants.MergeSourceExtensions[constants.NormalizeExt(filepath.Ext(path))]; !ok {
		return nil, common.NewValidationError("merge source must be .xlsx or .xlsm file")
	}
	if !utils.FileExists(path) {
		return nil, common.NewValidationError("merge source not found: " + path)
	}

	destDir := filepath.Join(s.batchDir(batchID), constants.MergeSourceDirName)
	dest := path
	if !utils.IsWithin(destDir, path) {
		dest = filepath.Join(destDir, filepath.Base(path))
		if err := copyFile(path, dest); err != nil {
			return nil, fmt.Errorf("store merge source: %w", err)
		}
	}
	if abs, err := filepath.Abs(dest); err == nil {
		dest = abs
	}

	if b.Artifacts == nil {
		b.Artifacts = map[string]any{}
	}
	b.Artifacts[constants.ArtifactMergeSource] = dest
	b.Touch(s.now())
	if err := s.repo.Save(ctx, b); err != nil {
		return nil, common.WrapError(err, "save merge source")
	}
	s.logger.Info("merge source saved", "batch_id", batchID, "path", dest)
	return b, nil
}

// RequestMerge resolves the monthly workbook, moves the batch to MERGING and enqueues
// MERGE_BATCH. Validation failures leave the batch untouched.
func (s *Service) RequestMerge(ctx context.Context, batchID string, req entity.MergeRequest) (*entity.Batch, entity.QueueTask, error) {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, entity.QueueTask{}, err
	}
	req.Mode = constants.MergeMode(strings.ToLower(strings.TrimSpace(string(req.Mode))))
	if req.Mode == "" {
		req.Mode = constants.MergeModeOverwrite
	}
	if err := common.ValidateStruct(req); err != nil {
		return nil, entity.QueueTask{}, err
	}

	monthly := utils.StrOrEmpty(utils.TrimmedPtr(req.MonthlyExcelPath))
	if monthly == "" {
		monthly = b.ArtifactString(constants.ArtifactMergeSource)
	}
	if monthly == "" {
		s.logger.Warn("merge rejected: no monthly workbook", "batch_id", batchID)
		return nil, entity.QueueTask{}, common.NewValidationError(
			"monthly_excel_path is required (upload a local merge source or pass one explicitly)")
	}

	payload := entity.MergePayload{Mode: req.Mode, MonthlyExcelPath: monthly, Metadata: req.Metadata}
	task := entity.NewQueueTask(batchID, constants.TaskTypeMergeBatch, payload.Map())

	prevStatus, prevUpdated := b.Status, b.UpdatedAt
	from, allowed := b.TransitionTo(constants.BatchStatusMerging, s.now())
	if !allowed {
		s.logger.Warn("unexpected batch transition", "batch_id", batchID, "from", from, "to", b.Status)
	}
	if err := s.repo.Save(ctx, b); err != nil {
		return nil, entity.QueueTask{}, common.WrapError(err, "save batch")
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		b.Status, b.UpdatedAt = prevStatus, prevUpdated
		if serr := s.repo.Save(context.WithoutCancel(ctx), b); serr != nil {
			s.logger.Error("restore status after failed enqueue", "batch_id", batchID, "error", serr)
		}
		return nil, entity.QueueTask{}, common.WrapError(err, "enqueue merge task")
	}
	metrics.BatchTransitions.WithLabelValues(string(from), string(b.Status)).Inc()

	s.logger.Info("merge requested",
		"batch_id", batchID,
		"task_id", task.ID,
		"mode", req.Mode,
		"monthly_excel_path", monthly,
	)
	return b, task, nil
}

// ResolvePreviewPath returns the archived preview PDF of one review row. Paths outside the
// batch directory, non-PDF files and missing files are all reported as not found.
func (s *Service) ResolvePreviewPath(ctx context.Context, batchID, rowID string) (string, error) {
	_, rows, err := s.GetReviewRows(ctx, batchID)
	if err != nil {
		return "", err
	}
	notFound := common.NewNotFoundError("preview file", batchID+"/"+rowID)
	for _, r := range rows {
		if r.RowID != rowID {
			continue
		}
		p := utils.StrOrEmpty(r.PreviewPath)
		if p == "" {
			return "", notFound
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", notFound
		}
		if !utils.IsWithin(s.batchDir(batchID), abs) || constants.NormalizeExt(filepath.Ext(abs)) != "pdf" || !utils.FileExists(abs) {
			return "", notFound
		}
		return abs, nil
	}
	return "", notFound
}

func (s *Service) batchDir(batchID string) string {
	return filepath.Join(s.outputRoot, batchID)
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
