package server

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
)

const schemaVersion = "v1"

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type batchResponse struct {
	SchemaVersion   string                `json:"schema_version"`
	BatchID         string                `json:"batch_id"`
	Type            constants.BatchType   `json:"type"`
	Status          constants.BatchStatus `json:"status"`
	RunDate         *string               `json:"run_date"`
	Inputs          []entity.InputFile    `json:"inputs"`
	Artifacts       map[string]any        `json:"artifacts"`
	ReviewRowsCount int                   `json:"review_rows_count"`
	MergeOutput     map[string]any        `json:"merge_output"`
	Error           *errorInfo            `json:"error"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func toBatchResponse(b *entity.Batch) batchResponse {
	var e *errorInfo
	if b.Error != "" {
		e = &errorInfo{Code: "BATCH_ERROR", Message: b.Error}
	}
	return batchResponse{
		SchemaVersion:   schemaVersion,
		BatchID:         b.ID,
		Type:            b.Type,
		Status:          b.Status,
		RunDate:         b.RunDate,
		Inputs:          b.Inputs,
		Artifacts:       b.Artifacts,
		ReviewRowsCount: len(b.ReviewRows),
		MergeOutput:     b.MergeOutput,
		Error:           e,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

type reviewRowResponse struct {
	RowID      string             `json:"row_id"`
	Category   constants.Category `json:"category"`
	Filename   string             `json:"filename"`
	Result     map[string]any     `json:"result"`
	Score      map[string]any     `json:"score"`
	PreviewURL *string            `json:"preview_url"`
}

type taskResponse struct {
	SchemaVersion string             `json:"schema_version"`
	TaskID        string             `json:"task_id"`
	BatchID       string             `json:"batch_id"`
	TaskType      constants.TaskType `json:"task_type"`
	CreatedAt     time.Time          `json:"created_at"`
}

func (s *BatchServer) CreateBatch(c *gin.Context) {
	var req entity.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	b, err := s.svc.CreateBatch(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBatchResponse(b))
}

func (s *BatchServer) ListBatches(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	batches, err := s.svc.ListBatches(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	items := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		items = append(items, toBatchResponse(b))
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": schemaVersion, "total": len(items), "items": items})
}

func (s *BatchServer) GetBatch(c *gin.Context) {
	b, err := s.svc.GetBatch(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBatchResponse(b))
}

// GetReviewRows returns the rows with preview URLs in place of local paths.
func (s *BatchServer) GetReviewRows(c *gin.Context) {
	b, rows, err := s.svc.GetReviewRows(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	items := make([]reviewRowResponse, 0, len(rows))
	for i, r := range rows {
		rowID := r.RowID
		if rowID == "" {
			rowID = fmt.Sprintf("row-%04d", i+1)
		}
		var preview *string
		if r.PreviewPath != nil && *r.PreviewPath != "" {
			u := fmt.Sprintf("/v1/batches/%s/files/%s/preview", b.ID, rowID)
			preview = &u
		}
		items = append(items, reviewRowResponse{
			RowID:      rowID,
			Category:   r.Category,
			Filename:   r.Filename,
			Result:     r.Result,
			Score:      r.Score,
			PreviewURL: preview,
		})
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": schemaVersion, "batch_id": b.ID, "status": b.Status, "rows": items})
}

func (s *BatchServer) SubmitReview(c *gin.Context) {
	var req entity.SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	b, err := s.svc.SaveReview(c.Request.Context(), c.Param("batchId"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBatchResponse(b))
}

func (s *BatchServer) GetPreview(c *gin.Context) {
	path, err := s.svc.ResolvePreviewPath(c.Request.Context(), c.Param("batchId"), c.Param("rowId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(path)))
	c.File(path)
}

func (s *BatchServer) SaveMergeSource(c *gin.Context) {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	b, err := s.svc.SaveMergeSourceLocal(c.Request.Context(), c.Param("batchId"), strings.TrimSpace(req.Path))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"schema_version":     schemaVersion,
		"batch_id":           b.ID,
		"monthly_excel_path": b.ArtifactString(constants.ArtifactMergeSource),
		"created_at":         b.UpdatedAt,
	})
}

func (s *BatchServer) RequestMerge(c *gin.Context) {
	var req entity.MergeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid payload: "+err.Error())
			return
		}
	}
	_, task, err := s.svc.RequestMerge(c.Request.Context(), c.Param("batchId"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskResponse{
		SchemaVersion: schemaVersion,
		TaskID:        task.ID,
		BatchID:       task.BatchID,
		TaskType:      task.Type,
		CreatedAt:     task.CreatedAt,
	})
}
