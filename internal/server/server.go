// Package server is the HTTP surface of the batch service.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/services/batch"
)

const requestIDHeader = "X-Request-ID"

type BatchServer struct {
	svc    *batch.Service
	logger *slog.Logger
}

func NewBatchServer(svc *batch.Service, logger *slog.Logger) *BatchServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchServer{svc: svc, logger: logger.With("component", "http")}
}

// Router builds the gin engine with every /v1 route registered.
func (s *BatchServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestContext())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1/batches")
	v1.POST("", s.CreateBatch)
	v1.GET("", s.ListBatches)
	v1.GET("/:batchId", s.GetBatch)
	v1.GET("/:batchId/review-rows", s.GetReviewRows)
	v1.PUT("/:batchId/review", s.SubmitReview)
	v1.GET("/:batchId/files/:rowId/preview", s.GetPreview)
	v1.POST("/:batchId/merge-source/local", s.SaveMergeSource)
	v1.POST("/:batchId/merge", s.RequestMerge)
	return r
}

// requestContext tags the request context with a request id and logs the outcome.
func (s *BatchServer) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), reqID))

		c.Next()

		s.logger.Info("http.request",
			"req_id", reqID,
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}
