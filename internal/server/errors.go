package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/bills-analysis/internal/common"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps service errors onto HTTP statuses: not found 404, validation 400, else 500.
func (s *BatchServer) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case common.IsNotFound(err):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case common.IsValidation(err), errors.Is(err, common.ErrInvalidInput):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, common.ErrQueueClosed):
		status, code = http.StatusServiceUnavailable, "QUEUE_CLOSED"
	}

	msg := err.Error()
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	if status == http.StatusInternalServerError {
		common.LoggerWithContext(c.Request.Context(), s.logger).Error("http.request.failed", "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: msg}})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorBody{Code: "VALIDATION_ERROR", Message: msg}})
}
