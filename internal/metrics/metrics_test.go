package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTask(t *testing.T) {
	before := testutil.ToFloat64(WorkerTasksTotal.WithLabelValues("PROCESS_BATCH", "ok"))
	ObserveTask("PROCESS_BATCH", "ok", 250*time.Millisecond)
	after := testutil.ToFloat64(WorkerTasksTotal.WithLabelValues("PROCESS_BATCH", "ok"))
	assert.Equal(t, before+1, after)
}

func TestHandlerServesRegistry(t *testing.T) {
	ObserveFile("zbon", "ok", time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "bills_pipeline_files_total"))
}
