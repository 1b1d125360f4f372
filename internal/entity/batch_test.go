package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/bills-analysis/constants"
)

func newTestBatch(now time.Time) *Batch {
	rd := "04/02/2026"
	return NewBatch(CreateBatchRequest{
		Type:     constants.BatchTypeDaily,
		RunDate:  &rd,
		Inputs:   []InputFile{{Path: "/in/z1.pdf", Category: constants.CategoryZBon}},
		Metadata: map[string]any{"source": "upload", "tags": []any{"a"}},
	}, now)
}

func TestNewBatch(t *testing.T) {
	now := time.Unix(1770000000, 0).UTC()
	b := newTestBatch(now)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, constants.BatchStatusQueued, b.Status)
	assert.Equal(t, now, b.CreatedAt)
	assert.Equal(t, now, b.UpdatedAt)
	assert.Equal(t, "04/02/2026", b.RunDateValue())
	assert.NotNil(t, b.Artifacts)
	assert.NotNil(t, b.MergeOutput)
}

func TestCloneIsDeep(t *testing.T) {
	b := newTestBatch(time.Now())
	b.Artifacts["review_json_path"] = "/out/review_rows.json"
	b.ReviewRows = []ReviewRow{{RowID: "row-0001", Result: map[string]any{"brutto": "1.00"}}}

	c := b.Clone()
	*c.RunDate = "05/02/2026"
	c.Inputs[0].Path = "/other.pdf"
	c.Metadata["tags"].([]any)[0] = "b"
	c.Artifacts["review_json_path"] = "x"
	c.ReviewRows[0].Result["brutto"] = "2.00"

	assert.Equal(t, "04/02/2026", b.RunDateValue())
	assert.Equal(t, "/in/z1.pdf", b.Inputs[0].Path)
	assert.Equal(t, "a", b.Metadata["tags"].([]any)[0])
	assert.Equal(t, "/out/review_rows.json", b.ArtifactString("review_json_path"))
	assert.Equal(t, "1.00", b.ReviewRows[0].Result["brutto"])

	var nilBatch *Batch
	assert.Nil(t, nilBatch.Clone())
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	now := time.Unix(1770000000, 0).UTC()
	b := newTestBatch(now)
	b.Touch(now.Add(-time.Minute))
	assert.Equal(t, now, b.UpdatedAt)
	b.Touch(now.Add(time.Minute))
	assert.Equal(t, now.Add(time.Minute), b.UpdatedAt)
}

func TestTransitionTo(t *testing.T) {
	now := time.Unix(1770000000, 0).UTC()
	b := newTestBatch(now)

	prev, allowed := b.TransitionTo(constants.BatchStatusRunning, now.Add(time.Second))
	assert.Equal(t, constants.BatchStatusQueued, prev)
	assert.True(t, allowed)
	assert.Equal(t, constants.BatchStatusRunning, b.Status)
	assert.Equal(t, now.Add(time.Second), b.UpdatedAt)

	prev, allowed = b.TransitionTo(constants.BatchStatusMerged, now.Add(2*time.Second))
	assert.Equal(t, constants.BatchStatusRunning, prev)
	assert.False(t, allowed)
	assert.Equal(t, constants.BatchStatusMerged, b.Status)
}

func TestMergePayloadRoundTrip(t *testing.T) {
	p := MergePayloadFromMap(map[string]any{})
	assert.Equal(t, constants.MergeModeOverwrite, p.Mode)

	in := MergePayload{Mode: constants.MergeModeAppend, MonthlyExcelPath: "/m.xlsx", Metadata: map[string]any{"k": "v"}}
	out := MergePayloadFromMap(in.Map())
	require.Equal(t, in, out)
}

func TestProcessedRowFailures(t *testing.T) {
	row := ProcessedRow{ArchiveError: "gs missing"}
	assert.False(t, row.HasExternalFailure())

	row.SemanticError = "llm down"
	row.Error = "missing input file: x"
	assert.True(t, row.HasExternalFailure())
	assert.Equal(t, "llm down", row.FailureMessage())

	row.ExtractError = "docintel: status 500"
	assert.Equal(t, "docintel: status 500", row.FailureMessage())
}
