package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/bills-analysis/constants"
)

// InputFile is one source document of a batch.
type InputFile struct {
	Path     string             `json:"path" validate:"required"`
	Category constants.Category `json:"category" validate:"required,category"`
}

// Batch represents a batch for data transfer between layers.
type Batch struct {
	ID          string                `json:"batch_id"`
	Type        constants.BatchType   `json:"batch_type"`
	Status      constants.BatchStatus `json:"status"`
	RunDate     *string               `json:"run_date,omitempty"`
	Inputs      []InputFile           `json:"inputs"`
	Metadata    map[string]any        `json:"metadata"`
	Artifacts   map[string]any        `json:"artifacts"`
	ReviewRows  []ReviewRow           `json:"review_rows"`
	MergeOutput map[string]any        `json:"merge_output"`
	Error       string                `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// NewBatch builds a QUEUED batch from a validated create request.
func NewBatch(req CreateBatchRequest, now time.Time) *Batch {
	var runDate *string
	if req.RunDate != nil {
		rd := *req.RunDate
		runDate = &rd
	}
	inputs := make([]InputFile, len(req.Inputs))
	copy(inputs, req.Inputs)
	return &Batch{
		ID:          uuid.New().String(),
		Type:        req.Type,
		Status:      constants.BatchStatusQueued,
		RunDate:     runDate,
		Inputs:      inputs,
		Metadata:    CopyMap(req.Metadata),
		Artifacts:   map[string]any{},
		ReviewRows:  []ReviewRow{},
		MergeOutput: map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RunDateValue returns the run date or "" when unset.
func (b *Batch) RunDateValue() string {
	if b.RunDate == nil {
		return ""
	}
	return *b.RunDate
}

// Touch advances UpdatedAt. Every mutation goes through it.
func (b *Batch) Touch(now time.Time) {
	if now.Before(b.UpdatedAt) {
		now = b.UpdatedAt
	}
	b.UpdatedAt = now
}

// TransitionTo moves the batch to next and reports the previous status and whether the
// move follows a lifecycle edge. The move happens either way; callers log unexpected edges.
func (b *Batch) TransitionTo(next constants.BatchStatus, now time.Time) (constants.BatchStatus, bool) {
	prev := b.Status
	allowed := prev == "" || prev.CanTransitionTo(next)
	b.Status = next
	b.Touch(now)
	return prev, allowed
}

// ArtifactString returns a string artifact or "" when missing.
func (b *Batch) ArtifactString(key string) string {
	if b.Artifacts == nil {
		return ""
	}
	s, _ := b.Artifacts[key].(string)
	return s
}

// Clone returns a deep copy so stored state is never aliased by callers.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	out := *b
	if b.RunDate != nil {
		rd := *b.RunDate
		out.RunDate = &rd
	}
	out.Inputs = make([]InputFile, len(b.Inputs))
	copy(out.Inputs, b.Inputs)
	out.Metadata = CopyMap(b.Metadata)
	out.Artifacts = CopyMap(b.Artifacts)
	out.MergeOutput = CopyMap(b.MergeOutput)
	out.ReviewRows = make([]ReviewRow, len(b.ReviewRows))
	for i, r := range b.ReviewRows {
		out.ReviewRows[i] = r.Clone()
	}
	return &out
}

// CopyMap deep-copies a JSON-shaped map. A nil map becomes an empty one.
func CopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = copyValue(t[i])
		}
		return s
	case []string:
		s := make([]string, len(t))
		copy(s, t)
		return s
	default:
		return v
	}
}
