package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/bills-analysis/constants"
)

// QueueTask is one unit of dispatch. The task references a batch, it does not own it.
type QueueTask struct {
	ID        string             `json:"task_id"`
	BatchID   string             `json:"batch_id"`
	Type      constants.TaskType `json:"task_type"`
	Payload   map[string]any     `json:"payload"`
	CreatedAt time.Time          `json:"created_at"`
}

func NewQueueTask(batchID string, taskType constants.TaskType, payload map[string]any) QueueTask {
	return QueueTask{
		ID:        uuid.New().String(),
		BatchID:   batchID,
		Type:      taskType,
		Payload:   CopyMap(payload),
		CreatedAt: time.Now().UTC(),
	}
}

// MergePayload is the typed view of a MERGE_BATCH payload.
type MergePayload struct {
	Mode             constants.MergeMode `json:"mode"`
	MonthlyExcelPath string              `json:"monthly_excel_path"`
	Metadata         map[string]any      `json:"metadata,omitempty"`
}

// Map renders the payload for a queue task.
func (p MergePayload) Map() map[string]any {
	m := map[string]any{
		"mode":               string(p.Mode),
		"monthly_excel_path": p.MonthlyExcelPath,
	}
	if len(p.Metadata) > 0 {
		m["metadata"] = CopyMap(p.Metadata)
	}
	return m
}

// MergePayloadFromMap reads a task payload. Missing mode means overwrite.
func MergePayloadFromMap(m map[string]any) MergePayload {
	p := MergePayload{Mode: constants.MergeModeOverwrite}
	if mode, ok := m["mode"].(string); ok && mode != "" {
		p.Mode = constants.MergeMode(mode)
	}
	if path, ok := m["monthly_excel_path"].(string); ok {
		p.MonthlyExcelPath = path
	}
	if md, ok := m["metadata"].(map[string]any); ok {
		p.Metadata = CopyMap(md)
	}
	return p
}
