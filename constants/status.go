package constants

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

// Stable values (store these exact strings).
const (
	BatchStatusQueued      BatchStatus = "QUEUED"       // waiting for the worker
	BatchStatusRunning     BatchStatus = "RUNNING"      // extraction in progress
	BatchStatusReviewReady BatchStatus = "REVIEW_READY" // waiting for human review
	BatchStatusMerging     BatchStatus = "MERGING"      // merge task queued or running
	BatchStatusMerged      BatchStatus = "MERGED"       // merge committed
	BatchStatusFailed      BatchStatus = "FAILED"       // last task failed
)

var transitions = map[BatchStatus][]BatchStatus{
	BatchStatusQueued:      {BatchStatusRunning},
	BatchStatusRunning:     {BatchStatusReviewReady},
	BatchStatusReviewReady: {BatchStatusMerging},
	BatchStatusMerging:     {BatchStatusMerged},
	BatchStatusMerged:      {BatchStatusMerging},
	BatchStatusFailed:      {BatchStatusRunning, BatchStatusMerging},
}

// CanTransitionTo reports whether moving from s to next follows a lifecycle edge.
// FAILED is reachable from every state; a self-transition is always allowed.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	if s == next || next == BatchStatusFailed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the stored lifecycle values.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusQueued, BatchStatusRunning, BatchStatusReviewReady,
		BatchStatusMerging, BatchStatusMerged, BatchStatusFailed:
		return true
	}
	return false
}

// TaskType identifies the work a queue task asks the worker to do.
type TaskType string

const (
	TaskTypeProcessBatch TaskType = "PROCESS_BATCH"
	TaskTypeMergeBatch   TaskType = "MERGE_BATCH"
)

// MergeMode selects how office rows land in the monthly workbook.
type MergeMode string

const (
	MergeModeOverwrite MergeMode = "overwrite"
	MergeModeAppend    MergeMode = "append"
)
