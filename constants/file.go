package constants

import "strings"

// Artifact keys stored on a batch.
const (
	ArtifactResultJSON     = "result_json_path"
	ArtifactReviewJSON     = "review_json_path"
	ArtifactReviewSnapshot = "review_snapshot_path"
	ArtifactArchiveRoot    = "archive_root"
	ArtifactMergeSource    = "merge_source_local_path"
)

// File names written under <output_root>/<batch_id>.
const (
	ResultsFileName        = "results.json"
	ReviewRowsFileName     = "review_rows.json"
	ReviewSnapshotFileName = "review_submitted.json"
	MergeSummaryFileName   = "merge_summary.json"
	ArchiveDirName         = "archive"
	MergeSourceDirName     = "merge_source"
)

// MergeSourceExtensions holds the accepted monthly workbook extensions.
var MergeSourceExtensions = map[string]struct{}{
	"xlsx": {},
	"xlsm": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
