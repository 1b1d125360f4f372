package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/async"
	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
	"github.com/joseph-ayodele/bills-analysis/internal/pipeline"
	repo "github.com/joseph-ayodele/bills-analysis/internal/repository"
	"github.com/joseph-ayodele/bills-analysis/internal/services/batch"
	"github.com/joseph-ayodele/bills-analysis/internal/worker"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir      = flag.String("dir", "", "directory with the PDFs of one batch (required)")
		typ      = flag.String("type", "daily", "batch type: daily or office")
		category = flag.String("category", "", "category for PDFs not under a bar/ zbon/ office/ subdirectory")
		runDate  = flag.String("run-date", "", "run date DD/MM/YYYY (optional)")
		monthly  = flag.String("monthly", "", "monthly workbook to merge into after processing (optional)")
		mode     = flag.String("mode", "overwrite", "office merge mode: overwrite or append")
		outRoot  = flag.String("out", "", "output root (defaults to OUTPUT_ROOT)")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	if *outRoot != "" {
		cfg.Pipeline.OutputRoot = *outRoot
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	inputs, err := collectInputs(*dir, constants.BatchType(*typ), *category)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	backend, err := pipeline.NewFromConfig(cfg, logger)
	if err != nil {
		logger.Error("failed to build processing backend", "error", err)
		os.Exit(1)
	}
	batches := repo.NewMemoryBatchRepository(logger)
	queue := async.NewChannelQueue(logger)
	svc := batch.NewService(batches, queue, cfg.Pipeline.OutputRoot, logger)
	w := worker.New(batches, queue, backend, logger)

	req := entity.CreateBatchRequest{Type: constants.BatchType(*typ), Inputs: inputs}
	if *runDate != "" {
		req.RunDate = runDate
	}
	b, err := svc.CreateBatch(ctx, req)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if err := w.RunOnce(ctx); err != nil {
		logger.Error("process task", "error", err)
		os.Exit(1)
	}
	b = mustFinish(ctx, svc, b.ID, constants.BatchStatusReviewReady)
	fmt.Printf("batch %s processed: %d rows\n", b.ID, len(b.ReviewRows))
	fmt.Printf("  results: %s\n", b.ArtifactString(constants.ArtifactResultJSON))
	fmt.Printf("  review:  %s\n", b.ArtifactString(constants.ArtifactReviewJSON))

	if *monthly == "" {
		return
	}
	if _, err := svc.SaveMergeSourceLocal(ctx, b.ID, *monthly); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if _, _, err := svc.RequestMerge(ctx, b.ID, entity.MergeRequest{Mode: constants.MergeMode(*mode)}); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if err := w.RunOnce(ctx); err != nil {
		logger.Error("merge task", "error", err)
		os.Exit(1)
	}
	b = mustFinish(ctx, svc, b.ID, constants.BatchStatusMerged)
	fmt.Printf("batch %s merged\n", b.ID)
	for _, key := range []string{"merged_excel_path", "validated_excel_path", "merge_summary_path"} {
		fmt.Printf("  %s: %v\n", key, b.MergeOutput[key])
	}
}

func mustFinish(ctx context.Context, svc *batch.Service, id string, want constants.BatchStatus) *entity.Batch {
	b, err := svc.GetBatch(ctx, id)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if b.Status != want {
		printError("Error: batch %s ended %s: %s\n", id, b.Status, b.Error)
		os.Exit(1)
	}
	return b
}

// collectInputs walks dir for PDFs. A file's category comes from its parent directory
// name when that is a known category, else from fallback.
func collectInputs(dir string, typ constants.BatchType, fallback string) ([]entity.InputFile, error) {
	if fallback == "" && typ == constants.BatchTypeOffice {
		fallback = string(constants.CategoryOffice)
	}
	var inputs []entity.InputFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || constants.NormalizeExt(filepath.Ext(path)) != "pdf" {
			return nil
		}
		cat, ok := constants.Canonicalize(filepath.Base(filepath.Dir(path)))
		if !ok {
			if cat, ok = constants.Canonicalize(fallback); !ok {
				return fmt.Errorf("%s: no category (put it under bar/, zbon/ or office/, or pass --category)", path)
			}
		}
		inputs = append(inputs, entity.InputFile{Path: path, Category: cat})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no PDF files found in %s", dir)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Path < inputs[j].Path })
	return inputs, nil
}
