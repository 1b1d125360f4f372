// Command analyze runs the extraction stages on a single PDF and prints what they
// return, without creating a batch.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/pipeline"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	category := flag.String("category", "office", "document category: bar, zbon or office")
	flag.Parse()
	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "analyze [-category office] <file.pdf>")
		os.Exit(2)
	}
	path := flag.Arg(0)
	cat, ok := constants.Canonicalize(*category)
	if !ok {
		logger.Error("unknown category", "category", *category)
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.FileTimeout)
	defer cancel()

	analyzer := pipeline.NewAnalyzer(cfg.Azure, logger)
	analysis, err := analyzer.Analyze(ctx, path, cat.AnalysisModel())
	if err != nil {
		logger.Error("analyze failed", "path", path, "model", cat.AnalysisModel(), "error", err)
		os.Exit(1)
	}
	out := map[string]any{
		"model":      analysis.Model,
		"values":     analysis.Values,
		"confidence": analysis.Confidence,
	}

	if cat == constants.CategoryOffice {
		info, err := pipeline.NewSemantics(cfg.Azure, logger).ExtractOfficeSemantics(ctx, analysis.Raw)
		if err != nil {
			logger.Warn("semantic extraction failed", "path", path, "error", err)
			out["semantic_error"] = err.Error()
		} else {
			out["semantics"] = info
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("encode output", "error", err)
		os.Exit(1)
	}
}
