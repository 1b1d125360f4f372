// Package archive recompresses source PDFs into the per-batch archive used for previews.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Compressor writes an archive copy of src into destDir and returns its path.
type Compressor interface {
	Compress(ctx context.Context, src, destDir, suffix string) (string, error)
}

// Config for GhostscriptCompressor.
type Config struct {
	Binary string // default "gs"
	DPI    int    // default 300
}

// GhostscriptCompressor rewrites PDFs through ghostscript's pdfwrite device.
type GhostscriptCompressor struct {
	cfg    Config
	runner Runner
	log    *slog.Logger
}

func NewGhostscriptCompressor(cfg Config, runner Runner, logger *slog.Logger) *GhostscriptCompressor {
	if cfg.Binary == "" {
		cfg.Binary = "gs"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &GhostscriptCompressor{cfg: cfg, runner: runner, log: logger.With("component", "archive")}
}

// OutputName is the archive file name for src: "<stem>_<suffix>.pdf", or "<stem>.pdf" without a suffix.
func OutputName(src, suffix string) string {
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	if suffix != "" {
		stem += "_" + suffix
	}
	return stem + ".pdf"
}

func (g *GhostscriptCompressor) Compress(ctx context.Context, src, destDir, suffix string) (string, error) {
	start := time.Now()
	if !strings.EqualFold(filepath.Ext(src), ".pdf") {
		return "", fmt.Errorf("archive expects a pdf, got %s", filepath.Base(src))
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	out := filepath.Join(destDir, OutputName(src, suffix))
	dpi := fmt.Sprintf("%d", g.cfg.DPI)

	_, errb, err := g.runner.Run(ctx, g.cfg.Binary,
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=/ebook",
		"-dDownsampleColorImages=true",
		"-dColorImageResolution="+dpi,
		"-dGrayImageResolution="+dpi,
		"-dMonoImageResolution="+dpi,
		"-dNOPAUSE", "-dQUIET", "-dBATCH",
		"-sOutputFile="+out,
		src,
	)
	if err != nil {
		msg := strings.TrimSpace(string(errb))
		if msg == "" {
			return "", fmt.Errorf("ghostscript: %w", err)
		}
		return "", fmt.Errorf("ghostscript: %w: %s", err, truncate(msg, 512))
	}
	st, statErr := os.Stat(out)
	if statErr != nil {
		return "", fmt.Errorf("ghostscript produced no output: %w", statErr)
	}
	if st.Size() == 0 {
		return "", errors.New("ghostscript produced an empty file")
	}

	g.log.Debug("archive.compress.ok",
		"src", src,
		"out", out,
		"bytes", st.Size(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
