package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
	"github.com/joseph-ayodele/bills-analysis/internal/export"
	"github.com/joseph-ayodele/bills-analysis/internal/extract"
	"github.com/joseph-ayodele/bills-analysis/internal/utils"
)

type stubAnalyzer struct {
	fn func(ctx context.Context, path, model string) (*extract.Analysis, error)

	mu     sync.Mutex
	models map[string]string
}

func (s *stubAnalyzer) Analyze(ctx context.Context, path, model string) (*extract.Analysis, error) {
	s.mu.Lock()
	if s.models == nil {
		s.models = map[string]string{}
	}
	s.models[filepath.Base(path)] = model
	s.mu.Unlock()
	return s.fn(ctx, path, model)
}

func fixedAnalysis(brutto, netto float64) func(context.Context, string, string) (*extract.Analysis, error) {
	return func(_ context.Context, path, model string) (*extract.Analysis, error) {
		return &extract.Analysis{
			Model: model,
			Values: map[string]any{
				extract.FieldStoreName: "Metro\nFiliale 12",
				extract.FieldBrutto:    brutto,
				extract.FieldNetto:     netto,
				extract.FieldTotalTax:  round(brutto - netto),
				extract.FieldInvoiceID: "INV-" + strings.TrimSuffix(filepath.Base(path), ".pdf"),
			},
			Confidence: map[string]any{
				extract.FieldStoreName: 0.9,
				extract.FieldBrutto:    0.99,
				extract.FieldNetto:     0.98,
				extract.FieldTotalTax:  0.97,
				extract.FieldInvoiceID: 0.95,
			},
			Raw: map[string]string{"VendorName": "Acme GmbH", "CustomerName": "Bistro Berlin"},
		}, nil
	}
}

func round(v float64) float64 { return float64(int(v*100+0.5)) / 100 }

type stubSemantics struct {
	info *extract.OfficeSemantics
	err  error
}

func (s stubSemantics) ExtractOfficeSemantics(context.Context, map[string]string) (*extract.OfficeSemantics, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := *s.info
	return &out, nil
}

type stubCompressor struct{ err error }

func (s stubCompressor) Compress(_ context.Context, src, destDir, suffix string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(destDir, stem+"_"+suffix+".pdf"), nil
}

func newBackend(t *testing.T, cfg Config, analyzer extract.DocumentAnalyzer, semantics extract.SemanticExtractor, compressor stubCompressor) *LocalBackend {
	t.Helper()
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = t.TempDir()
	}
	logger := slog.New(slog.DiscardHandler)
	b := NewLocalBackend(cfg, analyzer, semantics, compressor, export.NewService(export.DefaultThresholds(), logger), logger)
	b.now = func() time.Time { return time.Unix(1770000000, 0) }
	return b
}

func writePDF(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4\n"), 0o644))
	return p
}

func strPtr(s string) *string { return &s }

func dailyBatch(inputs ...entity.InputFile) *entity.Batch {
	return &entity.Batch{
		ID:      "0f8fad5b-d9cb-469f-a165-70867728950e",
		Type:    constants.BatchTypeDaily,
		Status:  constants.BatchStatusRunning,
		RunDate: strPtr("04/02/2026"),
		Inputs:  inputs,
	}
}

func officeBatch(inputs ...entity.InputFile) *entity.Batch {
	b := dailyBatch(inputs...)
	b.Type = constants.BatchTypeOffice
	return b
}

func TestProcessBatchDailyWritesArtifacts(t *testing.T) {
	in := t.TempDir()
	analyzer := &stubAnalyzer{fn: fixedAnalysis(100, 84.03)}
	b := newBackend(t, Config{}, analyzer, nil, stubCompressor{})
	batch := dailyBatch(
		entity.InputFile{Path: writePDF(t, in, "z1.pdf"), Category: constants.CategoryZBon},
		entity.InputFile{Path: writePDF(t, in, "bar.pdf"), Category: constants.CategoryBar},
	)

	res, err := b.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)

	require.Len(t, res.ReviewRows, 2)
	first := res.ReviewRows[0]
	assert.Equal(t, "row-0001", first.RowID)
	assert.Equal(t, "z1.pdf", first.Filename)
	assert.Equal(t, constants.CategoryZBon, first.Category)
	assert.Equal(t, "04/02/2026", first.Result["run_date"])
	assert.Equal(t, "Metro", first.Result["store_name"])
	assert.Equal(t, 100.0, first.Result["brutto"])
	assert.Equal(t, 0.99, first.Score["brutto"])
	require.NotNil(t, first.PreviewPath)
	assert.Equal(t, filepath.Join(b.BatchDir(batch.ID), "archive", "zbon", "z1_0f8fad5b.pdf"), *first.PreviewPath)
	assert.Equal(t, "row-0002", res.ReviewRows[1].RowID)
	assert.Equal(t, "prebuilt-receipt", analyzer.models["z1.pdf"])

	resultsPath := res.Artifacts[constants.ArtifactResultJSON].(string)
	reviewPath := res.Artifacts[constants.ArtifactReviewJSON].(string)
	assert.Equal(t, filepath.Join(b.BatchDir(batch.ID), "archive"), res.Artifacts[constants.ArtifactArchiveRoot])

	var stored []entity.ReviewRow
	require.NoError(t, utils.ReadJSONFile(reviewPath, &stored))
	assert.Equal(t, res.ReviewRows, stored)

	var results map[string]any
	require.NoError(t, utils.ReadJSONFile(resultsPath, &results))
	assert.Equal(t, batch.ID, results["batch_id"])
	assert.Len(t, results["items"], 2)
	assert.Len(t, results["inputs"], 2)
	assert.NotEmpty(t, results["generated_at"])
}

func TestProcessBatchPreservesInputOrder(t *testing.T) {
	in := t.TempDir()
	// later files finish first
	analyzer := &stubAnalyzer{fn: func(ctx context.Context, path, model string) (*extract.Analysis, error) {
		if filepath.Base(path) == "a.pdf" {
			time.Sleep(30 * time.Millisecond)
		}
		return fixedAnalysis(10, 8)(ctx, path, model)
	}}
	b := newBackend(t, Config{Concurrency: 4}, analyzer, nil, stubCompressor{})
	batch := dailyBatch(
		entity.InputFile{Path: writePDF(t, in, "a.pdf"), Category: constants.CategoryBar},
		entity.InputFile{Path: writePDF(t, in, "b.pdf"), Category: constants.CategoryZBon},
		entity.InputFile{Path: writePDF(t, in, "c.pdf"), Category: constants.CategoryZBon},
	)

	res, err := b.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	var names []string
	for _, r := range res.ReviewRows {
		names = append(names, r.Filename)
	}
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, names)
}

func TestProcessBatchAllOrNothing(t *testing.T) {
	in := t.TempDir()
	analyzer := &stubAnalyzer{fn: func(ctx context.Context, path, model string) (*extract.Analysis, error) {
		if filepath.Base(path) == "broken.pdf" {
			return nil, errors.New("docintel: status 500")
		}
		return fixedAnalysis(119, 100)(ctx, path, model)
	}}
	semantics := stubSemantics{info: &extract.OfficeSemantics{Purpose: "Software", Sender: "Acme GmbH"}}
	b := newBackend(t, Config{}, analyzer, semantics, stubCompressor{})
	batch := officeBatch(
		entity.InputFile{Path: writePDF(t, in, "ok.pdf"), Category: constants.CategoryOffice},
		entity.InputFile{Path: writePDF(t, in, "broken.pdf"), Category: constants.CategoryOffice},
	)

	res, err := b.ProcessBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "broken.pdf: docintel: status 500", err.Error())
	assert.NotContains(t, err.Error(), "ok.pdf")
	assert.False(t, utils.FileExists(filepath.Join(b.BatchDir(batch.ID), constants.ResultsFileName)))
	assert.False(t, utils.FileExists(filepath.Join(b.BatchDir(batch.ID), constants.ReviewRowsFileName)))
}

func TestProcessBatchJoinsEveryFailure(t *testing.T) {
	in := t.TempDir()
	analyzer := &stubAnalyzer{fn: fixedAnalysis(119, 100)}
	semantics := stubSemantics{err: errors.New("llm: schema validation failed")}
	b := newBackend(t, Config{}, analyzer, semantics, stubCompressor{})
	batch := officeBatch(
		entity.InputFile{Path: filepath.Join(in, "gone.pdf"), Category: constants.CategoryOffice},
		entity.InputFile{Path: writePDF(t, in, "inv.pdf"), Category: constants.CategoryOffice},
	)

	_, err := b.ProcessBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Equal(t,
		"gone.pdf: missing input file: "+filepath.Join(in, "gone.pdf")+"; inv.pdf: llm: schema validation failed",
		err.Error())
}

func TestProcessBatchTimeoutBecomesExtractError(t *testing.T) {
	in := t.TempDir()
	analyzer := &stubAnalyzer{fn: func(ctx context.Context, path, model string) (*extract.Analysis, error) {
		if filepath.Base(path) == "slow.pdf" {
			time.Sleep(100 * time.Millisecond)
		}
		return fixedAnalysis(10, 8)(ctx, path, model)
	}}
	b := newBackend(t, Config{FileTimeout: 20 * time.Millisecond}, analyzer, nil, stubCompressor{})
	batch := dailyBatch(
		entity.InputFile{Path: writePDF(t, in, "fast.pdf"), Category: constants.CategoryBar},
		entity.InputFile{Path: writePDF(t, in, "slow.pdf"), Category: constants.CategoryZBon},
	)

	_, err := b.ProcessBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Equal(t, "slow.pdf: file processing timeout (0.02s)", err.Error())
}

func TestProcessBatchTimedOutUnitsKeepTheirSlot(t *testing.T) {
	in := t.TempDir()
	var mu sync.Mutex
	active, peak := 0, 0
	analyzer := &stubAnalyzer{fn: func(ctx context.Context, path, model string) (*extract.Analysis, error) {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		// ignores ctx on purpose
		time.Sleep(60 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return fixedAnalysis(10, 8)(ctx, path, model)
	}}
	b := newBackend(t, Config{FileTimeout: 10 * time.Millisecond, Concurrency: 1}, analyzer, nil, stubCompressor{})
	var inputs []entity.InputFile
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf"} {
		inputs = append(inputs, entity.InputFile{Path: writePDF(t, in, name), Category: constants.CategoryBar})
	}

	_, err := b.ProcessBatch(context.Background(), dailyBatch(inputs...))
	require.Error(t, err)
	assert.Equal(t, 4, strings.Count(err.Error(), "file processing timeout (0.01s)"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, peak, "concurrency bound must hold after a timeout")
	assert.Equal(t, 0, active, "no unit may still run once ProcessBatch returns")
}

func TestProcessBatchArchiveErrorIsTolerated(t *testing.T) {
	in := t.TempDir()
	analyzer := &stubAnalyzer{fn: fixedAnalysis(10, 8)}
	b := newBackend(t, Config{}, analyzer, nil, stubCompressor{err: errors.New("gs: exit status 1")})
	batch := dailyBatch(entity.InputFile{Path: writePDF(t, in, "z.pdf"), Category: constants.CategoryZBon})

	res, err := b.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, res.ReviewRows, 1)
	assert.Nil(t, res.ReviewRows[0].PreviewPath)

	var results struct {
		Items []entity.ProcessedRow `json:"items"`
	}
	require.NoError(t, utils.ReadJSONFile(res.Artifacts[constants.ArtifactResultJSON].(string), &results))
	require.Len(t, results.Items, 1)
	assert.Equal(t, "gs: exit status 1", results.Items[0].ArchiveError)
}

func TestProcessBatchOfficeRow(t *testing.T) {
	in := t.TempDir()
	analyzer := &stubAnalyzer{fn: fixedAnalysis(119, 100)}

	tests := []struct {
		name     string
		expected string
		receiver string
		wantOK   any
	}{
		{name: "no expected receiver", receiver: "Somebody", wantOK: nil},
		{name: "matching receiver", expected: "Bistro Berlin", receiver: " bistro berlin ", wantOK: true},
		{name: "empty receiver", expected: "Bistro Berlin", receiver: "", wantOK: true},
		{name: "other receiver", expected: "Bistro Berlin", receiver: "Café Hamburg", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			semantics := stubSemantics{info: &extract.OfficeSemantics{Purpose: "Software", Sender: "Acme GmbH", Receiver: tt.receiver}}
			b := newBackend(t, Config{ExpectedReceiver: tt.expected}, analyzer, semantics, stubCompressor{})
			batch := officeBatch(entity.InputFile{Path: writePDF(t, in, "inv.pdf"), Category: constants.CategoryOffice})

			res, err := b.ProcessBatch(context.Background(), batch)
			require.NoError(t, err)
			row := res.ReviewRows[0]
			assert.Equal(t, "Software", row.Result["type"])
			assert.Equal(t, "Acme GmbH", row.Result["sender"])
			assert.Equal(t, "INV-inv", row.Result["tax_id"])
			assert.Equal(t, 0.95, row.Score["tax_id"])
			assert.Equal(t, tt.wantOK, row.Result["receiver_ok"])
			assert.NotContains(t, row.Result, "store_name")
		})
	}
	assert.Equal(t, "prebuilt-invoice", analyzer.models["inv.pdf"])
}

func TestProcessBatchUnconfiguredAnalyzerFailsRows(t *testing.T) {
	in := t.TempDir()
	analyzer := extract.Unconfigured{Service: "Azure Document Intelligence", EnvVars: []string{"AZURE_DOCUMENT_INTELLIGENCE_ENDPOINT"}}
	b := newBackend(t, Config{}, analyzer, nil, stubCompressor{})
	batch := dailyBatch(entity.InputFile{Path: writePDF(t, in, "z.pdf"), Category: constants.CategoryZBon})

	_, err := b.ProcessBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "z.pdf: Azure Document Intelligence is not configured")
}

func writeWorkbook(t *testing.T, path string, headers []string, rows [][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for c, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		require.NoError(t, f.SetCellValue("Sheet1", cell, h))
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			require.NoError(t, f.SetCellValue("Sheet1", cell, v))
		}
	}
	require.NoError(t, f.SaveAs(path))
}

func readWorkbook(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	require.NoError(t, err)
	return rows
}

func TestMergeBatchDailyIgnoresMode(t *testing.T) {
	dir := t.TempDir()
	monthly := filepath.Join(dir, "monthly.xlsx")
	writeWorkbook(t, monthly,
		[]string{"Datum", "Umsatz Brutto", "Umsatz Netto", "Ausgabe 1 Name", "Ausgabe 1 Brutto"},
		[][]any{{"03/02/2026"}, {"04/02/2026"}})

	b := newBackend(t, Config{}, nil, nil, stubCompressor{})
	batch := dailyBatch()
	batch.ReviewRows = []entity.ReviewRow{{
		RowID: "row-0001", Filename: "z.pdf", Category: constants.CategoryZBon,
		Result: map[string]any{"run_date": "04/02/2026", "brutto": "100.00", "store_name": "Metro"},
		Score:  map[string]any{"brutto": 0.99},
	}}

	res, err := b.MergeBatch(context.Background(), batch, entity.MergePayload{Mode: constants.MergeModeAppend, MonthlyExcelPath: monthly})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(b.BatchDir(batch.ID), "validated_for_merge_1770000000.xlsx"), res.ValidatedExcelPath)
	assert.True(t, utils.FileExists(res.ValidatedExcelPath))
	merged := readWorkbook(t, res.MergedExcelPath)
	require.Len(t, merged, 3, "daily merge never appends")
	assert.Equal(t, "04/02/2026", merged[2][0])
	assert.Equal(t, "100", merged[2][4])

	var summary map[string]any
	require.NoError(t, utils.ReadJSONFile(res.MergeSummaryPath, &summary))
	assert.Equal(t, "append", summary["mode"])
	assert.Equal(t, "daily", summary["batch_type"])
	assert.EqualValues(t, 1, summary["review_rows_count"])
	assert.Equal(t, res.MergedExcelPath, summary["merged_excel_path"])
}

func TestMergeBatchOfficeModes(t *testing.T) {
	headers := []string{"Datum", "Type", "Rechnung Name", "Brutto", "Netto", "Steuernummer", "Is Receiver OK", "Rechnung Scannen"}
	rows := []entity.ReviewRow{{
		RowID: "row-0001", Filename: "a.pdf", Category: constants.CategoryOffice,
		Result: map[string]any{"run_date": "04/02/2026", "type": "Software", "sender": "Acme GmbH", "brutto": 119.0, "netto": 100.0, "tax_id": "DE1"},
		Score:  map[string]any{"brutto": 0.99, "netto": 0.99},
	}}

	tests := []struct {
		mode     constants.MergeMode
		wantRows int
	}{
		{mode: constants.MergeModeOverwrite, wantRows: 2},
		{mode: constants.MergeModeAppend, wantRows: 3},
		{mode: "", wantRows: 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			dir := t.TempDir()
			monthly := filepath.Join(dir, "monthly.xlsx")
			writeWorkbook(t, monthly, headers, [][]any{{"04/02/2026", "old", "Old GmbH"}})

			b := newBackend(t, Config{}, nil, nil, stubCompressor{})
			batch := officeBatch()
			batch.ReviewRows = rows

			res, err := b.MergeBatch(context.Background(), batch, entity.MergePayload{Mode: tt.mode, MonthlyExcelPath: monthly})
			require.NoError(t, err)
			merged := readWorkbook(t, res.MergedExcelPath)
			require.Len(t, merged, tt.wantRows)
			assert.Equal(t, "Acme GmbH", merged[len(merged)-1][2])
		})
	}
}

func TestMergeBatchCreatesBatchDir(t *testing.T) {
	dir := t.TempDir()
	monthly := filepath.Join(dir, "monthly.xlsx")
	writeWorkbook(t, monthly, []string{"Datum", "Type", "Rechnung Name"}, [][]any{{"03/02/2026"}})

	root := filepath.Join(t.TempDir(), "fresh", "outputs")
	b := newBackend(t, Config{OutputRoot: root}, nil, nil, stubCompressor{})
	batch := officeBatch()
	batch.ReviewRows = []entity.ReviewRow{{
		RowID: "row-0001", Filename: "a.pdf", Category: constants.CategoryOffice,
		Result: map[string]any{"run_date": "04/02/2026", "sender": "Acme GmbH", "brutto": 119.0},
		Score:  map[string]any{"brutto": 0.99},
	}}

	res, err := b.MergeBatch(context.Background(), batch, entity.MergePayload{Mode: constants.MergeModeAppend, MonthlyExcelPath: monthly})
	require.NoError(t, err)
	assert.Equal(t, b.BatchDir(batch.ID), filepath.Dir(res.ValidatedExcelPath))
	assert.True(t, utils.FileExists(res.MergedExcelPath))
	assert.True(t, utils.FileExists(res.MergeSummaryPath))
}

func TestMergeBatchFallsBackToReviewArtifact(t *testing.T) {
	dir := t.TempDir()
	monthly := filepath.Join(dir, "monthly.xlsx")
	writeWorkbook(t, monthly, []string{"Datum", "Umsatz Brutto"}, [][]any{{"04/02/2026"}})

	b := newBackend(t, Config{}, nil, nil, stubCompressor{})
	batch := dailyBatch()
	reviewPath := filepath.Join(dir, "review_rows.json")
	require.NoError(t, utils.WriteJSONFile(reviewPath, []entity.ReviewRow{{
		RowID: "row-0001", Filename: "bar.pdf", Category: constants.CategoryBar,
		Result: map[string]any{"run_date": "04/02/2026", "brutto": 250.5},
		Score:  map[string]any{"brutto": 0.99},
	}}))
	batch.Artifacts = map[string]any{constants.ArtifactReviewJSON: reviewPath}

	res, err := b.MergeBatch(context.Background(), batch, entity.MergePayload{MonthlyExcelPath: monthly})
	require.NoError(t, err)
	merged := readWorkbook(t, res.MergedExcelPath)
	assert.Equal(t, "250.5", merged[1][1])
}

func TestMergeBatchErrors(t *testing.T) {
	dir := t.TempDir()
	monthly := filepath.Join(dir, "monthly.xlsx")
	writeWorkbook(t, monthly, []string{"Datum"}, [][]any{{"04/02/2026"}})
	b := newBackend(t, Config{}, nil, nil, stubCompressor{})

	_, err := b.MergeBatch(context.Background(), dailyBatch(), entity.MergePayload{})
	require.EqualError(t, err, "monthly_excel_path is required for merge")

	missing := filepath.Join(dir, "nope.xlsx")
	_, err = b.MergeBatch(context.Background(), dailyBatch(), entity.MergePayload{MonthlyExcelPath: missing})
	require.EqualError(t, err, "monthly_excel_path not found: "+missing)

	_, err = b.MergeBatch(context.Background(), dailyBatch(), entity.MergePayload{MonthlyExcelPath: monthly})
	require.ErrorIs(t, err, export.ErrNoDailyRows)

	_, err = b.MergeBatch(context.Background(), officeBatch(), entity.MergePayload{MonthlyExcelPath: monthly})
	require.ErrorIs(t, err, export.ErrNoOfficeRows)
}

func TestNewFromConfigWithoutCredentials(t *testing.T) {
	cfg := &common.Config{Pipeline: common.PipelineConfig{OutputRoot: t.TempDir(), FileTimeout: time.Second}}
	b, err := NewFromConfig(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	_, err = b.analyzer.Analyze(context.Background(), "x.pdf", "prebuilt-receipt")
	assert.ErrorIs(t, err, extract.ErrUnconfigured)
	_, err = b.semantics.ExtractOfficeSemantics(context.Background(), nil)
	assert.ErrorIs(t, err, extract.ErrUnconfigured)
	assert.Equal(t, time.Second, b.cfg.FileTimeout)
	assert.Equal(t, defaultConcurrency(), b.cfg.Concurrency)

	cfg.Pipeline.ThresholdsPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = NewFromConfig(cfg, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
