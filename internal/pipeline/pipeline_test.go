package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/generate"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
	"github.com/Lllllllleong/reportbatchflow/internal/render"
)

// The test template fails to bind when diagnosis is "BAD" and the fake
// engine fails on any document mentioning "CRASH".
const testTemplate = `{{if eq (.Field "diagnosis") "BAD"}}{{.Values.no_such_column}}{{end}}<p>{{.Name}}|{{.Field "diagnosis"}}|{{.ID}}</p>`

type fakeEngine struct {
	mu    sync.Mutex
	calls []string
	block bool
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Render(ctx context.Context, html, out string, _ generate.PageOptions) error {
	f.mu.Lock()
	f.calls = append(f.calls, html)
	f.mu.Unlock()

	// Write first so failures leave debris the run has to clean up.
	if err := os.WriteFile(out, []byte("%PDF-fake\n"+html), 0o600); err != nil {
		return err
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if strings.Contains(html, "CRASH") {
		return errors.New("engine crashed")
	}
	return nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	pipeline *Pipeline
	engine   *fakeEngine
	workDir  string
}

func newHarness(t *testing.T, settings Settings, timeout time.Duration) *harness {
	t.Helper()
	engine := &fakeEngine{}
	provider := render.NewProviderFS(fstest.MapFS{"test.html.tmpl": {Data: []byte(testTemplate)}})
	settings.WorkDir = t.TempDir()
	p := New(
		render.NewRenderer(provider, "test"),
		generate.New(engine, generate.Options{Timeout: timeout}),
		settings,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &harness{pipeline: p, engine: engine, workDir: settings.WorkDir}
}

func csvOf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

func unzip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(b)
	}
	return out
}

func assertWorkDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "run left transient files behind")
}

func TestProcessBatchAllRecordsSucceed(t *testing.T) {
	h := newHarness(t, Settings{}, time.Second)
	src := csvOf("Name,Diagnosis", "Alice,Flu", "Bob,Cold", "Carol,Fine")

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", src)

	require.True(t, res.Completed(), "failure: %v", res.Failure)
	assert.Equal(t, 3, res.RecordCount)
	assert.Equal(t, 0, res.SkippedCount)
	assert.Equal(t, []string{"alice_1.pdf", "bob_2.pdf", "carol_3.pdf"}, res.Entries)
	assert.Len(t, unzip(t, res.Archive), 3)
	assert.NotEmpty(t, res.RunID)
	assertWorkDirEmpty(t, h.workDir)
}

func TestProcessBatchDuplicateNames(t *testing.T) {
	h := newHarness(t, Settings{}, time.Second)
	src := csvOf("name,diagnosis", "Jane Doe,Flu", "Jane Doe,Flu")

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", src)

	require.True(t, res.Completed())
	assert.Equal(t, []string{"jane_doe_1.pdf", "jane_doe_2.pdf"}, res.Entries)
	assert.Equal(t, 0, res.SkippedCount)
}

func TestProcessBatchMissingNamesFallBackToPosition(t *testing.T) {
	h := newHarness(t, Settings{}, time.Second)
	src := csvOf("name,diagnosis", ",Flu", "N/A,Cold", "Dana,Fine")

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", src)

	require.True(t, res.Completed())
	assert.Equal(t, []string{"record_1.pdf", "record_2.pdf", "dana_3.pdf"}, res.Entries)
}

func TestProcessBatchRenderFailureSkipsRecord(t *testing.T) {
	h := newHarness(t, Settings{}, time.Second)
	src := csvOf("name,diagnosis", "Alice,Flu", "Bob,BAD", "Carol,Fine")

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", src)

	require.True(t, res.Completed())
	assert.Equal(t, 1, res.SkippedCount)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, models.RecordIdentifier("bob_2"), res.Skipped[0].ID)
	assert.Equal(t, 2, res.Skipped[0].Position)
	assert.Equal(t, []string{"alice_1.pdf", "carol_3.pdf"}, res.Entries)
	assert.NotContains(t, unzip(t, res.Archive), "bob_2.pdf")
	assert.Equal(t, 2, h.engine.callCount(), "skipped record never reaches the engine")
	assertWorkDirEmpty(t, h.workDir)
}

func TestProcessBatchGenerationFailureAbortsAndCleansUp(t *testing.T) {
	h := newHarness(t, Settings{}, time.Second)
	src := csvOf("name,diagnosis", "Alice,Flu", "Bob,Cold", "Carol,CRASH", "Dave,Fine")

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", src)

	require.False(t, res.Completed())
	assert.Equal(t, models.KindGeneration, res.Failure.Kind)
	assert.Equal(t, models.RecordIdentifier("carol_3"), res.Failure.RecordID)
	assert.Contains(t, res.Failure.Detail, "engine crashed")
	assert.Nil(t, res.Archive)
	assert.Nil(t, res.Entries)
	assert.Equal(t, 3, h.engine.callCount(), "no record after the failing one is generated")
	assertWorkDirEmpty(t, h.workDir)
}

func TestProcessBatchEngineTimeout(t *testing.T) {
	h := newHarness(t, Settings{}, 20*time.Millisecond)
	h.engine.block = true

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", csvOf("name", "Alice", "Bob"))

	require.False(t, res.Completed())
	assert.Equal(t, models.KindTimeout, res.Failure.Kind)
	assert.Equal(t, models.RecordIdentifier("alice_1"), res.Failure.RecordID)
	assertWorkDirEmpty(t, h.workDir)
}

func TestProcessBatchCallerCancellation(t *testing.T) {
	h := newHarness(t, Settings{}, time.Minute)
	h.engine.block = true
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := h.pipeline.ProcessBatch(ctx, "patients.csv", csvOf("name", "Alice", "Bob"))

	require.False(t, res.Completed())
	assert.Equal(t, models.KindCanceled, res.Failure.Kind)
	assertWorkDirEmpty(t, h.workDir)
}

func TestProcessBatchSchemaAndFormatErrors(t *testing.T) {
	h := newHarness(t, Settings{}, time.Second)

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", csvOf("age,diagnosis", "40,Flu"))
	require.False(t, res.Completed())
	assert.Equal(t, models.KindSchema, res.Failure.Kind)
	assert.Empty(t, res.Failure.RecordID)

	res = h.pipeline.ProcessBatch(context.Background(), "patients.xlsx", []byte("definitely not a workbook"))
	require.False(t, res.Completed())
	assert.Equal(t, models.KindFormat, res.Failure.Kind)

	assert.Zero(t, h.engine.callCount())
	assertWorkDirEmpty(t, h.workDir)
}

func TestProcessBatchIsIdempotent(t *testing.T) {
	h := newHarness(t, Settings{}, time.Second)
	src := csvOf("name,diagnosis", "Jane Doe,Flu", "Jane Doe,Cold", "Omar,Fine")

	first := h.pipeline.ProcessBatch(context.Background(), "patients.csv", src)
	second := h.pipeline.ProcessBatch(context.Background(), "patients.csv", src)

	require.True(t, first.Completed())
	require.True(t, second.Completed())
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, unzip(t, first.Archive), unzip(t, second.Archive))
}

func TestProcessBatchArchiveHoldsGeneratedBytes(t *testing.T) {
	h := newHarness(t, Settings{}, time.Second)

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", csvOf("name,diagnosis", "Alice,Flu"))

	require.True(t, res.Completed())
	files := unzip(t, res.Archive)
	assert.Equal(t, "%PDF-fake\n<p>Alice|Flu|alice_1</p>", files["alice_1.pdf"])
}

func TestProcessBatchConcurrentAbortLeavesNothingBehind(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, Settings{Concurrency: 4}, time.Second)
	lines := []string{"name,diagnosis"}
	for i := 0; i < 20; i++ {
		lines = append(lines, "Patient,Flu")
	}
	lines[8] = "Patient,CRASH"

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", csvOf(lines...))

	require.False(t, res.Completed())
	assert.Equal(t, models.KindGeneration, res.Failure.Kind)
	assert.Equal(t, models.RecordIdentifier("patient_8"), res.Failure.RecordID)
	assertWorkDirEmpty(t, h.workDir)
}

func TestProcessBatchConcurrentSuccessKeepsIdentifiersUnique(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, Settings{Concurrency: 3}, time.Second)
	lines := []string{"name"}
	for i := 0; i < 12; i++ {
		lines = append(lines, "Same Name")
	}

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", csvOf(lines...))

	require.True(t, res.Completed())
	files := unzip(t, res.Archive)
	assert.Len(t, files, 12)
	for i := 1; i <= 12; i++ {
		assert.Contains(t, files, "same_name_"+strconv.Itoa(i)+".pdf")
	}
	assertWorkDirEmpty(t, h.workDir)
}

type failingMerger struct{}

func (failingMerger) MergePDFs([]string, string) error {
	return errors.Mark(errors.New("merge failed"), errors.ErrGeneration)
}

type copyMerger struct{}

func (copyMerger) MergePDFs(paths []string, out string) error {
	var buf bytes.Buffer
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return os.WriteFile(out, buf.Bytes(), 0o600)
}

func TestProcessBatchCombinedReport(t *testing.T) {
	h := newHarness(t, Settings{CombinedPDF: true}, time.Second)
	WithMerger(copyMerger{})(h.pipeline)

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", csvOf("name", "B", "A"))

	require.True(t, res.Completed())
	assert.Equal(t, []string{"b_1.pdf", "a_2.pdf", DefaultCombinedName}, res.Entries)
	files := unzip(t, res.Archive)
	assert.Equal(t, files["b_1.pdf"]+files["a_2.pdf"], files[DefaultCombinedName])
	assertWorkDirEmpty(t, h.workDir)

	WithMerger(failingMerger{})(h.pipeline)
	res = h.pipeline.ProcessBatch(context.Background(), "patients.csv", csvOf("name", "B"))
	require.False(t, res.Completed())
	assert.Equal(t, models.KindGeneration, res.Failure.Kind)
	assertWorkDirEmpty(t, h.workDir)
}

func TestInspect(t *testing.T) {
	h := newHarness(t, Settings{}, time.Second)

	got, err := h.pipeline.Inspect("patients.csv", csvOf("Full Name,Age", "Jane Doe,4", ",5"))
	require.NoError(t, err)
	assert.Equal(t, []models.InspectedRecord{
		{Position: 1, Identifier: "jane_doe_1", FieldCount: 2},
		{Position: 2, Identifier: "record_2", FieldCount: 2},
	}, got)

	_, err = h.pipeline.Inspect("patients.csv", csvOf("age", "4"))
	assert.True(t, errors.Is(err, errors.ErrSchema))
	assert.Zero(t, h.engine.callCount())
}

func TestProcessBatchLongMultibyteNameIsArchived(t *testing.T) {
	h := newHarness(t, Settings{}, time.Second)
	long := strings.Repeat("é", 150)

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", csvOf("name,diagnosis", "Alice,Flu", long+",Cold"))

	require.True(t, res.Completed(), "failure: %v", res.Failure)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "alice_1.pdf", res.Entries[0])
	assert.Equal(t, strings.Repeat("é", 100)+"_2.pdf", res.Entries[1])
	assert.LessOrEqual(t, len(res.Entries[1]), 255)
	assertWorkDirEmpty(t, h.workDir)
}

func TestProcessBatchSchemaFailureNamesAcceptedColumns(t *testing.T) {
	h := newHarness(t, Settings{}, time.Second)

	res := h.pipeline.ProcessBatch(context.Background(), "patients.csv", csvOf("age,diagnosis", "40,Flu"))

	require.False(t, res.Completed())
	assert.Equal(t, models.KindSchema, res.Failure.Kind)
	for _, column := range []string{"name", "full_name", "patient_name", "patient", "display_name"} {
		assert.Contains(t, res.Failure.Detail, column)
	}
	assert.Contains(t, res.Failure.Detail, "hint:")
}

type brokenRenderer struct{}

func (brokenRenderer) Render(models.NormalizedRecord, models.RecordIdentifier, int) (models.RenderedDocument, error) {
	return models.RenderedDocument{}, errors.New("renderer state corrupted")
}

func TestProcessBatchUnclassifiedRenderErrorAborts(t *testing.T) {
	engine := &fakeEngine{}
	p := New(brokenRenderer{}, generate.New(engine, generate.Options{Timeout: time.Second}),
		Settings{WorkDir: t.TempDir()}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	res := p.ProcessBatch(context.Background(), "patients.csv", csvOf("name", "Alice", "Bob"))

	require.False(t, res.Completed())
	assert.Equal(t, models.KindInternal, res.Failure.Kind)
	assert.Equal(t, models.RecordIdentifier("alice_1"), res.Failure.RecordID)
	assert.Zero(t, engine.callCount())
}
