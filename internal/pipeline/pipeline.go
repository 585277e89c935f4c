// Package pipeline drives one batch from uploaded spreadsheet to sealed
// archive.
//
// Per record: Pending → Normalized → Rendered → Generated → Archived, with
// Skipped reached when rendering fails and BatchAborted when generation or
// archiving fails. A skipped record only costs that record; an aborted one
// stops the run, discards the archive and reports the record to blame.
// Every transient file lives in a run workspace that is removed on every
// exit path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/reportbatchflow/internal/archive"
	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/ingest"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
	"github.com/Lllllllleong/reportbatchflow/internal/normalize"
)

// DefaultCombinedName is the archive entry holding every report in one PDF.
const DefaultCombinedName = "Patient_Reports.pdf"

// Renderer binds a record to its template.
type Renderer interface {
	Render(rec models.NormalizedRecord, id models.RecordIdentifier, position int) (models.RenderedDocument, error)
}

// Generator converts a rendered document into an artifact at outputPath.
type Generator interface {
	Generate(ctx context.Context, doc models.RenderedDocument, outputPath string) (models.GeneratedArtifact, error)
}

// Merger concatenates PDFs. Only needed when Settings.CombinedPDF is set.
type Merger interface {
	MergePDFs(paths []string, outputPath string) error
}

// Settings configures a Pipeline.
type Settings struct {
	// WorkDir is shared by concurrent runs; each run works in its own subdirectory.
	WorkDir string
	// Concurrency bounds in-flight records. 1 processes strictly in input order.
	Concurrency int
	// CombinedPDF adds one PDF holding every archived report.
	CombinedPDF  bool
	CombinedName string
}

// Pipeline processes batches. It holds no per-run state and may serve
// concurrent runs.
type Pipeline struct {
	renderer  Renderer
	generator Generator
	merger    Merger
	settings  Settings
	logger    *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMerger sets the PDF merger used for the combined report.
func WithMerger(m Merger) Option {
	return func(p *Pipeline) { p.merger = m }
}

// New returns a Pipeline.
func New(renderer Renderer, generator Generator, settings Settings, opts ...Option) *Pipeline {
	if settings.Concurrency <= 0 {
		settings.Concurrency = 1
	}
	if settings.WorkDir == "" {
		settings.WorkDir = filepath.Join(os.TempDir(), "reportbatch")
	}
	if settings.CombinedName == "" {
		settings.CombinedName = DefaultCombinedName
	}
	p := &Pipeline{renderer: renderer, generator: generator, settings: settings, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if m, ok := generator.(Merger); ok && p.merger == nil {
		p.merger = m
	}
	return p
}

// abortError ties a batch-fatal error to the record that raised it.
type abortError struct {
	id  models.RecordIdentifier
	err error
}

func (e *abortError) Error() string { return fmt.Sprintf("record %s: %v", e.id, e.err) }
func (e *abortError) Unwrap() error { return e.err }

type recordState int

const (
	stateArchived recordState = iota
	stateSkipped
	stateAborted
)

// outcome is what processing one record produced; the run switches on state.
type outcome struct {
	state    recordState
	id       models.RecordIdentifier
	position int
	path     string
	reason   error
}

// ProcessBatch runs one batch over the uploaded source. The result is
// either Completed (archive plus skipped records) or Failed; it never
// carries a partial archive.
func (p *Pipeline) ProcessBatch(ctx context.Context, filename string, source []byte) *models.BatchResult {
	runID := uuid.NewString()
	res := &models.BatchResult{RunID: runID}
	logCtx := p.logger.With("runId", runID, "source", filename)
	started := time.Now()
	logCtx.Info("Starting batch.", "bytes", len(source))

	ws, err := openWorkspace(p.settings.WorkDir, runID, logCtx)
	if err != nil {
		return p.fail(logCtx, res, errors.Wrap(err, "failed to create run workspace"))
	}
	defer ws.close()

	sourcePath, err := ws.writeSource(filename, source)
	if err != nil {
		return p.fail(logCtx, res, errors.Wrap(err, "failed to stage upload"))
	}
	ds, err := ingest.Parse(filename, source)
	ws.release(sourcePath)
	if err != nil {
		return p.fail(logCtx, res, err)
	}
	if err := requireIdentifyingColumn(ds.Headers); err != nil {
		return p.fail(logCtx, res, err)
	}
	res.RecordCount = len(ds.Records)
	logCtx.Info("Spreadsheet parsed.", "recordCount", res.RecordCount, "columns", len(ds.Headers))

	arc := archive.New()
	var (
		mu       sync.Mutex
		archived []outcome
		skipped  []models.SkippedRecord
	)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.settings.Concurrency)
	for i, raw := range ds.Records {
		if gctx.Err() != nil {
			break
		}
		position := i + 1
		eg.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out := p.processRecord(gctx, logCtx, ws, arc, raw, position)
			switch out.state {
			case stateSkipped:
				mu.Lock()
				skipped = append(skipped, models.SkippedRecord{ID: out.id, Position: out.position, Reason: out.reason.Error()})
				mu.Unlock()
			case stateAborted:
				return &abortError{id: out.id, err: out.reason}
			default:
				mu.Lock()
				archived = append(archived, out)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return p.fail(logCtx, res, err)
	}
	if err := ctx.Err(); err != nil {
		return p.fail(logCtx, res, errors.Wrap(err, "batch interrupted"))
	}

	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Position < skipped[j].Position })
	res.Skipped = skipped
	res.SkippedCount = len(skipped)

	if p.settings.CombinedPDF && len(archived) > 0 {
		if err := p.addCombined(ws, arc, archived); err != nil {
			return p.fail(logCtx, res, err)
		}
	}

	sealed, err := arc.Finalize()
	if err != nil {
		return p.fail(logCtx, res, err)
	}
	res.Archive = sealed.Bytes
	res.Entries = sealed.Entries
	logCtx.Info("Batch completed.",
		"archived", len(archived),
		"skippedCount", res.SkippedCount,
		"archiveBytes", len(res.Archive),
		"duration", time.Since(started).String(),
	)
	return res
}

// processRecord takes one record from Pending to a terminal state.
func (p *Pipeline) processRecord(ctx context.Context, logCtx *slog.Logger, ws *workspace, arc *archive.Archiver, raw models.RawRecord, position int) outcome {
	rec := normalize.Normalize(raw)
	id := normalize.ResolveIdentifier(rec, position)
	out := outcome{id: id, position: position}

	doc, err := p.renderer.Render(rec, id, position)
	if err != nil && !errors.Recoverable(err) {
		logCtx.Error("Rendering failed unexpectedly; aborting batch.", "recordId", id, "position", position, "error", err)
		out.state, out.reason = stateAborted, err
		return out
	}
	if err != nil {
		logCtx.Warn("Skipping record: rendering failed.", "recordId", id, "position", position, "error", err)
		out.state, out.reason = stateSkipped, err
		return out
	}

	artifact, err := p.generator.Generate(ctx, doc, ws.path(archive.EntryName(id)))
	if err != nil {
		if ctx.Err() == nil {
			logCtx.Error("Document generation failed; aborting batch.", "recordId", id, "position", position, "error", err)
		}
		out.state, out.reason = stateAborted, err
		return out
	}

	if err := arc.Add(artifact); err != nil {
		out.state, out.reason = stateAborted, err
		return out
	}
	out.state, out.path = stateArchived, artifact.Path
	logCtx.Debug("Record archived.", "recordId", id, "position", position, "bytes", len(artifact.Payload), "pages", artifact.Pages)
	return out
}

func (p *Pipeline) addCombined(ws *workspace, arc *archive.Archiver, archived []outcome) error {
	if p.merger == nil {
		return errors.New("combined report requested but no merger is configured")
	}
	sort.Slice(archived, func(i, j int) bool { return archived[i].position < archived[j].position })
	paths := make([]string, len(archived))
	for i, o := range archived {
		paths[i] = o.path
	}
	combined := ws.path("combined-" + ws.runID + ".pdf")
	if err := p.merger.MergePDFs(paths, combined); err != nil {
		return err
	}
	payload, err := os.ReadFile(combined)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to read combined report"), errors.ErrGeneration)
	}
	return arc.AddNamed(p.settings.CombinedName, payload)
}

func (p *Pipeline) fail(logCtx *slog.Logger, res *models.BatchResult, err error) *models.BatchResult {
	failure := &models.BatchFailure{Kind: errors.Classify(err), Detail: err.Error(), Err: err}
	var ae *abortError
	if errors.As(err, &ae) {
		failure.RecordID = ae.id
		failure.Detail = ae.err.Error()
	}
	if hints := errors.FlattenHints(err); hints != "" {
		failure.Detail += " (hint: " + hints + ")"
	}
	res.Failure = failure
	res.Archive, res.Entries = nil, nil
	logCtx.Error("Batch failed.", "errorKind", failure.Kind, "recordId", failure.RecordID, "error", err)
	return res
}

func requireIdentifyingColumn(headers []string) error {
	if normalize.HasIdentifyingColumn(headers) {
		return nil
	}
	err := errors.Newf("none of the columns %q identifies a record", headers)
	err = errors.WithHintf(err, "add one of these columns: %v", normalize.IdentifierCandidates)
	return errors.Mark(err, errors.ErrSchema)
}

// Inspect parses the source and reports the identifier each record would
// get, without rendering or generating anything.
func (p *Pipeline) Inspect(filename string, source []byte) ([]models.InspectedRecord, error) {
	ds, err := ingest.Parse(filename, source)
	if err != nil {
		return nil, err
	}
	if err := requireIdentifyingColumn(ds.Headers); err != nil {
		return nil, err
	}
	out := make([]models.InspectedRecord, 0, len(ds.Records))
	for i, raw := range ds.Records {
		rec := normalize.Normalize(raw)
		out = append(out, models.InspectedRecord{
			Position:   i + 1,
			Identifier: string(normalize.ResolveIdentifier(rec, i+1)),
			FieldCount: rec.Len(),
		})
	}
	return out, nil
}
