// Package generate turns rendered HTML into PDF artifacts through an
// external document engine. Any failure here is fatal to the batch, so
// every error leaving Generate is marked errors.ErrGeneration (plus
// errors.ErrEngineTimeout when the engine ran out of time), except when the
// caller's own context ended first.
package generate

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
)

// DefaultTimeout bounds a single engine call.
const DefaultTimeout = 60 * time.Second

// Options configures a Generator.
type Options struct {
	Page    PageOptions
	Timeout time.Duration
	// Validate runs pdfcpu over every artifact and records its page count.
	Validate bool
}

// Generator wraps an Engine with a deadline, read-back and validation.
type Generator struct {
	engine Engine
	opts   Options

	confOnce sync.Once
	conf     *model.Configuration
}

// New returns a Generator around engine.
func New(engine Engine, opts Options) *Generator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Page.PageSize == "" {
		opts.Page = DefaultPageOptions()
	}
	return &Generator{engine: engine, opts: opts}
}

// EngineName reports which engine documents are sent to.
func (g *Generator) EngineName() string { return g.engine.Name() }

func (g *Generator) pdfConfig() *model.Configuration {
	g.confOnce.Do(func() {
		g.conf = model.NewDefaultConfiguration()
		g.conf.ValidationMode = model.ValidationRelaxed
	})
	return g.conf
}

// Generate converts doc into a PDF at outputPath and returns it with its bytes.
// The caller owns outputPath and must remove it whatever the outcome.
func (g *Generator) Generate(ctx context.Context, doc models.RenderedDocument, outputPath string) (models.GeneratedArtifact, error) {
	artifact := models.GeneratedArtifact{ID: doc.ID, Position: doc.Position, Path: outputPath}

	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	err := g.engine.Render(callCtx, doc.HTML, outputPath, g.opts.Page)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return artifact, errors.Wrapf(ctx.Err(), "generation of %s interrupted", doc.ID)
		case timedOut:
			err = errors.Wrapf(err, "%s did not finish within %s", g.engine.Name(), g.opts.Timeout)
			return artifact, errors.Mark(errors.Mark(err, errors.ErrGeneration), errors.ErrEngineTimeout)
		default:
			return artifact, errors.Mark(errors.Wrapf(err, "%s failed", g.engine.Name()), errors.ErrGeneration)
		}
	}

	payload, err := os.ReadFile(outputPath)
	if err != nil {
		return artifact, errors.Mark(errors.Wrap(err, "failed to read generated document"), errors.ErrGeneration)
	}
	if len(payload) == 0 {
		return artifact, errors.Mark(errors.Newf("%s produced an empty document", g.engine.Name()), errors.ErrGeneration)
	}
	artifact.Payload = payload

	if g.opts.Validate {
		if err := api.ValidateFile(outputPath, g.pdfConfig()); err != nil {
			return artifact, errors.Mark(errors.Wrap(err, "generated document is not a valid PDF"), errors.ErrGeneration)
		}
		pages, err := api.PageCountFile(outputPath)
		if err != nil {
			return artifact, errors.Mark(errors.Wrap(err, "failed to count pages"), errors.ErrGeneration)
		}
		artifact.Pages = pages
	}
	return artifact, nil
}

// MergePDFs concatenates the PDFs at paths into outputPath.
func (g *Generator) MergePDFs(paths []string, outputPath string) error {
	if len(paths) == 0 {
		return errors.New("nothing to merge")
	}
	if err := api.MergeCreateFile(paths, outputPath, false, g.pdfConfig()); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to merge documents"), errors.ErrGeneration)
	}
	return nil
}
