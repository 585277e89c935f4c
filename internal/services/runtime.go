package services

import (
	"context"
	"io"
	"log/slog"

	"github.com/Lllllllleong/reportbatchflow/internal/config"
	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/generate"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
	"github.com/Lllllllleong/reportbatchflow/internal/pipeline"
	"github.com/Lllllllleong/reportbatchflow/internal/render"
)

// BatchProcessor runs one batch. *pipeline.Pipeline satisfies it.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, filename string, source []byte) *models.BatchResult
}

// Runtime is a pipeline assembled from configuration, plus the engine it owns.
type Runtime struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	engine   generate.Engine
}

// NewRuntime wires provider, renderer, engine and generator into a pipeline.
// The configured template is loaded up front so a missing or broken
// template fails startup instead of skipping every record.
func NewRuntime(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	provider := render.NewProvider(cfg.TemplateDir)
	if _, err := provider.Load(cfg.TemplateName); err != nil {
		return nil, errors.Wrapf(err, "failed to load template %q", cfg.TemplateName)
	}
	renderer := render.NewRenderer(provider, cfg.TemplateName)

	engine, err := generate.NewEngine(cfg.EngineConfig())
	if err != nil {
		return nil, err
	}
	generator := generate.New(engine, cfg.GeneratorOptions())

	p := pipeline.New(renderer, generator, cfg.PipelineSettings(), pipeline.WithLogger(logger))
	logger.Info("Pipeline initialized.",
		"engine", generator.EngineName(),
		"template", renderer.TemplateName(),
		"concurrency", cfg.Concurrency,
	)
	return &Runtime{Config: cfg, Pipeline: p, engine: engine}, nil
}

// Close releases the engine when it holds resources, such as a browser.
func (r *Runtime) Close() error {
	if c, ok := r.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
