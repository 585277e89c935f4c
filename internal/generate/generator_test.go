package generate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
)

type stubEngine struct {
	render func(ctx context.Context, html, out string, opts PageOptions) error
}

func (s stubEngine) Name() string { return "stub" }

func (s stubEngine) Render(ctx context.Context, html, out string, opts PageOptions) error {
	return s.render(ctx, html, out, opts)
}

func writesHTML(ctx context.Context, html, out string, _ PageOptions) error {
	return os.WriteFile(out, []byte("%PDF-stub\n"+html), 0o600)
}

func TestGenerateReadsArtifactBack(t *testing.T) {
	g := New(stubEngine{render: writesHTML}, Options{})
	out := filepath.Join(t.TempDir(), "jane_doe_1.pdf")

	art, err := g.Generate(context.Background(), models.RenderedDocument{ID: "jane_doe_1", Position: 1, HTML: "<p>x</p>"}, out)
	require.NoError(t, err)

	assert.Equal(t, models.RecordIdentifier("jane_doe_1"), art.ID)
	assert.Equal(t, 1, art.Position)
	assert.Equal(t, out, art.Path)
	assert.Equal(t, []byte("%PDF-stub\n<p>x</p>"), art.Payload)
}

func TestGenerateEngineFailureIsGenerationError(t *testing.T) {
	g := New(stubEngine{render: func(context.Context, string, string, PageOptions) error {
		return errors.New("engine rejected input")
	}}, Options{})

	_, err := g.Generate(context.Background(), models.RenderedDocument{ID: "a_1"}, filepath.Join(t.TempDir(), "a_1.pdf"))
	require.Error(t, err)
	assert.Equal(t, models.KindGeneration, errors.Classify(err))
	assert.Contains(t, err.Error(), "engine rejected input")
}

func TestGenerateEmptyOutputIsGenerationError(t *testing.T) {
	g := New(stubEngine{render: func(_ context.Context, _, out string, _ PageOptions) error {
		return os.WriteFile(out, nil, 0o600)
	}}, Options{})

	_, err := g.Generate(context.Background(), models.RenderedDocument{ID: "a_1"}, filepath.Join(t.TempDir(), "a_1.pdf"))
	assert.Equal(t, models.KindGeneration, errors.Classify(err))
}

func TestGenerateTimeout(t *testing.T) {
	g := New(stubEngine{render: func(ctx context.Context, _, _ string, _ PageOptions) error {
		<-ctx.Done()
		return ctx.Err()
	}}, Options{Timeout: 20 * time.Millisecond})

	_, err := g.Generate(context.Background(), models.RenderedDocument{ID: "slow_1"}, filepath.Join(t.TempDir(), "slow_1.pdf"))
	require.Error(t, err)
	assert.Equal(t, models.KindTimeout, errors.Classify(err))
	assert.True(t, errors.Is(err, errors.ErrGeneration), "a timeout is also a generation error")
}

func TestGenerateParentCancelIsNotGenerationError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := New(stubEngine{render: func(ctx context.Context, _, _ string, _ PageOptions) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}}, Options{Timeout: time.Minute})

	_, err := g.Generate(ctx, models.RenderedDocument{ID: "a_1"}, filepath.Join(t.TempDir(), "a_1.pdf"))
	require.Error(t, err)
	assert.Equal(t, models.KindCanceled, errors.Classify(err))
}

func TestWkhtmltopdfMissingBinary(t *testing.T) {
	g := New(&WkhtmltopdfEngine{Binary: filepath.Join(t.TempDir(), "no-such-wkhtmltopdf")}, Options{})

	_, err := g.Generate(context.Background(), models.RenderedDocument{ID: "a_1", HTML: "<p/>"}, filepath.Join(t.TempDir(), "a_1.pdf"))
	assert.Equal(t, models.KindGeneration, errors.Classify(err))
}

func TestWkhtmltopdfArgs(t *testing.T) {
	opts := DefaultPageOptions()
	opts.Landscape = true
	opts.LocalFileAccess = true

	args := wkhtmltopdfArgs("/tmp/out.pdf", opts)

	assert.Equal(t, []string{
		"--quiet",
		"--encoding", "utf-8",
		"--page-size", "A4",
		"--orientation", "Landscape",
		"--margin-top", "0.75in",
		"--margin-right", "0.75in",
		"--margin-bottom", "0.75in",
		"--margin-left", "0.75in",
		"--enable-local-file-access",
		"-",
		"/tmp/out.pdf",
	}, args)

	opts.LocalFileAccess = false
	assert.Contains(t, wkhtmltopdfArgs("x.pdf", opts), "--disable-local-file-access")
}

func TestPageOptions(t *testing.T) {
	opts := DefaultPageOptions()
	w, h, err := opts.Dimensions()
	require.NoError(t, err)
	assert.Equal(t, 8.27, w)
	assert.Equal(t, 11.69, h)
	require.NoError(t, opts.Validate())

	opts.Landscape = true
	w, h, _ = opts.Dimensions()
	assert.Equal(t, 11.69, w)
	assert.Equal(t, 8.27, h)

	opts.PageSize = "letter"
	require.NoError(t, opts.Validate())

	opts.PageSize = "B9"
	assert.Error(t, opts.Validate())

	opts = DefaultPageOptions()
	opts.MarginLeft, opts.MarginRight = 4.5, 4.5
	assert.Error(t, opts.Validate())
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(EngineConfig{})
	require.NoError(t, err)
	assert.Equal(t, EngineWkhtmltopdf, e.Name())

	e, err = NewEngine(EngineConfig{Name: "Chrome"})
	require.NoError(t, err)
	assert.Equal(t, EngineChrome, e.Name())

	_, err = NewEngine(EngineConfig{Name: "latex"})
	assert.Error(t, err)
}
