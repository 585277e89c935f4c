package generate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
)

// EngineWkhtmltopdf is the name of the wkhtmltopdf engine.
const EngineWkhtmltopdf = "wkhtmltopdf"

// WkhtmltopdfEngine runs the wkhtmltopdf binary once per document, feeding
// the HTML on stdin.
type WkhtmltopdfEngine struct {
	// Binary is the executable path; empty means "wkhtmltopdf" on PATH.
	Binary string
}

func (e *WkhtmltopdfEngine) Name() string { return EngineWkhtmltopdf }

func (e *WkhtmltopdfEngine) Render(ctx context.Context, html, outputPath string, opts PageOptions) error {
	bin := e.Binary
	if bin == "" {
		bin = EngineWkhtmltopdf
	}
	cmd := exec.CommandContext(ctx, bin, wkhtmltopdfArgs(outputPath, opts)...)
	cmd.Stdin = strings.NewReader(html)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg != "" {
			return errors.Wrapf(err, "wkhtmltopdf: %s", msg)
		}
		return errors.Wrap(err, "wkhtmltopdf")
	}
	return nil
}

func wkhtmltopdfArgs(outputPath string, opts PageOptions) []string {
	orientation := "Portrait"
	if opts.Landscape {
		orientation = "Landscape"
	}
	access := "--disable-local-file-access"
	if opts.LocalFileAccess {
		access = "--enable-local-file-access"
	}
	inches := func(v float64) string { return fmt.Sprintf("%.2fin", v) }

	return []string{
		"--quiet",
		"--encoding", "utf-8",
		"--page-size", opts.PageSize,
		"--orientation", orientation,
		"--margin-top", inches(opts.MarginTop),
		"--margin-right", inches(opts.MarginRight),
		"--margin-bottom", inches(opts.MarginBottom),
		"--margin-left", inches(opts.MarginLeft),
		access,
		"-", // read HTML from stdin
		outputPath,
	}
}
