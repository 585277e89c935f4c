package generate

import (
	"context"
	"fmt"
	"strings"
)

// Engine converts rendered HTML into a PDF written at outputPath.
// Implementations must stop when ctx is done.
type Engine interface {
	Name() string
	Render(ctx context.Context, html, outputPath string, opts PageOptions) error
}

// PageOptions describes the page geometry handed to an engine.
// Margins are in inches.
type PageOptions struct {
	PageSize        string
	Landscape       bool
	MarginTop       float64
	MarginRight     float64
	MarginBottom    float64
	MarginLeft      float64
	LocalFileAccess bool
}

// DefaultPageOptions is A4 portrait with 0.75in margins and no local file access.
func DefaultPageOptions() PageOptions {
	return PageOptions{
		PageSize:     "A4",
		MarginTop:    0.75,
		MarginRight:  0.75,
		MarginBottom: 0.75,
		MarginLeft:   0.75,
	}
}

// paper sizes in inches, portrait.
var paperSizes = map[string][2]float64{
	"A3":     {11.69, 16.54},
	"A4":     {8.27, 11.69},
	"A5":     {5.83, 8.27},
	"LETTER": {8.5, 11},
	"LEGAL":  {8.5, 14},
}

// Dimensions returns the paper width and height in inches, honouring Landscape.
func (o PageOptions) Dimensions() (width, height float64, err error) {
	size, ok := paperSizes[strings.ToUpper(o.PageSize)]
	if !ok {
		return 0, 0, fmt.Errorf("unsupported page size %q", o.PageSize)
	}
	if o.Landscape {
		return size[1], size[0], nil
	}
	return size[0], size[1], nil
}

// Validate rejects geometry no engine can honour.
func (o PageOptions) Validate() error {
	w, h, err := o.Dimensions()
	if err != nil {
		return err
	}
	for _, m := range []float64{o.MarginTop, o.MarginRight, o.MarginBottom, o.MarginLeft} {
		if m < 0 {
			return fmt.Errorf("margins must not be negative")
		}
	}
	if o.MarginLeft+o.MarginRight >= w || o.MarginTop+o.MarginBottom >= h {
		return fmt.Errorf("margins leave no printable area on %s paper", o.PageSize)
	}
	return nil
}

// EngineConfig selects and configures an engine.
type EngineConfig struct {
	Name             string // "wkhtmltopdf" or "chrome"
	WkhtmltopdfPath  string
	ChromeBin        string
	ChromeControlURL string
	LocalFileAccess  bool
}

// NewEngine builds the engine named in cfg.
func NewEngine(cfg EngineConfig) (Engine, error) {
	switch strings.ToLower(cfg.Name) {
	case "", EngineWkhtmltopdf:
		return &WkhtmltopdfEngine{Binary: cfg.WkhtmltopdfPath}, nil
	case EngineChrome:
		return NewChromeEngine(cfg.ChromeBin, cfg.ChromeControlURL, cfg.LocalFileAccess), nil
	default:
		return nil, fmt.Errorf("unknown document engine %q", cfg.Name)
	}
}
