package render

import (
	"embed"
	"html/template"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
)

// DefaultTemplate is the embedded patient report.
const DefaultTemplate = "patient_report"

//go:embed templates/*.html.tmpl
var embedded embed.FS

var templateExtensions = []string{".html.tmpl", ".html"}

// Provider loads named templates from a stack of filesystems, first match
// wins, and caches parsed templates for the life of the process.
type Provider struct {
	layers []fs.FS

	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewProvider returns a provider over the embedded templates, overridden
// by files in overrideDir when it is not empty.
func NewProvider(overrideDir string) *Provider {
	builtin, _ := fs.Sub(embedded, "templates")
	var layers []fs.FS
	if overrideDir != "" {
		layers = append(layers, os.DirFS(overrideDir))
	}
	layers = append(layers, builtin)
	return NewProviderFS(layers...)
}

// NewProviderFS returns a provider over the given filesystems.
func NewProviderFS(layers ...fs.FS) *Provider {
	return &Provider{layers: layers, cache: make(map[string]*template.Template)}
}

// Load returns the parsed template called name. A missing template is
// errors.ErrTemplateNotFound; one that fails to parse is errors.ErrRender.
func (p *Provider) Load(name string) (*template.Template, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.cache[name]; ok {
		return t, nil
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, errors.Mark(errors.Newf("invalid template name %q", name), errors.ErrTemplateNotFound)
	}

	src, err := p.read(name)
	if err != nil {
		return nil, err
	}
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to parse template %q", name), errors.ErrRender)
	}
	p.cache[name] = t
	return t, nil
}

func (p *Provider) read(name string) ([]byte, error) {
	for _, layer := range p.layers {
		for _, ext := range templateExtensions {
			src, err := fs.ReadFile(layer, name+ext)
			if err == nil {
				return src, nil
			}
			if !os.IsNotExist(err) {
				return nil, errors.Mark(errors.Wrapf(err, "failed to read template %q", name), errors.ErrRender)
			}
		}
	}
	return nil, errors.Mark(errors.Newf("template %q not found", name), errors.ErrTemplateNotFound)
}
