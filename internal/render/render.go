// Package render binds normalized records to HTML templates.
//
// Rendering is a pure function of the record and the template; the only I/O
// is the first read of a template, after which the Provider serves it from
// memory. Every failure is marked errors.ErrRender (or ErrTemplateNotFound)
// so the pipeline can skip the record and carry on.
package render

import (
	"bytes"
	"html/template"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
	"github.com/Lllllllleong/reportbatchflow/internal/normalize"
)

var funcs = template.FuncMap{
	"title": title,
}

// title turns a canonical key such as "blood_type" into "Blood Type".
func title(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToTitle(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// Document is the data a template executes against.
type Document struct {
	ID       string
	Position int
	Name     string
	Values   map[string]string
	Fields   []models.NormalizedField
}

// Field returns the value for key, or N/A when the record lacks it.
func (d Document) Field(key string) string {
	if v, ok := d.Values[key]; ok {
		return v
	}
	return models.NotAvailable
}

// Except returns the fields whose keys are not listed, in source order.
func (d Document) Except(keys ...string) []models.NormalizedField {
	skip := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		skip[k] = struct{}{}
	}
	var out []models.NormalizedField
	for _, f := range d.Fields {
		if _, ok := skip[f.Key]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Renderer renders records with one named template.
type Renderer struct {
	provider *Provider
	name     string
}

// NewRenderer returns a renderer for the template called name.
func NewRenderer(provider *Provider, name string) *Renderer {
	if name == "" {
		name = DefaultTemplate
	}
	return &Renderer{provider: provider, name: name}
}

// TemplateName is the template this renderer executes.
func (r *Renderer) TemplateName() string { return r.name }

// Render executes the template for one record.
func (r *Renderer) Render(rec models.NormalizedRecord, id models.RecordIdentifier, position int) (models.RenderedDocument, error) {
	tmpl, err := r.provider.Load(r.name)
	if err != nil {
		return models.RenderedDocument{}, err
	}

	name, ok := normalize.DisplayName(rec)
	if !ok {
		name = models.NotAvailable
	}
	data := Document{
		ID:       string(id),
		Position: position,
		Name:     name,
		Values:   rec.Map(),
		Fields:   rec.Fields(),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return models.RenderedDocument{}, errors.Mark(
			errors.Wrapf(err, "failed to execute template %q", r.name), errors.ErrRender)
	}
	return models.RenderedDocument{ID: id, Position: position, HTML: buf.String()}, nil
}
