// Package errors provides error handling for the report batch pipeline.
//
// It re-exports the parts of github.com/cockroachdb/errors the pipeline uses
// and defines the sentinels that classify a failure. Components mark their
// errors with a sentinel and the orchestrator switches on Classify:
//
//	return errors.Mark(errors.Wrap(err, "template execution failed"), errors.ErrRender)
//
//	switch errors.Classify(err) {
//	case models.KindRender: // skip the record
//	}
package errors

import (
	"context"

	crdb "github.com/cockroachdb/errors"

	"github.com/Lllllllleong/reportbatchflow/internal/models"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	Mark         = crdb.Mark
	WithHintf    = crdb.WithHintf
	Is           = crdb.Is
	As           = crdb.As
	FlattenHints = crdb.FlattenHints
)

// Sentinels used with Mark. Check them with Is, never by message.
var (
	// ErrFormat: the uploaded bytes are not a readable spreadsheet.
	ErrFormat = New("format error")
	// ErrSchema: no column can identify a record.
	ErrSchema = New("schema error")
	// ErrRender: one record could not be bound to its template. Recoverable.
	ErrRender = New("render error")
	// ErrTemplateNotFound: the named template does not exist.
	ErrTemplateNotFound = New("template not found")
	// ErrGeneration: the document engine failed. Batch-fatal.
	ErrGeneration = New("generation error")
	// ErrEngineTimeout: the document engine exceeded its deadline. Batch-fatal.
	ErrEngineTimeout = New("engine timeout")
	// ErrArchive: the archive container rejected an entry. Batch-fatal.
	ErrArchive = New("archive error")
)

// Classify maps an error onto the failure kind reported to callers.
// Timeouts are checked before generation errors since a timeout is both.
func Classify(err error) models.ErrorKind {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrEngineTimeout):
		return models.KindTimeout
	case Is(err, ErrGeneration):
		return models.KindGeneration
	case Is(err, ErrArchive):
		return models.KindArchive
	case Is(err, ErrRender), Is(err, ErrTemplateNotFound):
		return models.KindRender
	case Is(err, ErrFormat):
		return models.KindFormat
	case Is(err, ErrSchema):
		return models.KindSchema
	case Is(err, context.Canceled), Is(err, context.DeadlineExceeded):
		return models.KindCanceled
	default:
		return models.KindInternal
	}
}

// Recoverable reports whether err only affects the record that raised it.
func Recoverable(err error) bool {
	return Classify(err) == models.KindRender
}
