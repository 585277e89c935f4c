// Package archive packs generated artifacts into a single in-memory ZIP.
// It works only on payload bytes; the files behind them belong to the
// pipeline run and are never read or removed here.
package archive

import (
	"archive/zip"
	"bytes"
	"sync"
	"time"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
)

// EntryExtension is appended to a record identifier to name its entry.
const EntryExtension = ".pdf"

// modTime is stamped on every entry so identical input gives identical archives.
var modTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Archive is a sealed container ready to hand to a caller.
type Archive struct {
	Bytes   []byte
	Entries []string
}

// Archiver accumulates entries. It is safe for concurrent use.
type Archiver struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	zw        *zip.Writer
	names     map[string]struct{}
	entries   []string
	finalized bool
}

// New returns an empty Archiver.
func New() *Archiver {
	a := &Archiver{names: make(map[string]struct{})}
	a.zw = zip.NewWriter(&a.buf)
	return a
}

// EntryName is the archive member name for a record.
func EntryName(id models.RecordIdentifier) string {
	return string(id) + EntryExtension
}

// Add appends the artifact payload under its identifier.
func (a *Archiver) Add(artifact models.GeneratedArtifact) error {
	return a.AddNamed(EntryName(artifact.ID), artifact.Payload)
}

// AddNamed appends payload under name. Names must be unique.
func (a *Archiver) AddNamed(name string, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return errors.Mark(errors.Newf("cannot add %s: archive already finalized", name), errors.ErrArchive)
	}
	if _, dup := a.names[name]; dup {
		return errors.Mark(errors.Newf("duplicate archive entry %s", name), errors.ErrArchive)
	}

	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modTime,
	})
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to create entry %s", name), errors.ErrArchive)
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to write entry %s", name), errors.ErrArchive)
	}
	a.names[name] = struct{}{}
	a.entries = append(a.entries, name)
	return nil
}

// Len reports how many entries have been added.
func (a *Archiver) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Finalize seals the container. It may be called once.
func (a *Archiver) Finalize() (Archive, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return Archive{}, errors.Mark(errors.New("archive already finalized"), errors.ErrArchive)
	}
	a.finalized = true
	if err := a.zw.Close(); err != nil {
		return Archive{}, errors.Mark(errors.Wrap(err, "failed to seal archive"), errors.ErrArchive)
	}
	out := make([]byte, a.buf.Len())
	copy(out, a.buf.Bytes())
	entries := make([]string, len(a.entries))
	copy(entries, a.entries)
	return Archive{Bytes: out, Entries: entries}, nil
}
