package pipeline

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// workspace is the transient directory owned by one run. Every file the run
// creates is registered here and close removes all of them, whatever the
// outcome of the run.
type workspace struct {
	runID  string
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	paths []string
}

func openWorkspace(baseDir, runID string, logger *slog.Logger) (*workspace, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	dir := filepath.Join(baseDir, "run-"+runID)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, err
	}
	return &workspace{runID: runID, dir: dir, logger: logger}, nil
}

// path registers name inside the run directory and returns its full path.
// Registration happens before anything is written so partial output from
// an interrupted engine is still removed.
func (w *workspace) path(name string) string {
	p := filepath.Join(w.dir, name)
	w.mu.Lock()
	w.paths = append(w.paths, p)
	w.mu.Unlock()
	return p
}

// writeSource stores the uploaded bytes under a run-scoped name.
func (w *workspace) writeSource(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	p := w.path("source-" + w.runID + ext)
	return p, os.WriteFile(p, data, 0o600)
}

// release removes one registered file ahead of close.
func (w *workspace) release(p string) {
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("Failed to remove transient file early; it will be retried at cleanup.", "path", p, "error", err)
	}
}

// close removes every registered file and the run directory. Failures are
// logged and otherwise ignored.
func (w *workspace) close() {
	w.mu.Lock()
	paths := w.paths
	w.paths = nil
	w.mu.Unlock()

	removed := 0
	for _, p := range paths {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
		case os.IsNotExist(err):
		default:
			w.logger.Warn("Failed to remove transient file.", "path", p, "error", err)
		}
	}
	if err := os.Remove(w.dir); err != nil && !os.IsNotExist(err) {
		// Something unregistered was left behind; take the whole directory.
		if err := os.RemoveAll(w.dir); err != nil {
			w.logger.Warn("Failed to remove run directory.", "path", w.dir, "error", err)
			return
		}
	}
	w.logger.Debug("Run workspace cleaned up.", "removedFiles", removed)
}
