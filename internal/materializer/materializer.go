// Package materializer writes an agent's effective overlay view onto a
// scratch directory on disk so an external Executor (which operates on real
// files, not database rows) has something to run against.
package materializer

import (
	"os"
	"path/filepath"

	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/overlay"
)

// Materializer writes workspaces under <cairnHome>/workspaces/<agentID>.
type Materializer struct {
	ov      *overlay.Store
	baseDir string
}

// New returns a Materializer rooted at cairnHome/workspaces.
func New(ov *overlay.Store, cairnHome string) *Materializer {
	return &Materializer{ov: ov, baseDir: filepath.Join(cairnHome, "workspaces")}
}

// WorkspacePath returns the scratch directory for agentID without creating
// or populating it.
func (m *Materializer) WorkspacePath(agentID string) string {
	return filepath.Join(m.baseDir, agentID)
}

// Materialize walks ns's effective file view and writes every live file
// under the agent's scratch directory, returning that directory's path.
func (m *Materializer) Materialize(agentID, ns string) (string, error) {
	dir := m.WorkspacePath(agentID)
	if err := os.RemoveAll(dir); err != nil {
		return "", cairnerr.IO("materializer.Materialize", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", cairnerr.IO("materializer.Materialize", err)
	}

	paths, err := m.ov.WalkEffectiveFiles(ns)
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		data, err := m.ov.ReadFile(ns, p)
		if err != nil {
			if cairnerr.Is(err, cairnerr.KindNotFound) {
				continue
			}
			return "", err
		}
		dest := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return "", cairnerr.IO("materializer.Materialize", err)
		}
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return "", cairnerr.IO("materializer.Materialize", err)
		}
	}
	return dir, nil
}

// Cleanup removes an agent's scratch directory. Idempotent.
func (m *Materializer) Cleanup(agentID string) error {
	if err := os.RemoveAll(m.WorkspacePath(agentID)); err != nil {
		return cairnerr.IO("materializer.Cleanup", err)
	}
	return nil
}
