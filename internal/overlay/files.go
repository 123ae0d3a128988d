package overlay

import (
	"database/sql"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/cairn-dev/cairn/internal/cairnerr"
)

// WriteFile upserts path in ns with the given bytes, clearing any tombstone
// that previously shadowed a parent entry. Writes to a single namespace are
// serialized against each other.
func (s *Store) WriteFile(ns, p string, data []byte) error {
	p = normalizePath(p)
	lock := s.lockFor(ns)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO files (namespace, path, data, size, mtime, tombstone) VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT(namespace, path) DO UPDATE SET data=excluded.data, size=excluded.size, mtime=excluded.mtime, tombstone=0`,
		ns, p, data, len(data), nowMillis(),
	)
	if err != nil {
		return cairnerr.IO("overlay.WriteFile", fmt.Errorf("%s/%s: %w", ns, p, err))
	}
	return nil
}

// ReadFile returns the bytes visible for path in ns, falling through to
// parent namespaces when absent. A tombstone recorded at any level on the
// path from ns to the root makes the file not-found from that point
// upward, even if an ancestor still has live bytes.
func (s *Store) ReadFile(ns, p string) ([]byte, error) {
	p = normalizePath(p)
	for _, level := range s.chain(ns) {
		var data []byte
		var tomb int
		err := s.db.QueryRow(`SELECT data, tombstone FROM files WHERE namespace = ? AND path = ?`, level, p).Scan(&data, &tomb)
		if err == nil {
			if tomb != 0 {
				return nil, cairnerr.NotFound("overlay.ReadFile", fmt.Errorf("%s/%s", ns, p))
			}
			return data, nil
		}
		if !isNoRows(err) {
			return nil, cairnerr.IO("overlay.ReadFile", err)
		}
	}
	return nil, cairnerr.NotFound("overlay.ReadFile", fmt.Errorf("%s/%s", ns, p))
}

// FileExists reports whether ReadFile would succeed for path in ns.
func (s *Store) FileExists(ns, p string) bool {
	_, err := s.ReadFile(ns, p)
	return err == nil
}

// DeleteFile removes path from ns. If ns has a parent, the deletion is
// recorded as a tombstone so reads through ns continue to resolve to
// not-found even though an ancestor still holds the file. If ns is a root
// namespace the row is removed outright. Idempotent.
func (s *Store) DeleteFile(ns, p string) error {
	p = normalizePath(p)
	lock := s.lockFor(ns)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	parent, hasParent := s.parent[ns]
	s.mu.RUnlock()

	if hasParent && parent != "" {
		_, err := s.db.Exec(
			`INSERT INTO files (namespace, path, data, size, mtime, tombstone) VALUES (?, ?, NULL, 0, ?, 1)
			 ON CONFLICT(namespace, path) DO UPDATE SET data=NULL, size=0, mtime=excluded.mtime, tombstone=1`,
			ns, p, nowMillis(),
		)
		if err != nil {
			return cairnerr.IO("overlay.DeleteFile", err)
		}
		return nil
	}

	if _, err := s.db.Exec(`DELETE FROM files WHERE namespace = ? AND path = ?`, ns, p); err != nil {
		return cairnerr.IO("overlay.DeleteFile", err)
	}
	return nil
}

// ListDir returns the immediate entry names under dir as seen through ns's
// effective (fallthrough + tombstone) view. dir == "" lists the root.
func (s *Store) ListDir(ns, dir string) ([]string, error) {
	paths, err := s.effectivePaths(ns)
	if err != nil {
		return nil, err
	}
	dir = normalizePath(dir)

	seen := map[string]bool{}
	for p, tomb := range paths {
		if tomb {
			continue
		}
		rel, ok := underDir(p, dir)
		if !ok {
			continue
		}
		seen[firstSegment(rel)] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// WalkEffectiveFiles returns every live (non-tombstoned) file path visible
// through ns, across the full namespace chain. Used by the workspace
// materialiser to mirror an agent's effective view onto disk.
func (s *Store) WalkEffectiveFiles(ns string) ([]string, error) {
	paths, err := s.effectivePaths(ns)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(paths))
	for p, tomb := range paths {
		if !tomb {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// effectivePaths resolves, for every path touched anywhere in ns's
// namespace chain, the tombstone state recorded at the level closest to ns.
// A path decided at a child level shadows any occurrence in an ancestor.
func (s *Store) effectivePaths(ns string) (map[string]bool, error) {
	decided := map[string]bool{}
	for _, level := range s.chain(ns) {
		rows, err := s.db.Query(`SELECT path, tombstone FROM files WHERE namespace = ?`, level)
		if err != nil {
			return nil, cairnerr.IO("overlay.effectivePaths", err)
		}
		for rows.Next() {
			var p string
			var tomb int
			if err := rows.Scan(&p, &tomb); err != nil {
				rows.Close()
				return nil, cairnerr.IO("overlay.effectivePaths", err)
			}
			if _, already := decided[p]; already {
				continue
			}
			decided[p] = tomb != 0
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, cairnerr.IO("overlay.effectivePaths", err)
		}
		rows.Close()
	}
	return decided, nil
}

func normalizePath(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return p
}

// underDir reports whether full lies under dir and returns the portion of
// full relative to dir.
func underDir(full, dir string) (string, bool) {
	if dir == "" {
		return full, full != ""
	}
	prefix := dir + "/"
	if !strings.HasPrefix(full, prefix) {
		return "", false
	}
	return strings.TrimPrefix(full, prefix), true
}

func firstSegment(rel string) string {
	if idx := strings.IndexByte(rel, '/'); idx >= 0 {
		return rel[:idx]
	}
	return rel
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
