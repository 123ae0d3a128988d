// Package overlay implements the namespaced overlay store: the
// single embedded relational database that backs every namespace (the
// stable project tree plus one per in-flight agent). Namespaces form a
// parent chain; reads fall through to the parent when a key is absent in
// the child, and a child can shadow a parent entry with a tombstone.
//
// The store is backed by modernc.org/sqlite so the orchestrator core never
// depends on cgo. All state lives in a single .agentfs/overlay.db file.
package overlay

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/diag"
)

const schema = `
CREATE TABLE IF NOT EXISTS namespaces (
	name   TEXT PRIMARY KEY,
	parent TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS files (
	namespace TEXT NOT NULL,
	path      TEXT NOT NULL,
	data      BLOB,
	size      INTEGER NOT NULL DEFAULT 0,
	mtime     INTEGER NOT NULL DEFAULT 0,
	tombstone INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (namespace, path)
);
CREATE TABLE IF NOT EXISTS kv (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     BLOB,
	PRIMARY KEY (namespace, key)
);
`

// Store is the single handle for all namespaces backed by one sqlite file.
type Store struct {
	db *sql.DB

	mu       sync.RWMutex
	parent   map[string]string       // namespace -> parent namespace ("" = root)
	nsLocks  map[string]*sync.Mutex  // per-namespace write serialization
}

// Open opens (creating if needed) the overlay database at path and loads
// the namespace table into memory.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, cairnerr.IO("overlay.Open", fmt.Errorf("open %s: %w", path, err))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, cairnerr.IO("overlay.Open", fmt.Errorf("apply schema: %w", err))
	}

	s := &Store{
		db:      db,
		parent:  make(map[string]string),
		nsLocks: make(map[string]*sync.Mutex),
	}

	rows, err := db.Query(`SELECT name, parent FROM namespaces`)
	if err != nil {
		db.Close()
		return nil, cairnerr.IO("overlay.Open", fmt.Errorf("load namespaces: %w", err))
	}
	for rows.Next() {
		var name, parent string
		if err := rows.Scan(&name, &parent); err != nil {
			rows.Close()
			db.Close()
			return nil, cairnerr.IO("overlay.Open", err)
		}
		s.parent[name] = parent
	}
	rows.Close()

	diag.LogKV("overlay", "opened", "path", path, "namespaces", len(s.parent))
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// OpenNamespace creates the namespace (idempotent) with the given parent
// ("" for none). If the namespace already exists its recorded parent is
// left untouched.
func (s *Store) OpenNamespace(name, parent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.parent[name]; ok {
		return nil
	}
	if parent != "" {
		if _, ok := s.parent[parent]; !ok {
			return cairnerr.Invalid("overlay.OpenNamespace", fmt.Errorf("parent namespace %q does not exist", parent))
		}
	}
	if _, err := s.db.Exec(`INSERT INTO namespaces (name, parent) VALUES (?, ?)`, name, parent); err != nil {
		return cairnerr.IO("overlay.OpenNamespace", err)
	}
	s.parent[name] = parent
	s.nsLocks[name] = &sync.Mutex{}
	diag.LogKV("overlay", "namespace opened", "namespace", name, "parent", parent)
	return nil
}

// NamespaceExists reports whether name has been opened and not yet
// destroyed.
func (s *Store) NamespaceExists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.parent[name]
	return ok
}

// DestroyNamespace removes a namespace and every file/kv entry recorded
// directly against it. Idempotent: destroying an already-absent namespace
// is a no-op. It never touches the parent namespace's own entries.
func (s *Store) DestroyNamespace(name string) error {
	s.mu.Lock()
	if _, ok := s.parent[name]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.parent, name)
	delete(s.nsLocks, name)
	s.mu.Unlock()

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return cairnerr.IO("overlay.DestroyNamespace", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM files WHERE namespace = ?`, name); err != nil {
		return cairnerr.IO("overlay.DestroyNamespace", err)
	}
	if _, err := tx.Exec(`DELETE FROM kv WHERE namespace = ?`, name); err != nil {
		return cairnerr.IO("overlay.DestroyNamespace", err)
	}
	if _, err := tx.Exec(`DELETE FROM namespaces WHERE name = ?`, name); err != nil {
		return cairnerr.IO("overlay.DestroyNamespace", err)
	}
	if err := tx.Commit(); err != nil {
		return cairnerr.IO("overlay.DestroyNamespace", err)
	}
	diag.LogKV("overlay", "namespace destroyed", "namespace", name)
	return nil
}

// chain returns [ns, parent(ns), parent(parent(ns)), ...] ending at the
// root namespace ("" never included).
func (s *Store) chain(ns string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chain []string
	cur := ns
	for cur != "" {
		chain = append(chain, cur)
		cur = s.parent[cur]
	}
	return chain
}

func (s *Store) lockFor(ns string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.nsLocks[ns]
	if !ok {
		l = &sync.Mutex{}
		s.nsLocks[ns] = l
	}
	return l
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
