package overlay

import (
	"fmt"

	"github.com/cairn-dev/cairn/internal/cairnerr"
)

// SetKV upserts key in ns's key-value space. Unlike files, kv entries do
// not participate in fallthrough or tombstoning: the lifecycle store and
// capability submissions both need exact, namespace-local values.
func (s *Store) SetKV(ns, key string, value []byte) error {
	lock := s.lockFor(ns)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET value=excluded.value`,
		ns, key, value,
	)
	if err != nil {
		return cairnerr.IO("overlay.SetKV", fmt.Errorf("%s/%s: %w", ns, key, err))
	}
	return nil
}

// GetKV returns the value stored at key in ns.
func (s *Store) GetKV(ns, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE namespace = ? AND key = ?`, ns, key).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return nil, cairnerr.NotFound("overlay.GetKV", fmt.Errorf("%s/%s", ns, key))
		}
		return nil, cairnerr.IO("overlay.GetKV", err)
	}
	return value, nil
}

// DeleteKV removes key from ns. Idempotent.
func (s *Store) DeleteKV(ns, key string) error {
	lock := s.lockFor(ns)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.db.Exec(`DELETE FROM kv WHERE namespace = ? AND key = ?`, ns, key); err != nil {
		return cairnerr.IO("overlay.DeleteKV", err)
	}
	return nil
}

// ListKV returns every key in ns with the given prefix, in lexical order.
func (s *Store) ListKV(ns, prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE namespace = ? AND key LIKE ? ORDER BY key`, ns, prefix+"%")
	if err != nil {
		return nil, cairnerr.IO("overlay.ListKV", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, cairnerr.IO("overlay.ListKV", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
