// Package signalwatcher implements the filesystem side of the accept/reject
// protocol: an external caller drops an empty "accept-<id>" or
// "reject-<id>" token file into the signals directory, and this watcher
// polls for those tokens, removes each token, and then dispatches the
// corresponding orchestrator call exactly once per token. Mirrors the
// wait/interrupt signal-file convention used elsewhere in this codebase.
package signalwatcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/diag"
)

// Dispatcher receives the decoded accept/reject calls. The orchestrator
// implements this interface.
type Dispatcher interface {
	Accept(agentID string) error
	Reject(agentID string) error
}

const (
	acceptPrefix = "accept-"
	rejectPrefix = "reject-"
)

// Watcher polls dir for accept-*/reject-* token files.
type Watcher struct {
	dir        string
	dispatcher Dispatcher
	interval   time.Duration
}

// New returns a Watcher that polls dir every interval.
func New(dir string, d Dispatcher, interval time.Duration) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, cairnerr.IO("signalwatcher.New", err)
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{dir: dir, dispatcher: d, interval: interval}, nil
}

// Run polls until ctx is cancelled. A token that fails to dispatch is
// logged and removed anyway, so a malformed signal can never wedge the
// loop.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Watcher) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		diag.Logf("signalwatcher", "read dir %s: %v", w.dir, err)
		return
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(w.dir, name)

		switch {
		case strings.HasPrefix(name, acceptPrefix):
			agentID := strings.TrimPrefix(name, acceptPrefix)
			w.consume(path, func() error { return w.dispatcher.Accept(agentID) }, "accept", agentID)
		case strings.HasPrefix(name, rejectPrefix):
			agentID := strings.TrimPrefix(name, rejectPrefix)
			w.consume(path, func() error { return w.dispatcher.Reject(agentID) }, "reject", agentID)
		}
	}
}

// consume removes the token before dispatching so a crash mid-dispatch
// never replays the same signal twice.
func (w *Watcher) consume(path string, dispatch func() error, kind, agentID string) {
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			diag.Logf("signalwatcher", "remove token %s: %v", path, err)
		}
		return
	}
	if err := dispatch(); err != nil {
		diag.Logf("signalwatcher", "%s %s: %v", kind, agentID, err)
	}
}

// SweepStale removes token files older than maxAge without dispatching
// them. Invoked from the retention loop to clean up after a crash that left
// an operator's signal unconsumed.
func (w *Watcher) SweepStale(maxAge time.Duration) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		os.Remove(filepath.Join(w.dir, e.Name()))
	}
}
