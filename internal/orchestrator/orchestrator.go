// Package orchestrator wires the overlay store, lifecycle store, task
// queue, file watcher, workspace materialiser and signal watcher into the
// single cooperative system described by the orchestrator core: a handful
// of goroutines supervised by an errgroup, each either driving agents
// through their lifecycle or reacting to filesystem events.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cairn-dev/cairn/internal/agentrunner"
	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/capability"
	"github.com/cairn-dev/cairn/internal/cfg"
	"github.com/cairn-dev/cairn/internal/diag"
	"github.com/cairn-dev/cairn/internal/diffpreview"
	"github.com/cairn-dev/cairn/internal/executor"
	"github.com/cairn-dev/cairn/internal/generator"
	"github.com/cairn-dev/cairn/internal/lifecycle"
	"github.com/cairn-dev/cairn/internal/materializer"
	"github.com/cairn-dev/cairn/internal/overlay"
	"github.com/cairn-dev/cairn/internal/signalwatcher"
	"github.com/cairn-dev/cairn/internal/statusfeed"
	"github.com/cairn-dev/cairn/internal/taskqueue"
	"github.com/cairn-dev/cairn/internal/watcher"
)

// runHandle tracks one in-flight agent goroutine so Reject can cancel it.
type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator is the top-level owner of every cairn component for one
// project root.
type Orchestrator struct {
	ov    *overlay.Store
	lc    *lifecycle.Store
	mat   *materializer.Materializer
	watch *watcher.Watcher
	sig   *signalwatcher.Watcher
	feed  *statusfeed.Feed

	cairnHome string
	config    cfg.Config

	gen  generator.Generator
	exec executor.Executor
	llm  capability.LLMCaller

	mu      sync.Mutex
	runners map[string]*runHandle
}

// New assembles an Orchestrator. projectRoot is the directory being
// watched and materialised into; the overlay store lives at
// projectRoot/.agentfs/overlay.db. cairnHome holds the remaining persisted
// state (workspaces/, signals/, previews/, debug/).
func New(projectRoot, cairnHome string, config cfg.Config, gen generator.Generator, exec executor.Executor, llm capability.LLMCaller) (*Orchestrator, error) {
	storeDir := filepath.Join(projectRoot, ".agentfs")
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return nil, cairnerr.IO("orchestrator.New", err)
	}
	ov, err := overlay.Open(filepath.Join(storeDir, "overlay.db"))
	if err != nil {
		return nil, err
	}
	if err := ov.OpenNamespace(agentrunner.StableNamespace, ""); err != nil {
		ov.Close()
		return nil, err
	}

	lc, err := lifecycle.New(ov)
	if err != nil {
		ov.Close()
		return nil, err
	}

	mat := materializer.New(ov, cairnHome)

	w, err := watcher.New(projectRoot, agentrunner.StableNamespace, ov, config.IgnorePatterns)
	if err != nil {
		ov.Close()
		return nil, err
	}
	if err := w.Sync(); err != nil {
		ov.Close()
		return nil, err
	}

	o := &Orchestrator{
		ov:        ov,
		lc:        lc,
		mat:       mat,
		watch:     w,
		feed:      statusfeed.New(),
		cairnHome: cairnHome,
		config:    config,
		gen:       gen,
		exec:      exec,
		llm:       llm,
		runners:   make(map[string]*runHandle),
	}

	sig, err := signalwatcher.New(cairnHome+"/signals", o, time.Duration(config.SignalPollInterval))
	if err != nil {
		ov.Close()
		return nil, err
	}
	o.sig = sig

	return o, nil
}

// StatusFeed exposes the websocket NDJSON feed for the CLI's serve
// command.
func (o *Orchestrator) StatusFeed() *statusfeed.Feed { return o.feed }

// Spawn records a new QUEUED agent run for task at the given priority and
// returns its freshly minted agent ID. Spawn only persists the lifecycle
// record; admission into a running agent happens on whichever process's
// admission loop next scans for QUEUED records, which may be this process
// or another cairn invocation sharing the same cairn home.
func (o *Orchestrator) Spawn(task string, priority taskqueue.Priority) (string, error) {
	if task == "" {
		return "", cairnerr.Invalid("orchestrator.Spawn", fmt.Errorf("task must not be empty"))
	}
	id := "agent-" + uuid.NewString()
	now := time.Now()
	rec := &lifecycle.Record{
		AgentID:   id,
		State:     lifecycle.StateQueued,
		Task:      task,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.lc.Create(rec); err != nil {
		return "", err
	}
	o.feed.Publish(statusfeed.EventFromRecord(*rec))
	diag.LogKV("orchestrator", "agent spawned", "agent_id", id, "priority", priority)
	return id, nil
}

// GetLifecycle returns the current lifecycle record for agentID.
func (o *Orchestrator) GetLifecycle(agentID string) (*lifecycle.Record, error) {
	return o.lc.Get(agentID)
}

// ListLifecycles returns every tracked lifecycle record.
func (o *Orchestrator) ListLifecycles() ([]lifecycle.Record, error) {
	return o.lc.All()
}

// Run starts the four cooperative loops (file watcher, signal watcher,
// admission loop, retention loop) and blocks until ctx is cancelled or one
// of them reports a fatal error.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.watch.Run(ctx) })
	g.Go(func() error { return o.sig.Run(ctx) })
	g.Go(func() error { return o.admissionLoop(ctx) })
	g.Go(func() error { return o.retentionLoop(ctx) })

	err := g.Wait()
	o.waitForRunners(5 * time.Second)
	return err
}

// waitForRunners gives in-flight agent goroutines up to timeout to unwind
// after shutdown begins.
func (o *Orchestrator) waitForRunners(timeout time.Duration) {
	o.mu.Lock()
	handles := make([]*runHandle, 0, len(o.runners))
	for _, h := range o.runners {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	deadline := time.After(timeout)
	for _, h := range handles {
		select {
		case <-h.done:
		case <-deadline:
			return
		}
	}
}

func (o *Orchestrator) admissionLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(o.config.AdmissionInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.runAdmissionPass(ctx)
		}
	}
}

// runAdmissionPass derives the set of admittable tasks from persisted
// QUEUED lifecycle records rather than an in-memory-only queue: a task
// spawned from a separate short-lived "cairn spawn" invocation has no
// in-process queue entry of its own, only the record it wrote to the
// shared overlay store. Admission capacity is gated on len(o.runners),
// which is authoritative for how many agents this process currently has
// in flight regardless of how quickly their lifecycle records catch up.
func (o *Orchestrator) runAdmissionPass(ctx context.Context) {
	o.mu.Lock()
	capacity := o.config.MaxConcurrent - len(o.runners)
	o.mu.Unlock()
	if capacity <= 0 {
		return
	}

	recs, err := o.lc.All()
	if err != nil {
		diag.Logf("orchestrator", "admission: list records: %v", err)
		return
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })

	q := taskqueue.New(len(recs) + 1)
	for _, rec := range recs {
		if rec.State != lifecycle.StateQueued {
			continue
		}
		o.mu.Lock()
		_, inFlight := o.runners[rec.AgentID]
		o.mu.Unlock()
		if inFlight {
			continue
		}
		q.Enqueue(rec.AgentID, rec.Task, rec.Priority)
	}

	for i := 0; i < capacity; i++ {
		t, ok := q.TryDequeue()
		if !ok {
			return
		}
		o.spawnRunner(ctx, t)
	}
}

func (o *Orchestrator) spawnRunner(parent context.Context, t *taskqueue.Task) {
	runCtx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	h := &runHandle{cancel: cancel, done: done}

	o.mu.Lock()
	o.runners[t.AgentID] = h
	o.mu.Unlock()

	runner := agentrunner.New(o.ov, o.lc, agentrunner.Config{
		Generator:    o.gen,
		Executor:     o.exec,
		LLM:          o.llm,
		Materializer: o.mat,
		CairnHome:    o.cairnHome,
		RunDeadline:  time.Duration(o.config.RunDeadline),
		ExecDeadline: time.Duration(o.config.ExecDeadline),
		MemoryLimit:  o.config.MemoryLimitBytes,
		MaxStackKB:   o.config.MaxStackKB,
	})

	go func() {
		defer close(done)
		defer cancel()
		defer func() {
			o.mu.Lock()
			delete(o.runners, t.AgentID)
			o.mu.Unlock()
		}()

		runner.Run(runCtx, t.AgentID, t.Text)

		if rec, err := o.lc.Get(t.AgentID); err == nil {
			o.feed.Publish(statusfeed.EventFromRecord(*rec))
		}
	}()
}

func (o *Orchestrator) retentionLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(o.config.RetentionInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.runRetentionPass()
		}
	}
}

func (o *Orchestrator) runRetentionPass() {
	recs, err := o.lc.All()
	if err != nil {
		diag.Logf("orchestrator", "retention: list records: %v", err)
		return
	}
	cutoff := time.Duration(o.config.RetentionAge)
	now := time.Now()
	for _, rec := range recs {
		if !lifecycle.Terminal(rec.State) {
			continue
		}
		if now.Sub(rec.UpdatedAt) < cutoff {
			continue
		}
		if err := o.lc.Delete(rec.AgentID); err != nil {
			diag.LogKV("orchestrator", "retention: delete record failed", "agent_id", rec.AgentID, "error", err)
			continue
		}
		if err := o.ov.DestroyNamespace(agentrunner.AgentNamespace(rec.AgentID)); err != nil {
			diag.LogKV("orchestrator", "retention: destroy namespace failed", "agent_id", rec.AgentID, "error", err)
		}
		if err := o.mat.Cleanup(rec.AgentID); err != nil {
			diag.LogKV("orchestrator", "retention: cleanup workspace failed", "agent_id", rec.AgentID, "error", err)
		}
		if err := diffpreview.Remove(o.cairnHome, rec.AgentID); err != nil {
			diag.LogKV("orchestrator", "retention: remove preview failed", "agent_id", rec.AgentID, "error", err)
		}
		diag.LogKV("orchestrator", "retention: record reaped", "agent_id", rec.AgentID)
	}
	o.sig.SweepStale(5 * time.Minute)
}
