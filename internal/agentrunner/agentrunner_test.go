package agentrunner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cairn-dev/cairn/internal/executor"
	"github.com/cairn-dev/cairn/internal/lifecycle"
	"github.com/cairn-dev/cairn/internal/overlay"
)

type fakeGenerator struct {
	source string
	err    error
}

func (g *fakeGenerator) Generate(ctx context.Context, task string) (string, error) {
	return g.source, g.err
}

type fakeExecutor struct {
	run func(req executor.Request) (executor.Result, error)
}

func (e *fakeExecutor) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	return e.run(req)
}

func newTestRunner(t *testing.T, gen *fakeGenerator, exec *fakeExecutor) (*Runner, *overlay.Store, *lifecycle.Store) {
	t.Helper()
	ov, err := overlay.Open(filepath.Join(t.TempDir(), "overlay.db"))
	if err != nil {
		t.Fatalf("overlay.Open() error = %v", err)
	}
	t.Cleanup(func() { ov.Close() })
	if err := ov.OpenNamespace(StableNamespace, ""); err != nil {
		t.Fatal(err)
	}
	lc, err := lifecycle.New(ov)
	if err != nil {
		t.Fatal(err)
	}
	r := New(ov, lc, Config{
		Generator: gen,
		Executor:  exec,
		CairnHome: t.TempDir(),
	})
	return r, ov, lc
}

func TestRunSuccessReachesCompleted(t *testing.T) {
	gen := &fakeGenerator{source: "package main"}
	exec := &fakeExecutor{run: func(req executor.Request) (executor.Result, error) {
		if err := req.Capabilities.SubmitResult("did it", []string{"a.go"}); err != nil {
			t.Fatal(err)
		}
		return executor.Result{Success: true}, nil
	}}
	r, _, lc := newTestRunner(t, gen, exec)

	rec := &lifecycle.Record{AgentID: "agent-1", State: lifecycle.StateQueued, Task: "x", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := lc.Create(rec); err != nil {
		t.Fatal(err)
	}

	r.Run(context.Background(), "agent-1", "x")

	got, err := lc.Get("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != lifecycle.StateCompleted {
		t.Fatalf("State = %s, want COMPLETED", got.State)
	}
	if got.Summary != "did it" {
		t.Errorf("Summary = %q", got.Summary)
	}
}

func TestRunGenerationFailureRejects(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	exec := &fakeExecutor{run: func(req executor.Request) (executor.Result, error) {
		t.Fatal("executor should not run when generation fails")
		return executor.Result{}, nil
	}}
	r, _, lc := newTestRunner(t, gen, exec)

	rec := &lifecycle.Record{AgentID: "agent-1", State: lifecycle.StateQueued, Task: "x", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := lc.Create(rec); err != nil {
		t.Fatal(err)
	}

	r.Run(context.Background(), "agent-1", "x")

	got, err := lc.Get("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != lifecycle.StateRejected {
		t.Fatalf("State = %s, want REJECTED", got.State)
	}
}

func TestRunWithoutSubmissionRejects(t *testing.T) {
	gen := &fakeGenerator{source: "package main"}
	exec := &fakeExecutor{run: func(req executor.Request) (executor.Result, error) {
		return executor.Result{Success: true}, nil
	}}
	r, _, lc := newTestRunner(t, gen, exec)

	rec := &lifecycle.Record{AgentID: "agent-1", State: lifecycle.StateQueued, Task: "x", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := lc.Create(rec); err != nil {
		t.Fatal(err)
	}

	r.Run(context.Background(), "agent-1", "x")

	got, err := lc.Get("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != lifecycle.StateRejected {
		t.Fatalf("State = %s, want REJECTED", got.State)
	}
}

func TestRunPanicInExecutorIsRecovered(t *testing.T) {
	gen := &fakeGenerator{source: "package main"}
	exec := &fakeExecutor{run: func(req executor.Request) (executor.Result, error) {
		panic("executor exploded")
	}}
	r, _, lc := newTestRunner(t, gen, exec)

	rec := &lifecycle.Record{AgentID: "agent-1", State: lifecycle.StateQueued, Task: "x", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := lc.Create(rec); err != nil {
		t.Fatal(err)
	}

	r.Run(context.Background(), "agent-1", "x")

	got, err := lc.Get("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != lifecycle.StateRejected {
		t.Fatalf("State = %s, want REJECTED", got.State)
	}
}

func TestRunIgnoresNonQueuedAgent(t *testing.T) {
	gen := &fakeGenerator{source: "x"}
	exec := &fakeExecutor{run: func(req executor.Request) (executor.Result, error) {
		t.Fatal("executor should not run for an already-terminal agent")
		return executor.Result{}, nil
	}}
	r, _, lc := newTestRunner(t, gen, exec)

	rec := &lifecycle.Record{AgentID: "agent-1", State: lifecycle.StateQueued, Task: "x", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := lc.Create(rec); err != nil {
		t.Fatal(err)
	}
	rec.State = lifecycle.StateRunning
	if err := lc.Update(rec); err != nil {
		t.Fatal(err)
	}
	rec.State = lifecycle.StateRejected
	if err := lc.Update(rec); err != nil {
		t.Fatal(err)
	}

	r.Run(context.Background(), "agent-1", "x")

	got, err := lc.Get("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != lifecycle.StateRejected {
		t.Fatalf("State = %s, want still REJECTED", got.State)
	}
}

