package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/cfg"
	"github.com/cairn-dev/cairn/internal/executor"
	"github.com/cairn-dev/cairn/internal/lifecycle"
	"github.com/cairn-dev/cairn/internal/taskqueue"
)

type fakeGenerator struct{ source string }

func (g *fakeGenerator) Generate(ctx context.Context, task string) (string, error) {
	return g.source, nil
}

type scriptedExecutor struct {
	run func(req executor.Request) (executor.Result, error)
}

func (e *scriptedExecutor) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	return e.run(req)
}

func newTestOrchestrator(t *testing.T, exec *scriptedExecutor) *Orchestrator {
	t.Helper()
	root := t.TempDir()
	home := t.TempDir()
	config := cfg.Default()
	config.MaxConcurrent = 2
	config.AdmissionInterval = cfg.Duration(5 * time.Millisecond)
	config.RetentionInterval = cfg.Duration(time.Hour)
	config.SignalPollInterval = cfg.Duration(time.Hour)

	o, err := New(root, home, config, &fakeGenerator{source: "package main"}, exec, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

func runOrchestratorInBackground(t *testing.T, o *Orchestrator) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("orchestrator did not shut down")
		}
	})
	return cancel
}

func waitForState(t *testing.T, o *Orchestrator, agentID string, want lifecycle.State) lifecycle.Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := o.GetLifecycle(agentID)
		if err != nil {
			t.Fatalf("GetLifecycle() error = %v", err)
		}
		if rec.State == want {
			return *rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("agent %q did not reach %s in time", agentID, want)
	return lifecycle.Record{}
}

func TestSpawnRunsToCompletionAndAccepts(t *testing.T) {
	exec := &scriptedExecutor{run: func(req executor.Request) (executor.Result, error) {
		if err := req.Capabilities.WriteFile("out.txt", "hello"); err != nil {
			t.Fatal(err)
		}
		if err := req.Capabilities.SubmitResult("wrote out.txt", []string{"out.txt"}); err != nil {
			t.Fatal(err)
		}
		return executor.Result{Success: true}, nil
	}}
	o := newTestOrchestrator(t, exec)
	runOrchestratorInBackground(t, o)

	id, err := o.Spawn("write a file", taskqueue.Normal)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	waitForState(t, o, id, lifecycle.StateCompleted)

	if err := o.Accept(id); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	got, err := o.GetLifecycle(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != lifecycle.StateAccepted {
		t.Fatalf("State = %s, want ACCEPTED", got.State)
	}

	data, err := o.ov.ReadFile("stable", "out.txt")
	if err != nil {
		t.Fatalf("stable ReadFile() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("stable file = %q, want %q", data, "hello")
	}

	if err := o.Accept(id); err != nil {
		t.Fatalf("second Accept() should be idempotent, got error = %v", err)
	}
}

func TestRejectLeavesStableIntact(t *testing.T) {
	exec := &scriptedExecutor{run: func(req executor.Request) (executor.Result, error) {
		req.Capabilities.WriteFile("out.txt", "should not land")
		req.Capabilities.SubmitResult("did stuff", []string{"out.txt"})
		return executor.Result{Success: true}, nil
	}}
	o := newTestOrchestrator(t, exec)
	runOrchestratorInBackground(t, o)

	id, err := o.Spawn("write a file", taskqueue.Normal)
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, o, id, lifecycle.StateCompleted)

	if err := o.Reject(id); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}

	if _, err := o.ov.ReadFile("stable", "out.txt"); err == nil {
		t.Fatal("stable should not contain the rejected agent's file")
	}

	if err := o.Reject(id); err != nil {
		t.Fatalf("second Reject() should be idempotent, got error = %v", err)
	}
}

func TestRecoverRejectsOrphanedRunningRecords(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedExecutor{run: func(req executor.Request) (executor.Result, error) {
		return executor.Result{Success: true}, nil
	}})

	rec := &lifecycle.Record{AgentID: "agent-orphan", State: lifecycle.StateQueued, Task: "x", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := o.lc.Create(rec); err != nil {
		t.Fatal(err)
	}
	rec.State = lifecycle.StateRunning
	if err := o.lc.Update(rec); err != nil {
		t.Fatal(err)
	}
	if err := o.ov.OpenNamespace("agent-orphan", "stable"); err != nil {
		t.Fatal(err)
	}

	if err := o.Recover(); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	got, err := o.GetLifecycle("agent-orphan")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != lifecycle.StateRejected {
		t.Fatalf("State = %s, want REJECTED", got.State)
	}
	if got.Err == "" {
		t.Error("expected an orphan error message")
	}

	if err := o.Recover(); err != nil {
		t.Fatalf("second Recover() error = %v", err)
	}
}

func TestAcceptPropagatesTombstoneIntoStable(t *testing.T) {
	exec := &scriptedExecutor{run: func(req executor.Request) (executor.Result, error) {
		if err := req.Capabilities.DeleteFile("stale.txt"); err != nil {
			t.Fatal(err)
		}
		if err := req.Capabilities.SubmitResult("removed stale.txt", []string{"stale.txt"}); err != nil {
			t.Fatal(err)
		}
		return executor.Result{Success: true}, nil
	}}
	o := newTestOrchestrator(t, exec)

	if err := o.ov.WriteFile("stable", "stale.txt", []byte("old content")); err != nil {
		t.Fatal(err)
	}

	runOrchestratorInBackground(t, o)

	id, err := o.Spawn("delete stale.txt", taskqueue.Normal)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	waitForState(t, o, id, lifecycle.StateCompleted)

	if err := o.Accept(id); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	if _, err := o.ov.ReadFile("stable", "stale.txt"); err == nil {
		t.Fatal("stable should no longer contain stale.txt after the tombstone was accepted")
	} else if !cairnerr.Is(err, cairnerr.KindNotFound) {
		t.Fatalf("ReadFile() error = %v, want KindNotFound", err)
	}
}

func TestAdmissionRespectsMaxConcurrent(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 8)
	exec := &scriptedExecutor{run: func(req executor.Request) (executor.Result, error) {
		started <- req.AgentID
		<-release
		req.Capabilities.SubmitResult("done", nil)
		return executor.Result{Success: true}, nil
	}}
	o := newTestOrchestrator(t, exec)
	o.config.MaxConcurrent = 1
	runOrchestratorInBackground(t, o)

	id1, _ := o.Spawn("t1", taskqueue.Normal)
	id2, _ := o.Spawn("t2", taskqueue.Normal)
	_ = id2

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first agent never started")
	}

	select {
	case <-started:
		t.Fatal("second agent started while at capacity")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	waitForState(t, o, id1, lifecycle.StateCompleted)
}
