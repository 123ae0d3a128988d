// Package agentrunner drives one agent through its full lifecycle:
// QUEUED -> RUNNING -> COMPLETED|REJECTED. It is spawned as a goroutine by
// the orchestrator for every task admitted off the task queue, and it never
// lets a panic escape back to its caller.
package agentrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/cairn-dev/cairn/internal/capability"
	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/diag"
	"github.com/cairn-dev/cairn/internal/diffpreview"
	"github.com/cairn-dev/cairn/internal/executor"
	"github.com/cairn-dev/cairn/internal/generator"
	"github.com/cairn-dev/cairn/internal/lifecycle"
	"github.com/cairn-dev/cairn/internal/materializer"
	"github.com/cairn-dev/cairn/internal/overlay"
)

// StableNamespace is the root namespace every agent namespace branches
// from.
const StableNamespace = "stable"

// Config bundles the resource limits and collaborators a Runner needs. All
// durations default to a sane production value when zero.
type Config struct {
	Generator    generator.Generator
	Executor     executor.Executor
	LLM          capability.LLMCaller
	Materializer *materializer.Materializer
	CairnHome    string
	RunDeadline  time.Duration // whole-run ceiling (generate + execute)
	ExecDeadline time.Duration // Executor.Execute ceiling
	MemoryLimit  int64
	MaxStackKB   int
}

func (c Config) withDefaults() Config {
	if c.RunDeadline <= 0 {
		c.RunDeadline = 10 * time.Minute
	}
	if c.ExecDeadline <= 0 {
		c.ExecDeadline = 60 * time.Second
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 512 << 20
	}
	if c.MaxStackKB <= 0 {
		c.MaxStackKB = 8192
	}
	return c
}

// Runner executes one agent run to completion.
type Runner struct {
	ov  *overlay.Store
	lc  *lifecycle.Store
	cfg Config
}

// New returns a Runner bound to the given stores and collaborators.
func New(ov *overlay.Store, lc *lifecycle.Store, cfg Config) *Runner {
	return &Runner{ov: ov, lc: lc, cfg: cfg.withDefaults()}
}

// AgentNamespace returns the overlay namespace name for agentID.
func AgentNamespace(agentID string) string {
	return agentID
}

// Run executes agentID's task end to end. It never panics: any recovered
// panic is turned into a REJECTED transition. ctx is the per-run
// cancellation context the orchestrator retains so Reject can cancel a
// RUNNING agent.
func (r *Runner) Run(ctx context.Context, agentID, task string) {
	defer func() {
		if p := recover(); p != nil {
			diag.LogKV("agentrunner", "recovered panic", "agent_id", agentID, "panic", fmt.Sprint(p))
			r.terminalTransition(agentID, lifecycle.StateRejected, fmt.Sprintf("internal panic: %v", p))
		}
	}()

	mu := r.lc.LockAgent(agentID)
	mu.Lock()
	rec, err := r.lc.Get(agentID)
	if err != nil {
		mu.Unlock()
		diag.LogKV("agentrunner", "lifecycle record missing at start", "agent_id", agentID, "error", err)
		return
	}
	if rec.State != lifecycle.StateQueued {
		mu.Unlock()
		return
	}

	rec.State = lifecycle.StateRunning
	err = r.lc.Update(rec)
	mu.Unlock()
	if err != nil {
		diag.LogKV("agentrunner", "transition to RUNNING failed", "agent_id", agentID, "error", err)
		return
	}

	ns := AgentNamespace(agentID)
	if err := r.ov.OpenNamespace(ns, StableNamespace); err != nil {
		r.terminalTransition(agentID, lifecycle.StateRejected, fmt.Sprintf("open namespace: %v", err))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunDeadline)
	defer cancel()

	source, err := r.cfg.Generator.Generate(runCtx, task)
	if err != nil {
		r.terminalTransition(agentID, lifecycle.StateRejected, fmt.Sprintf("generation failed: %v", err))
		return
	}

	rec.Source = source
	if err := r.lc.Update(rec); err != nil {
		diag.LogKV("agentrunner", "recording source failed", "agent_id", agentID, "error", err)
	}

	table := capability.Build(r.ov, ns, r.cfg.LLM)

	var workspaceDir string
	if r.cfg.Materializer != nil {
		dir, err := r.cfg.Materializer.Materialize(agentID, ns)
		if err != nil {
			r.terminalTransition(agentID, lifecycle.StateRejected, fmt.Sprintf("materialize workspace: %v", err))
			return
		}
		workspaceDir = dir
	}

	execCtx, execCancel := context.WithTimeout(runCtx, r.cfg.ExecDeadline)
	defer execCancel()

	result, err := r.cfg.Executor.Execute(execCtx, executor.Request{
		AgentID:      agentID,
		Source:       source,
		Capabilities: table,
		WorkspaceDir: workspaceDir,
		Deadline:     r.cfg.ExecDeadline,
		MemoryLimit:  r.cfg.MemoryLimit,
		MaxStackKB:   r.cfg.MaxStackKB,
	})
	if err != nil {
		r.terminalTransition(agentID, lifecycle.StateRejected, fmt.Sprintf("execution error: %v", err))
		return
	}
	if !result.Success {
		r.terminalTransition(agentID, lifecycle.StateRejected, result.Error)
		return
	}

	sub, err := capability.ReadSubmission(r.ov, ns)
	if err != nil {
		r.terminalTransition(agentID, lifecycle.StateRejected, fmt.Sprintf("no valid submission: %v", err))
		return
	}

	mu = r.lc.LockAgent(agentID)
	mu.Lock()
	rec, err = r.lc.Get(agentID)
	if err != nil {
		mu.Unlock()
		diag.LogKV("agentrunner", "lifecycle record missing before completion", "agent_id", agentID, "error", err)
		return
	}
	if rec.State != lifecycle.StateRunning {
		// Already terminated out from under us (e.g. Reject while RUNNING).
		mu.Unlock()
		return
	}
	rec.State = lifecycle.StateCompleted
	rec.Summary = sub.Summary
	rec.ChangedFiles = sub.ChangedFiles
	err = r.lc.Update(rec)
	mu.Unlock()
	if err != nil {
		diag.LogKV("agentrunner", "transition to COMPLETED failed", "agent_id", agentID, "error", err)
		return
	}

	if diffText, err := diffpreview.Compute(r.ov, StableNamespace, ns, agentID); err == nil {
		if err := diffpreview.Write(r.cfg.CairnHome, agentID, diffText); err != nil {
			diag.LogKV("agentrunner", "write diff preview failed", "agent_id", agentID, "error", err)
		}
	} else {
		diag.LogKV("agentrunner", "compute diff preview failed", "agent_id", agentID, "error", err)
	}
}

// terminalTransition moves agentID straight to a terminal state, recording
// errMsg. It is a no-op if the record has already left RUNNING (for example
// because Reject already ran concurrently), which keeps cancellation races
// idempotent.
func (r *Runner) terminalTransition(agentID string, state lifecycle.State, errMsg string) {
	mu := r.lc.LockAgent(agentID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := r.lc.Get(agentID)
	if err != nil {
		if !cairnerr.Is(err, cairnerr.KindNotFound) {
			diag.LogKV("agentrunner", "lifecycle lookup failed during terminal transition", "agent_id", agentID, "error", err)
		}
		return
	}
	if rec.State != lifecycle.StateRunning {
		return
	}
	rec.State = state
	rec.Err = errMsg
	if err := r.lc.Update(rec); err != nil {
		diag.LogKV("agentrunner", "terminal transition failed", "agent_id", agentID, "error", err)
	}
}
