package orchestrator

import (
	"fmt"

	"github.com/cairn-dev/cairn/internal/agentrunner"
	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/diag"
	"github.com/cairn-dev/cairn/internal/diffpreview"
	"github.com/cairn-dev/cairn/internal/lifecycle"
	"github.com/cairn-dev/cairn/internal/statusfeed"
)

// Accept merges a COMPLETED agent's changed files into the stable
// namespace, transitions it to ACCEPTED, and cleans up its namespace,
// workspace and diff preview. Accept is idempotent: a second call against
// an already-ACCEPTED agent returns nil.
func (o *Orchestrator) Accept(agentID string) error {
	mu := o.lc.LockAgent(agentID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := o.lc.Get(agentID)
	if err != nil {
		return err
	}
	if rec.State == lifecycle.StateAccepted {
		return nil
	}
	if rec.State != lifecycle.StateCompleted {
		return cairnerr.Invalid("orchestrator.Accept", fmt.Errorf("agent %q is %s, not COMPLETED", agentID, rec.State))
	}

	ns := agentrunner.AgentNamespace(agentID)
	for _, p := range rec.ChangedFiles {
		data, err := o.ov.ReadFile(ns, p)
		if err != nil {
			if cairnerr.Is(err, cairnerr.KindNotFound) {
				if err := o.ov.DeleteFile(agentrunner.StableNamespace, p); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if err := o.ov.WriteFile(agentrunner.StableNamespace, p, data); err != nil {
			return err
		}
	}

	rec.State = lifecycle.StateAccepted
	if err := o.lc.Update(rec); err != nil {
		return err
	}
	o.feed.Publish(statusfeed.EventFromRecord(*rec))

	o.cleanupAgent(agentID)
	diag.LogKV("orchestrator", "agent accepted", "agent_id", agentID, "files", len(rec.ChangedFiles))
	return nil
}

// Reject transitions an agent to REJECTED without touching stable, leaves
// any in-flight Executor cancelled, and cleans up its resources. Reject is
// permitted against COMPLETED and RUNNING agents, and is idempotent against
// an already-REJECTED one.
func (o *Orchestrator) Reject(agentID string) error {
	mu := o.lc.LockAgent(agentID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := o.lc.Get(agentID)
	if err != nil {
		return err
	}
	if rec.State == lifecycle.StateRejected {
		return nil
	}
	if rec.State != lifecycle.StateCompleted && rec.State != lifecycle.StateRunning {
		return cairnerr.Invalid("orchestrator.Reject", fmt.Errorf("agent %q is %s, cannot reject", agentID, rec.State))
	}

	if rec.State == lifecycle.StateRunning {
		o.mu.Lock()
		h := o.runners[agentID]
		o.mu.Unlock()
		if h != nil {
			h.cancel()
		}
	}

	if rec.Err == "" {
		rec.Err = "rejected by operator"
	}
	rec.State = lifecycle.StateRejected
	if err := o.lc.Update(rec); err != nil {
		return err
	}
	o.feed.Publish(statusfeed.EventFromRecord(*rec))

	o.cleanupAgent(agentID)
	diag.LogKV("orchestrator", "agent rejected", "agent_id", agentID)
	return nil
}

// cleanupAgent destroys an agent's overlay namespace, scratch workspace
// and diff preview. All three are idempotent, so calling this twice for
// the same agent (once from Accept/Reject, once from a racing runner
// shutdown) is safe.
func (o *Orchestrator) cleanupAgent(agentID string) {
	ns := agentrunner.AgentNamespace(agentID)
	if err := o.ov.DestroyNamespace(ns); err != nil {
		diag.LogKV("orchestrator", "destroy namespace failed", "agent_id", agentID, "error", err)
	}
	if err := o.mat.Cleanup(agentID); err != nil {
		diag.LogKV("orchestrator", "cleanup workspace failed", "agent_id", agentID, "error", err)
	}
	if err := diffpreview.Remove(o.cairnHome, agentID); err != nil {
		diag.LogKV("orchestrator", "remove preview failed", "agent_id", agentID, "error", err)
	}
}

// Recover repairs lifecycle records left RUNNING by a process crash. Every
// such record is moved to REJECTED: if its agent namespace still exists the
// error notes it was orphaned by a restart and the namespace is cleaned up;
// otherwise it is rejected directly. The stable namespace is never touched.
// Recover is idempotent: a second call after the first sees no RUNNING
// records left and does nothing.
func (o *Orchestrator) Recover() error {
	recs, err := o.lc.All()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.State != lifecycle.StateRunning {
			continue
		}
		ns := agentrunner.AgentNamespace(rec.AgentID)
		orphaned := o.ov.NamespaceExists(ns)

		rec.State = lifecycle.StateRejected
		if orphaned {
			rec.Err = "orphaned by restart: agent namespace still present"
		} else {
			rec.Err = "orphaned by restart: agent namespace missing"
		}
		if err := o.lc.Update(&rec); err != nil {
			diag.LogKV("orchestrator", "recover: transition failed", "agent_id", rec.AgentID, "error", err)
			continue
		}
		if orphaned {
			o.cleanupAgent(rec.AgentID)
		}
		diag.LogKV("orchestrator", "recovered orphaned RUNNING record", "agent_id", rec.AgentID)
	}
	return nil
}

// Close releases the overlay store and file watcher. Call after Run
// returns.
func (o *Orchestrator) Close() error {
	if err := o.watch.Close(); err != nil {
		diag.Logf("orchestrator", "close watcher: %v", err)
	}
	return o.ov.Close()
}
