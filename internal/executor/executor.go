// Package executor defines the boundary between the orchestrator core and
// whatever sandbox actually runs generated agent code. The core never
// executes untrusted code itself; it hands a Request to an Executor
// supplied by the embedder and waits for a Result.
package executor

import (
	"context"
	"time"

	"github.com/cairn-dev/cairn/internal/capability"
)

// Request is everything an Executor needs to run one agent's generated
// source against its own capability table.
type Request struct {
	AgentID      string
	Source       string
	Capabilities *capability.Table
	WorkspaceDir string
	Deadline     time.Duration
	MemoryLimit  int64
	MaxStackKB   int
}

// Result is the outcome of one execution attempt. Success alone does not
// mean the agent produced a valid submission: the runner still validates
// that submit_result was called before reaching COMPLETED.
type Result struct {
	Success bool
	Error   string
}

// Executor runs a single agent's generated source. Implementations are
// responsible for resource limits, sandboxing, and translating internal
// panics into a failed Result rather than propagating them.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}
