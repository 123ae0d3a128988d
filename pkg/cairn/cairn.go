// Package cairn is the public, embeddable surface of the orchestrator core:
// the types an embedder implements (Generator, Executor, LLMCaller) and the
// constructor that wires them into a running Orchestrator. Everything else
// under internal/ is plumbing cairnd and embedders alike build on top of.
//
// # Capability protocol
//
// An Executor receives a Request whose Capabilities field is a table of
// bound functions, not a dynamic string-dispatched surface: the agent code
// an Executor runs can only do what's listed below, scoped to that agent's
// own overlay namespace.
//
//	ReadFile(path) (string, error)            read a file's effective content
//	WriteFile(path, content) error             write or overwrite a file
//	DeleteFile(path) error                      tombstone a file in this namespace
//	ListDir(path) ([]string, error)            list immediate children of a directory
//	FileExists(path) bool                       check existence without reading
//	SearchFiles(glob) ([]string, error)        doublestar-glob the namespace's files
//	SearchContent(pattern, underPath) (...)    regexp-search file contents
//	AskLLM(prompt, context) (string, error)    delegate to the embedder's model
//	SubmitResult(summary, changedFiles) error  record the run's terminal output
//	Log(message) error                          append to the agent's run log
//
// SubmitResult is mandatory: a run that never calls it is rejected even if
// its Executor reports success, because there is nothing for Accept to
// merge.
//
// # Accept/reject signal protocol
//
// Operators (or a CLI running in a different process than the one driving
// Orchestrator.Run) request an accept or reject by dropping an empty token
// file named "accept-<agentID>" or "reject-<agentID>" into
// "<cairnHome>/signals/". The orchestrator's signal watcher polls that
// directory, removes a token before acting on it, and dispatches exactly
// once. A stale, never-swept token is cleaned up by the retention loop
// without being dispatched.
package cairn

import (
	"context"

	"github.com/cairn-dev/cairn/internal/capability"
	"github.com/cairn-dev/cairn/internal/cfg"
	"github.com/cairn-dev/cairn/internal/executor"
	"github.com/cairn-dev/cairn/internal/generator"
	"github.com/cairn-dev/cairn/internal/lifecycle"
	"github.com/cairn-dev/cairn/internal/orchestrator"
	"github.com/cairn-dev/cairn/internal/taskqueue"
)

// Generator turns a task description into the source an Executor will run.
// An embedder typically implements this by calling out to a language model.
type Generator = generator.Generator

// Executor runs an agent's generated source against its capability table
// and reports whether the run succeeded.
type Executor = executor.Executor

// Request is the input an Executor receives for one agent run.
type Request = executor.Request

// Result is what an Executor reports back for one agent run.
type Result = executor.Result

// LLMCaller backs the ask_llm capability. Pass nil to Open if no agent
// running under this orchestrator needs it.
type LLMCaller = capability.LLMCaller

// Priority orders queued runs; see Low, Normal, High, Urgent.
type Priority = taskqueue.Priority

const (
	Low    = taskqueue.Low
	Normal = taskqueue.Normal
	High   = taskqueue.High
	Urgent = taskqueue.Urgent
)

// State is one position in an agent run's lifecycle.
type State = lifecycle.State

// Record is the persisted state of one agent run, returned by Status and
// List.
type Record = lifecycle.Record

// Config holds the orchestrator's tunables. DefaultConfig returns production
// defaults; LoadConfig/SaveConfig persist a Config as JSON.
type Config = cfg.Config

// DefaultConfig returns Config's production defaults.
func DefaultConfig() Config { return cfg.Default() }

// LoadConfig reads a Config from path, falling back to DefaultConfig() if
// the file does not exist.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// SaveConfig writes cfg to path as indented JSON.
func SaveConfig(path string, c Config) error { return cfg.Save(path, c) }

// Home returns the default cairn home directory: $CAIRN_HOME, or ~/.cairn.
func Home() (string, error) { return cfg.Home() }

// Orchestrator is the top-level handle an embedder holds: spawn runs,
// accept or reject them, and drive the cooperative loops with Run.
type Orchestrator struct {
	inner *orchestrator.Orchestrator
}

// Open assembles an Orchestrator rooted at projectRoot, persisting state
// under cairnHome. gen and exec are required; llm may be nil.
func Open(projectRoot, cairnHome string, config Config, gen Generator, exec Executor, llm LLMCaller) (*Orchestrator, error) {
	o, err := orchestrator.New(projectRoot, cairnHome, config, gen, exec, llm)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{inner: o}, nil
}

// Run starts the orchestrator's cooperative loops and blocks until ctx is
// cancelled or one of them fails.
func (o *Orchestrator) Run(ctx context.Context) error { return o.inner.Run(ctx) }

// Spawn queues a new agent run for task at the given priority.
func (o *Orchestrator) Spawn(task string, priority Priority) (string, error) {
	return o.inner.Spawn(task, priority)
}

// Accept merges a COMPLETED agent's changed files into stable.
func (o *Orchestrator) Accept(agentID string) error { return o.inner.Accept(agentID) }

// Reject discards an agent's changes, cancelling it first if still running.
func (o *Orchestrator) Reject(agentID string) error { return o.inner.Reject(agentID) }

// Status returns the current lifecycle record for agentID.
func (o *Orchestrator) Status(agentID string) (*Record, error) { return o.inner.GetLifecycle(agentID) }

// List returns every tracked lifecycle record.
func (o *Orchestrator) List() ([]Record, error) { return o.inner.ListLifecycles() }

// Recover repairs lifecycle records left RUNNING by a prior crash. Call
// once before Run, typically right after Open.
func (o *Orchestrator) Recover() error { return o.inner.Recover() }

// Close releases the overlay store and file watcher. Call after Run
// returns.
func (o *Orchestrator) Close() error { return o.inner.Close() }
