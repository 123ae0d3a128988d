// Package lifecycle tracks the per-agent lifecycle record: the single
// source of truth for an agent run's state, task text, timestamps and
// terminal result. Records are persisted as JSON blobs in the overlay
// store's "lifecycle" namespace, keyed "agent:<id>".
package lifecycle

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/overlay"
	"github.com/cairn-dev/cairn/internal/taskqueue"
)

// Namespace is the overlay namespace lifecycle records live in.
const Namespace = "lifecycle"

const keyPrefix = "agent:"

// State is one position in the agent lifecycle state machine.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateAccepted  State = "ACCEPTED"
	StateRejected  State = "REJECTED"
)

// validTransitions enumerates the only state changes Update will accept.
var validTransitions = map[State][]State{
	StateQueued:    {StateRunning},
	StateRunning:   {StateCompleted, StateRejected},
	StateCompleted: {StateAccepted, StateRejected},
}

// CanTransition reports whether moving from -> to is a legal lifecycle
// step.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state has no outgoing transitions.
func Terminal(s State) bool {
	return s == StateAccepted || s == StateRejected
}

// Record is the persisted state of one agent run.
type Record struct {
	AgentID      string             `json:"agent_id"`
	State        State              `json:"state"`
	Task         string             `json:"task"`
	Priority     taskqueue.Priority `json:"priority"`
	Source       string             `json:"source,omitempty"`
	Summary      string             `json:"summary,omitempty"`
	ChangedFiles []string           `json:"changed_files,omitempty"`
	Err          string             `json:"error,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Rev          int                `json:"rev"`
}

// Store is a namespace-scoped KV wrapper implementing create/get/update/
// delete/list_by_prefix over agent lifecycle records.
type Store struct {
	ov *overlay.Store

	mu        sync.Mutex
	agentLock map[string]*sync.Mutex
}

// New opens the lifecycle namespace (root, no parent) and returns a Store
// bound to it.
func New(ov *overlay.Store) (*Store, error) {
	if err := ov.OpenNamespace(Namespace, ""); err != nil {
		return nil, cairnerr.IO("lifecycle.New", err)
	}
	return &Store{ov: ov, agentLock: make(map[string]*sync.Mutex)}, nil
}

// LockAgent returns the mutex serializing Get+Update sequences for agentID.
// Update alone is not a compare-and-swap, so a caller that reads a record,
// decides on a new state, and writes it back can race another goroutine
// doing the same for the same agent (for example Reject racing the runner's
// own COMPLETED transition) and silently lose one side's write. Callers that
// need a read-decide-write sequence to be atomic should hold this lock for
// its duration.
func (s *Store) LockAgent(agentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.agentLock[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.agentLock[agentID] = l
	}
	return l
}

func key(agentID string) string { return keyPrefix + agentID }

// Create persists a new record. Fails with KindAlreadyExists if the agent
// ID is already tracked.
func (s *Store) Create(rec *Record) error {
	k := key(rec.AgentID)
	if _, err := s.ov.GetKV(Namespace, k); err == nil {
		return cairnerr.AlreadyExists("lifecycle.Create", fmt.Errorf("agent %q", rec.AgentID))
	} else if !cairnerr.Is(err, cairnerr.KindNotFound) {
		return err
	}

	rec.Rev = 1
	data, err := json.Marshal(rec)
	if err != nil {
		return cairnerr.Invalid("lifecycle.Create", err)
	}
	return s.ov.SetKV(Namespace, k, data)
}

// Get loads the record for agentID.
func (s *Store) Get(agentID string) (*Record, error) {
	data, err := s.ov.GetKV(Namespace, key(agentID))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, cairnerr.IO("lifecycle.Get", err)
	}
	return &rec, nil
}

// Update validates the transition from the currently persisted state to
// rec.State, bumps UpdatedAt/Rev, and writes the record back. Callers that
// only mutate fields without a state change (e.g. recording Source) should
// leave rec.State equal to the current state.
func (s *Store) Update(rec *Record) error {
	current, err := s.Get(rec.AgentID)
	if err != nil {
		return err
	}
	if rec.State != current.State && !CanTransition(current.State, rec.State) {
		return cairnerr.Invalid("lifecycle.Update", fmt.Errorf("illegal transition %s -> %s for agent %q", current.State, rec.State, rec.AgentID))
	}

	rec.UpdatedAt = time.Now()
	rec.Rev = current.Rev + 1
	data, err := json.Marshal(rec)
	if err != nil {
		return cairnerr.Invalid("lifecycle.Update", err)
	}
	return s.ov.SetKV(Namespace, key(rec.AgentID), data)
}

// Delete removes the record for agentID. Idempotent.
func (s *Store) Delete(agentID string) error {
	return s.ov.DeleteKV(Namespace, key(agentID))
}

// ListByPrefix returns every record whose agent ID starts with prefix, in
// lexical key order.
func (s *Store) ListByPrefix(prefix string) ([]Record, error) {
	keys, err := s.ov.ListKV(Namespace, keyPrefix+prefix)
	if err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(keys))
	for _, k := range keys {
		data, err := s.ov.GetKV(Namespace, k)
		if err != nil {
			if cairnerr.Is(err, cairnerr.KindNotFound) {
				continue
			}
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, cairnerr.IO("lifecycle.ListByPrefix", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// All returns every tracked lifecycle record.
func (s *Store) All() ([]Record, error) {
	return s.ListByPrefix("")
}

// IsAgentID reports whether a string has the "agent-" shape minted by
// Orchestrator.Spawn.
func IsAgentID(s string) bool {
	return strings.HasPrefix(s, "agent-") && len(s) > len("agent-")
}
