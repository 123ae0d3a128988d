package lifecycle

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/overlay"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ov, err := overlay.Open(filepath.Join(t.TempDir(), "overlay.db"))
	if err != nil {
		t.Fatalf("overlay.Open() error = %v", err)
	}
	t.Cleanup(func() { ov.Close() })
	s, err := New(ov)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestCreateGet(t *testing.T) {
	s := newTestStore(t)
	rec := &Record{AgentID: "agent-1", State: StateQueued, Task: "do x", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.Create(rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err := s.Get("agent-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != StateQueued || got.Task != "do x" {
		t.Errorf("Get() = %+v", got)
	}
	if got.Rev != 1 {
		t.Errorf("Rev = %d, want 1", got.Rev)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	rec := &Record{AgentID: "agent-1", State: StateQueued, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.Create(rec); err != nil {
		t.Fatal(err)
	}
	err := s.Create(rec)
	if !cairnerr.Is(err, cairnerr.KindAlreadyExists) {
		t.Fatalf("Create() duplicate error = %v, want already-exists", err)
	}
}

func TestUpdateEnforcesTransitions(t *testing.T) {
	s := newTestStore(t)
	rec := &Record{AgentID: "agent-1", State: StateQueued, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.Create(rec); err != nil {
		t.Fatal(err)
	}

	rec.State = StateCompleted
	if err := s.Update(rec); !cairnerr.Is(err, cairnerr.KindInvalid) {
		t.Fatalf("Update() illegal transition error = %v, want invalid", err)
	}

	rec.State = StateRunning
	if err := s.Update(rec); err != nil {
		t.Fatalf("Update() QUEUED->RUNNING error = %v", err)
	}
	got, err := s.Get("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateRunning || got.Rev != 2 {
		t.Errorf("Get() = %+v", got)
	}
}

func TestListByPrefixAndDelete(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"agent-1", "agent-2"} {
		rec := &Record{AgentID: id, State: StateQueued, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if err := s.Create(rec); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("All() = %d records, want 2", len(all))
	}

	if err := s.Delete("agent-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get("agent-1"); !cairnerr.Is(err, cairnerr.KindNotFound) {
		t.Fatalf("Get() after delete error = %v, want not-found", err)
	}
}

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateQueued, StateRunning, true},
		{StateQueued, StateCompleted, false},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateRejected, true},
		{StateRunning, StateAccepted, false},
		{StateCompleted, StateAccepted, true},
		{StateCompleted, StateRejected, true},
		{StateAccepted, StateRejected, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
