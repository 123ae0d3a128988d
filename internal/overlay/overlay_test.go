package overlay

import (
	"path/filepath"
	"testing"

	"github.com/cairn-dev/cairn/internal/cairnerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "overlay.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteReadFile(t *testing.T) {
	s := newTestStore(t)
	if err := s.OpenNamespace("stable", ""); err != nil {
		t.Fatalf("OpenNamespace() error = %v", err)
	}
	if err := s.WriteFile("stable", "a/b.txt", []byte("hello")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := s.ReadFile("stable", "a/b.txt")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestReadFileFallsThroughToParent(t *testing.T) {
	s := newTestStore(t)
	if err := s.OpenNamespace("stable", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("stable", "shared.txt", []byte("from stable")); err != nil {
		t.Fatal(err)
	}
	if err := s.OpenNamespace("agent-1", "stable"); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadFile("agent-1", "shared.txt")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "from stable" {
		t.Errorf("got %q, want %q", got, "from stable")
	}
}

func TestDeleteFileTombstonesInChildNamespace(t *testing.T) {
	s := newTestStore(t)
	if err := s.OpenNamespace("stable", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("stable", "a.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.OpenNamespace("agent-1", "stable"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFile("agent-1", "a.txt"); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}

	if _, err := s.ReadFile("agent-1", "a.txt"); !isNotFound(err) {
		t.Fatalf("ReadFile(agent-1) error = %v, want not-found", err)
	}
	got, err := s.ReadFile("stable", "a.txt")
	if err != nil {
		t.Fatalf("ReadFile(stable) error = %v", err)
	}
	if string(got) != "x" {
		t.Errorf("stable view mutated: got %q", got)
	}
}

func TestWriteFileClearsTombstone(t *testing.T) {
	s := newTestStore(t)
	if err := s.OpenNamespace("stable", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("stable", "a.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.OpenNamespace("agent-1", "stable"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFile("agent-1", "a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("agent-1", "a.txt", []byte("y")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := s.ReadFile("agent-1", "a.txt")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "y" {
		t.Errorf("got %q, want %q", got, "y")
	}
}

func TestListDirUnionsAcrossNamespaces(t *testing.T) {
	s := newTestStore(t)
	if err := s.OpenNamespace("stable", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("stable", "src/a.go", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("stable", "src/b.go", []byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := s.OpenNamespace("agent-1", "stable"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("agent-1", "src/c.go", []byte("c")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFile("agent-1", "src/b.go"); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListDir("agent-1", "src")
	if err != nil {
		t.Fatalf("ListDir() error = %v", err)
	}
	want := []string{"a.go", "c.go"}
	if len(got) != len(want) {
		t.Fatalf("ListDir() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListDir()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWalkEffectiveFilesExcludesTombstones(t *testing.T) {
	s := newTestStore(t)
	if err := s.OpenNamespace("stable", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("stable", "keep.txt", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("stable", "gone.txt", []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := s.OpenNamespace("agent-1", "stable"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFile("agent-1", "gone.txt"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("agent-1", "new.txt", []byte("3")); err != nil {
		t.Fatal(err)
	}

	got, err := s.WalkEffectiveFiles("agent-1")
	if err != nil {
		t.Fatalf("WalkEffectiveFiles() error = %v", err)
	}
	want := map[string]bool{"keep.txt": true, "new.txt": true}
	if len(got) != len(want) {
		t.Fatalf("WalkEffectiveFiles() = %v, want keys %v", got, want)
	}
	for _, p := range got {
		if !want[p] {
			t.Errorf("unexpected path %q in effective view", p)
		}
	}
}

func TestDestroyNamespaceIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.OpenNamespace("agent-1", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("agent-1", "a.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.DestroyNamespace("agent-1"); err != nil {
		t.Fatalf("DestroyNamespace() error = %v", err)
	}
	if err := s.DestroyNamespace("agent-1"); err != nil {
		t.Fatalf("second DestroyNamespace() error = %v", err)
	}
	if s.NamespaceExists("agent-1") {
		t.Error("namespace still reported as existing after destroy")
	}
}

func TestKVRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.OpenNamespace("lifecycle", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.SetKV("lifecycle", "agent:agent-1", []byte(`{"state":"QUEUED"}`)); err != nil {
		t.Fatalf("SetKV() error = %v", err)
	}
	got, err := s.GetKV("lifecycle", "agent:agent-1")
	if err != nil {
		t.Fatalf("GetKV() error = %v", err)
	}
	if string(got) != `{"state":"QUEUED"}` {
		t.Errorf("got %q", got)
	}

	keys, err := s.ListKV("lifecycle", "agent:")
	if err != nil {
		t.Fatalf("ListKV() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "agent:agent-1" {
		t.Errorf("ListKV() = %v", keys)
	}

	if err := s.DeleteKV("lifecycle", "agent:agent-1"); err != nil {
		t.Fatalf("DeleteKV() error = %v", err)
	}
	if _, err := s.GetKV("lifecycle", "agent:agent-1"); !isNotFound(err) {
		t.Fatalf("GetKV() after delete error = %v, want not-found", err)
	}
}

func isNotFound(err error) bool {
	return cairnerr.Is(err, cairnerr.KindNotFound)
}
