package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := AtomicWrite(path, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(blob) != `{"a":1}` {
		t.Fatalf("content = %q", blob)
	}
	// Overwrite keeps the directory clean of temp files.
	if err := AtomicWrite(path, []byte(`{"a":2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()
	good, err := SafeJoin(base, "scripts/run.sh")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(filepath.Dir(good)) != filepath.Clean(base) {
		t.Fatalf("unexpected join result: %s", good)
	}
	for _, rel := range []string{"../escape", "..", "/absolute", "a/../../b"} {
		if _, err := SafeJoin(base, rel); err == nil {
			t.Errorf("SafeJoin accepted %q", rel)
		}
	}
}

func TestSafeJoinDotIsBase(t *testing.T) {
	base := t.TempDir()
	got, err := SafeJoin(base, ".")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Clean(base) {
		t.Fatalf("SafeJoin(base, \".\") = %q", got)
	}
}
