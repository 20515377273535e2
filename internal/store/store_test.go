package store

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestGraphHashOrderIndependent(t *testing.T) {
	a := []Dependency{{Name: "b", Version: "1.0.0", GraphHash: "sha256-b"}, {Name: "a", Version: "2.0.0", GraphHash: "sha256-a"}}
	b := []Dependency{{Name: "a", Version: "2.0.0", GraphHash: "sha256-a"}, {Name: "b", Version: "1.0.0", GraphHash: "sha256-b"}}

	if GraphHash(a) != GraphHash(b) {
		t.Fatal("expected graph hash to be independent of dependency slice order")
	}
}

func TestGraphHashChangesWithDependencyVersion(t *testing.T) {
	a := []Dependency{{Name: "a", Version: "1.0.0", GraphHash: "sha256-a"}}
	b := []Dependency{{Name: "a", Version: "1.0.1", GraphHash: "sha256-a"}}

	if GraphHash(a) == GraphHash(b) {
		t.Fatal("expected graph hash to change when a dependency version changes")
	}
}

func TestStoreKeyRoundTrip(t *testing.T) {
	key := StoreKey("@scope/pkg", "1.2.3", "sha256-deadbeef")
	name, version, graphHash, err := ParseStoreKey(key)
	if err != nil {
		t.Fatalf("ParseStoreKey: %v", err)
	}
	if name != "@scope/pkg" || version != "1.2.3" || graphHash != "sha256-deadbeef" {
		t.Fatalf("ParseStoreKey(%q) = %q, %q, %q", key, name, version, graphHash)
	}
}

func TestEnsureCreatesEntryAndIsConvergent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	src := writeSource(t, map[string]string{
		"package.json": `{"name":"leftpad","version":"1.0.0"}`,
		"index.js":     "module.exports = function() {};\n",
	})

	in := EnsureInput{
		Name:      "leftpad",
		Version:   "1.0.0",
		SourceDir: src,
		Integrity: "sha512-abc",
	}

	entry, err := s.Ensure(in)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if entry.ContentHash == "" {
		t.Fatal("expected non-empty content hash")
	}
	if entry.StoreKey != StoreKey("leftpad", "1.0.0", GraphHash(nil)) {
		t.Fatalf("unexpected store key: %s", entry.StoreKey)
	}

	again, err := s.Ensure(in)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if again.ContentHash != entry.ContentHash {
		t.Fatal("expected convergent Ensure to return identical content hash")
	}

	loaded, ok, err := s.Load(entry.StoreKey)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected Load to find the entry")
	}
	if loaded.Name != "leftpad" {
		t.Fatalf("loaded entry name = %q", loaded.Name)
	}
}

func TestLoadMissingEntry(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, ok, err := s.Load(StoreKey("missing", "1.0.0", "sha256-nope"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing entry")
	}
}
