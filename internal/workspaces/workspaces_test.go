package workspaces

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pacmpkg/pacm/internal/pkgerr"
)

func writePackage(t *testing.T, root, dir, name, version string) {
	t.Helper()
	full := filepath.Join(root, dir)
	if err := os.MkdirAll(full, 0755); err != nil {
		t.Fatal(err)
	}
	content := `{"name":"` + name + `","version":"` + version + `"}`
	if err := os.WriteFile(filepath.Join(full, "package.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverAndResolve(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "packages/a", "@scope/a", "1.2.0")
	writePackage(t, root, "packages/b", "@scope/b", "0.5.0")

	set, err := Discover(root, []string{"packages/*"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 workspace packages, got %d", set.Len())
	}

	pkg, err := set.Resolve("@scope/a", "^1.0.0")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if pkg.Version != "1.2.0" {
		t.Fatalf("Resolve version = %q", pkg.Version)
	}
}

func TestResolveRejectsUnsatisfiedRange(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "packages/a", "@scope/a", "1.2.0")

	set, err := Discover(root, []string{"packages/*"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if _, err := set.Resolve("@scope/a", "^2.0.0"); !pkgerr.Is(err, pkgerr.RangeInvalid) {
		t.Fatalf("expected RangeInvalid, got %v", err)
	}
}

func TestResolveUnknownPackage(t *testing.T) {
	set, err := Discover(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if _, err := set.Resolve("@scope/missing", ""); !pkgerr.Is(err, pkgerr.WorkspaceNotFound) {
		t.Fatalf("expected WorkspaceNotFound, got %v", err)
	}
}

func TestIsWorkspaceSpecifier(t *testing.T) {
	rng, ok := IsWorkspaceSpecifier("workspace:^1.0.0")
	if !ok || rng != "^1.0.0" {
		t.Fatalf("IsWorkspaceSpecifier = %q, %v", rng, ok)
	}
	if _, ok := IsWorkspaceSpecifier("^1.0.0"); ok {
		t.Fatal("expected non-workspace specifier to return ok=false")
	}
}
