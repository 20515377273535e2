package linker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeStorePackage(t *testing.T, files map[string]string) string {
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

func TestMaterializeLinkMode(t *testing.T) {
	src := writeStorePackage(t, map[string]string{
		"package.json": `{"name":"left-pad","version":"1.3.0","bin":"./bin/cli.js"}`,
		"index.js":     "module.exports = function() {};\n",
		"bin/cli.js":   "#!/usr/bin/env node\n",
	})

	projectRoot := t.TempDir()
	plan := map[string]Instance{
		"left-pad": {Name: "left-pad", PackageDir: src},
	}

	outcomes, err := Materialize(context.Background(), projectRoot, plan)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	if outcomes[0].Err != nil {
		t.Fatalf("unexpected outcome error: %v", outcomes[0].Err)
	}

	installed := filepath.Join(projectRoot, "node_modules", "left-pad", "index.js")
	if _, err := os.Stat(installed); err != nil {
		t.Fatalf("expected package to be materialized: %v", err)
	}

	if runtime.GOOS != "windows" {
		shimPath := filepath.Join(projectRoot, "node_modules", ".bin", "left-pad")
		fi, err := os.Stat(shimPath)
		if err != nil {
			t.Fatalf("expected bin shim to be created: %v", err)
		}
		if fi.Mode()&0111 == 0 {
			t.Fatal("expected shim to be executable")
		}
	}
}

func TestMaterializeForceCopy(t *testing.T) {
	src := writeStorePackage(t, map[string]string{
		"package.json": `{"name":"scoped-pkg","version":"1.0.0"}`,
	})

	projectRoot := t.TempDir()
	plan := map[string]Instance{
		"@scope/pkg": {Name: "@scope/pkg", PackageDir: src, ForceCopy: true},
	}

	outcomes, err := Materialize(context.Background(), projectRoot, plan)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if outcomes[0].Mode != ModeCopy {
		t.Fatalf("expected ModeCopy, got %s", outcomes[0].Mode)
	}

	installed := filepath.Join(projectRoot, "node_modules", "@scope", "pkg", "package.json")
	if _, err := os.Stat(installed); err != nil {
		t.Fatalf("expected scoped package materialized at segmented path: %v", err)
	}
}

func TestResolveBinPrefersLocalOverPath(t *testing.T) {
	projectRoot := t.TempDir()
	binDir := filepath.Join(projectRoot, "node_modules", ".bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		t.Fatal(err)
	}
	localBin := filepath.Join(binDir, "mytool")
	if err := os.WriteFile(localBin, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveBin(projectRoot, "mytool")
	if err != nil {
		t.Fatalf("ResolveBin: %v", err)
	}
	if got != localBin {
		t.Fatalf("ResolveBin = %q, want %q", got, localBin)
	}
}

func TestResolveBinNotFound(t *testing.T) {
	projectRoot := t.TempDir()
	if _, err := ResolveBin(projectRoot, "definitely-not-a-real-binary-xyz"); err == nil {
		t.Fatal("expected an error for an unresolvable binary")
	}
}
