package main

import (
	"path/filepath"
	"testing"
)

func TestRawManifestSetAndRemoveDependency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "package.json")

	rm := rawManifest{"name": "demo", "version": "1.0.0"}
	if err := saveRawManifest(path, rm); err != nil {
		t.Fatalf("saveRawManifest: %v", err)
	}

	loaded, err := loadRawManifest(path)
	if err != nil {
		t.Fatalf("loadRawManifest: %v", err)
	}

	loaded.setDependency(depField(false, false), "alpha", "^1.0.0")
	loaded.setDependency(depField(true, false), "beta", "^2.0.0")
	if err := saveRawManifest(path, loaded); err != nil {
		t.Fatalf("saveRawManifest: %v", err)
	}

	reloaded, err := loadRawManifest(path)
	if err != nil {
		t.Fatalf("loadRawManifest: %v", err)
	}

	deps, ok := reloaded["dependencies"].(map[string]interface{})
	if !ok || deps["alpha"] != "^1.0.0" {
		t.Fatalf("dependencies = %#v, want alpha=^1.0.0", reloaded["dependencies"])
	}
	dev, ok := reloaded["devDependencies"].(map[string]interface{})
	if !ok || dev["beta"] != "^2.0.0" {
		t.Fatalf("devDependencies = %#v, want beta=^2.0.0", reloaded["devDependencies"])
	}

	if !reloaded.removeDependency("alpha") {
		t.Fatalf("removeDependency(alpha) = false, want true")
	}
	if reloaded.removeDependency("missing") {
		t.Fatalf("removeDependency(missing) = true, want false")
	}
}

func TestDepField(t *testing.T) {
	cases := []struct {
		dev, optional bool
		want          string
	}{
		{false, false, "dependencies"},
		{true, false, "devDependencies"},
		{false, true, "optionalDependencies"},
		{true, true, "devDependencies"},
	}
	for _, c := range cases {
		if got := depField(c.dev, c.optional); got != c.want {
			t.Errorf("depField(%v, %v) = %q, want %q", c.dev, c.optional, got, c.want)
		}
	}
}
