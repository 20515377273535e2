package resolve

import (
	"testing"

	"github.com/pacmpkg/pacm/internal/pkgerr"
)

func candidates(versions ...string) []Candidate {
	out := make([]Candidate, len(versions))
	for i, v := range versions {
		out[i] = Candidate{Version: v, TarballURL: "https://registry.example/pkg/-/pkg-" + v + ".tgz"}
	}
	return out
}

func TestPickOrRange(t *testing.T) {
	cs := candidates("1.0.0", "2.1.3", "3.0.0-rc.1")
	got, err := Pick(cs, "^1 || ^2")
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got.Version != "2.1.3" {
		t.Fatalf("got %q, want 2.1.3", got.Version)
	}
}

func TestPickPrereleaseRequiresExplicitTag(t *testing.T) {
	cs := candidates("1.0.0", "2.0.0-beta.1")
	got, err := Pick(cs, "^2")
	if err == nil {
		t.Fatalf("expected no match, got %v", got)
	}
	if !pkgerr.Is(err, pkgerr.NoVersionMatches) {
		t.Fatalf("expected NoVersionMatches, got %v", err)
	}

	got, err = Pick(cs, "2.0.0-beta.1")
	if err != nil {
		t.Fatalf("Pick exact prerelease: %v", err)
	}
	if got.Version != "2.0.0-beta.1" {
		t.Fatalf("got %q", got.Version)
	}
}

func TestPickNoMatch(t *testing.T) {
	cs := candidates("1.0.0")
	_, err := Pick(cs, "^2.0.0")
	if !pkgerr.Is(err, pkgerr.NoVersionMatches) {
		t.Fatalf("expected NoVersionMatches, got %v", err)
	}
}

func TestPickHighestWins(t *testing.T) {
	cs := candidates("1.0.0", "1.2.0", "1.1.0")
	got, err := Pick(cs, "^1.0.0")
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got.Version != "1.2.0" {
		t.Fatalf("got %q, want 1.2.0", got.Version)
	}
}

func TestIsDistTag(t *testing.T) {
	yes := []string{"latest2", "next", "beta", "canary-1"}
	no := []string{"latest", "1.2.3", "^1.2.3", "1.x", "1 || 2", "a, b", "a b"}

	for _, v := range yes {
		if !IsDistTag(v) {
			t.Errorf("IsDistTag(%q) = false, want true", v)
		}
	}
	for _, v := range no {
		if IsDistTag(v) {
			t.Errorf("IsDistTag(%q) = true, want false", v)
		}
	}
}

func TestResolveTag(t *testing.T) {
	tags := map[string]string{"latest": "1.2.3", "next": "2.0.0-rc.1"}

	v, err := ResolveTag(tags, "next")
	if err != nil || v != "2.0.0-rc.1" {
		t.Fatalf("ResolveTag(next) = %q, %v", v, err)
	}

	_, err = ResolveTag(tags, "missing")
	if !pkgerr.Is(err, pkgerr.TagUnknown) {
		t.Fatalf("expected TagUnknown, got %v", err)
	}
}
