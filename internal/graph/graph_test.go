package graph

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"testing"

	"github.com/pacmpkg/pacm/internal/manifest"
	"github.com/pacmpkg/pacm/internal/pkgerr"
	"github.com/pacmpkg/pacm/internal/platform"
	"github.com/pacmpkg/pacm/internal/registry"
	"github.com/pacmpkg/pacm/internal/tarballcache"
)

type fakeRegistry struct {
	packages map[string]registry.PackageMetadata
	tarballs map[string][]byte
}

func (f *fakeRegistry) PackageMetadata(_ context.Context, name string) (registry.PackageMetadata, error) {
	meta, ok := f.packages[name]
	if !ok {
		return registry.PackageMetadata{}, pkgerr.New(pkgerr.RegistryUnavailable, "%s", name)
	}
	return meta, nil
}

func (f *fakeRegistry) DownloadTarball(_ context.Context, url string) ([]byte, error) {
	tb, ok := f.tarballs[url]
	if !ok {
		return nil, pkgerr.New(pkgerr.RegistryUnavailable, "no tarball for %s", url)
	}
	return tb, nil
}

func buildTarball(t *testing.T, pkgJSON string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	hdr := &tar.Header{Name: "package/package.json", Mode: 0644, Size: int64(len(pkgJSON))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(pkgJSON)); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func TestBuildResolvesTransitiveRegistryDependency(t *testing.T) {
	cache, err := tarballcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("tarballcache.New: %v", err)
	}

	reg := &fakeRegistry{
		packages: map[string]registry.PackageMetadata{
			"foo": {
				Name:     "foo",
				DistTags: map[string]string{"latest": "1.0.0"},
				Versions: map[string]registry.VersionMetadata{
					"1.0.0": {Version: "1.0.0", TarballURL: "https://registry.example/foo-1.0.0.tgz", Dependencies: map[string]string{"bar": "^2.0.0"}},
				},
			},
			"bar": {
				Name:     "bar",
				DistTags: map[string]string{"latest": "2.1.0"},
				Versions: map[string]registry.VersionMetadata{
					"2.1.0": {Version: "2.1.0", TarballURL: "https://registry.example/bar-2.1.0.tgz"},
				},
			},
		},
		tarballs: map[string][]byte{
			"https://registry.example/foo-1.0.0.tgz": buildTarball(t, `{"name":"foo","version":"1.0.0"}`),
			"https://registry.example/bar-2.1.0.tgz":  buildTarball(t, `{"name":"bar","version":"2.1.0"}`),
		},
	}

	root := &manifest.Manifest{
		Name:         "root",
		Dependencies: map[string]string{"foo": "^1.0.0"},
	}

	opts := Options{
		Registry:     reg,
		TarballCache: cache,
		Host:         platform.Host{OS: "linux", CPU: "x64"},
	}

	g, warnings, err := Build(context.Background(), opts, root, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no peer warnings, got %v", warnings)
	}

	foo, ok := g.Nodes["foo"]
	if !ok {
		t.Fatal("expected foo to be resolved")
	}
	if foo.Version != "1.0.0" {
		t.Fatalf("foo version = %s", foo.Version)
	}
	bar, ok := g.Nodes["bar"]
	if !ok {
		t.Fatal("expected bar to be resolved transitively")
	}
	if bar.Version != "2.1.0" {
		t.Fatalf("bar version = %s", bar.Version)
	}

	if foo.GraphHash == "" || bar.GraphHash == "" {
		t.Fatal("expected both nodes to carry a computed graph hash")
	}
	if foo.GraphHash == bar.GraphHash {
		t.Fatal("expected distinct graph hashes for differently-shaped subgraphs")
	}

	if !cache.Has("foo", "1.0.0") || !cache.Has("bar", "2.1.0") {
		t.Fatal("expected both tarballs to be pulled into the cache by the pending-download pass")
	}
}

func TestBuildDropsFailingOptionalRoot(t *testing.T) {
	cache, err := tarballcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("tarballcache.New: %v", err)
	}
	reg := &fakeRegistry{packages: map[string]registry.PackageMetadata{}, tarballs: map[string][]byte{}}

	root := &manifest.Manifest{
		OptionalDependencies: map[string]string{"missing": "^1.0.0"},
	}
	opts := Options{Registry: reg, TarballCache: cache, Host: platform.Host{OS: "linux", CPU: "x64"}}

	g, _, err := Build(context.Background(), opts, root, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := g.Nodes["missing"]; ok {
		t.Fatal("expected missing optional dependency to be absent from the graph")
	}
	if len(g.Dropped) != 1 || g.Dropped[0].Name != "missing" {
		t.Fatalf("expected missing to be recorded as dropped, got %v", g.Dropped)
	}
	if g.Dropped[0].Version != "" {
		t.Fatalf("expected no version for a resolution-failure drop, got %q", g.Dropped[0].Version)
	}
}

func TestBuildDropsOptionalRootFilteredByPlatform(t *testing.T) {
	cache, err := tarballcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("tarballcache.New: %v", err)
	}
	tb := buildTarball(t, `{"name":"opt-root","version":"1.0.0"}`)
	reg := &fakeRegistry{
		packages: map[string]registry.PackageMetadata{
			"opt-root": {
				Name:     "opt-root",
				DistTags: map[string]string{"latest": "1.0.0"},
				Versions: map[string]registry.VersionMetadata{
					"1.0.0": {Version: "1.0.0", TarballURL: "https://example.com/opt-root-1.0.0.tgz", OS: []string{"darwin"}},
				},
			},
		},
		tarballs: map[string][]byte{"https://example.com/opt-root-1.0.0.tgz": tb},
	}

	root := &manifest.Manifest{
		OptionalDependencies: map[string]string{"opt-root": "^1.0.0"},
	}
	opts := Options{Registry: reg, TarballCache: cache, Host: platform.Host{OS: "linux", CPU: "x64"}}

	g, _, err := Build(context.Background(), opts, root, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := g.Nodes["opt-root"]; ok {
		t.Fatal("expected platform-filtered optional dependency to be absent from the graph")
	}
	if len(g.Dropped) != 1 {
		t.Fatalf("expected exactly one dropped entry, got %v", g.Dropped)
	}
	dropped := g.Dropped[0]
	if dropped.Name != "opt-root" || dropped.Version != "1.0.0" {
		t.Fatalf("dropped = %+v, want name=opt-root version=1.0.0", dropped)
	}
	if len(dropped.OS) != 1 || dropped.OS[0] != "darwin" {
		t.Fatalf("dropped.OS = %v, want [darwin]", dropped.OS)
	}
	if cache.Has("opt-root", "1.0.0") {
		t.Fatal("expected no tarball to be pulled into the cache for a platform-filtered node")
	}
}

func TestBuildFailsHardOnNonOptionalRegistryFailure(t *testing.T) {
	cache, err := tarballcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("tarballcache.New: %v", err)
	}
	reg := &fakeRegistry{packages: map[string]registry.PackageMetadata{}, tarballs: map[string][]byte{}}

	root := &manifest.Manifest{Dependencies: map[string]string{"missing": "^1.0.0"}}
	opts := Options{Registry: reg, TarballCache: cache, Host: platform.Host{OS: "linux", CPU: "x64"}}

	if _, _, err := Build(context.Background(), opts, root, nil); err == nil {
		t.Fatal("expected a hard failure for a non-optional unresolvable dependency")
	}
}

func TestBuildReportsMissingPeerDependency(t *testing.T) {
	cache, err := tarballcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("tarballcache.New: %v", err)
	}
	reg := &fakeRegistry{
		packages: map[string]registry.PackageMetadata{
			"plugin": {
				Name:     "plugin",
				DistTags: map[string]string{"latest": "1.0.0"},
				Versions: map[string]registry.VersionMetadata{
					"1.0.0": {
						Version:          "1.0.0",
						TarballURL:       "https://registry.example/plugin-1.0.0.tgz",
						PeerDependencies: map[string]string{"host-lib": "^3.0.0"},
					},
				},
			},
		},
		tarballs: map[string][]byte{
			"https://registry.example/plugin-1.0.0.tgz": buildTarball(t, `{"name":"plugin","version":"1.0.0"}`),
		},
	}

	root := &manifest.Manifest{Dependencies: map[string]string{"plugin": "^1.0.0"}}
	opts := Options{Registry: reg, TarballCache: cache, Host: platform.Host{OS: "linux", CPU: "x64"}}

	g, warnings, err := Build(context.Background(), opts, root, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := g.Nodes["plugin"]; !ok {
		t.Fatal("expected plugin to resolve despite its missing peer")
	}
	if len(warnings) != 1 || warnings[0].Dependent != "plugin" {
		t.Fatalf("expected one grouped peer warning for plugin, got %v", warnings)
	}
	if len(warnings[0].Missing) != 1 || warnings[0].Missing[0] != "host-lib" {
		t.Fatalf("expected host-lib listed as missing, got %v", warnings[0].Missing)
	}
}
