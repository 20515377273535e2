// Package graph implements the BFS dependency-graph builder: the heart
// of the system. It resolves every reachable specifier to an
// exact version, applies the platform filter, ensures bytes land in the
// tarball cache, and fingerprints the resulting graph bottom-up.
package graph

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pacmpkg/pacm/internal/manifest"
	"github.com/pacmpkg/pacm/internal/pkgerr"
	"github.com/pacmpkg/pacm/internal/pkgname"
	"github.com/pacmpkg/pacm/internal/platform"
	"github.com/pacmpkg/pacm/internal/registry"
	"github.com/pacmpkg/pacm/internal/resolve"
	"github.com/pacmpkg/pacm/internal/semverrange"
	"github.com/pacmpkg/pacm/internal/store"
	"github.com/pacmpkg/pacm/internal/tarballcache"
	"github.com/pacmpkg/pacm/internal/workspaces"
)

// Node is one resolved entry in the dependency graph.
type Node struct {
	Name                 string
	Version              string
	Source               string // "registry", "workspace", "git", "tarball"
	Resolved             string // tarball URL, archive URL, or workspace dir
	Integrity            string
	GraphHash            string
	Dependencies         map[string]string
	OptionalDependencies map[string]string
	PeerDependencies     map[string]string
	PeerMeta             map[string]manifest.PeerMeta
	OS                   []string
	CPU                  []string
	Scripts              map[string]string
	HasBin               bool
	OptionalRoot         bool
	PlatformRestricted   bool
	FilteredOut          bool
	WorkspaceDir         string
}

// PeerWarning groups a dependent package with the non-optional peers it
// declares that were never installed.
type PeerWarning struct {
	Dependent string
	Missing   []string
}

// DroppedNode records an optional dependency that was resolved but
// excluded from installation: either the platform filter rejected its
// os/cpu against the host, or its resolution/download failed and the
// error was absorbed because it sat under an optional root. Version,
// OS, and CPU are populated in the former case and empty in the
// latter, since a resolution failure never produces a Node to read
// them from. A non-optional peer whose resolution failed is recorded
// the same way, with only its name.
type DroppedNode struct {
	Name    string
	Version string
	OS      []string
	CPU     []string
}

// Graph is the result of a successful Build: every resolved node, plus
// the root's original specifiers (for the lockfile's own entry).
type Graph struct {
	Nodes          map[string]*Node
	RootSpecifiers map[string]string
	Dropped        []DroppedNode
}

// Options configures a Build call.
type Options struct {
	Registry      registry.Client
	GitHost       registry.GitHost
	TarballCache  *tarballcache.Cache
	Workspaces    *workspaces.Set
	Host          platform.Host
	PreferOffline bool
}

type task struct {
	Name         string
	Range        string
	OptionalRoot bool
	// IsPeer marks a task enqueued from a non-optional peerDependencies
	// entry: resolution failures are absorbed, since an unmet peer is
	// reported as a warning, not a hard install failure.
	IsPeer bool
}

type pendingDownload struct {
	name          string
	version       string
	tarballURL    string
	hintIntegrity string
}

var gitHostRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*/[A-Za-z0-9][A-Za-z0-9_.-]*(#.+)?$`)

type specKind int

const (
	kindRegistryRange specKind = iota
	kindTag
	kindWorkspace
	kindGitHost
	kindRemoteTarball
)

func classify(spec string) specKind {
	switch {
	case strings.HasPrefix(spec, "workspace:"):
		return kindWorkspace
	case strings.HasPrefix(spec, "http://"), strings.HasPrefix(spec, "https://"):
		return kindRemoteTarball
	case strings.HasPrefix(spec, "github:"):
		return kindGitHost
	case gitHostRe.MatchString(spec):
		return kindGitHost
	case resolve.IsDistTag(spec):
		return kindTag
	default:
		return kindRegistryRange
	}
}

func parseGitHost(spec string) (owner, repo, ref string) {
	spec = strings.TrimPrefix(spec, "github:")
	if i := strings.Index(spec, "#"); i >= 0 {
		ref = spec[i+1:]
		spec = spec[:i]
	}
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) == 2 {
		owner, repo = parts[0], parts[1]
	}
	return owner, repo, ref
}

// builder drives one Build call.
type builder struct {
	opts     Options
	visited  map[string]bool
	resolved map[string]*Node
	queue    []task
	pending  []*pendingDownload
	dropped  []DroppedNode
}

// Build runs the traversal rooted at root's manifest (plus any
// workspace manifests reachable through opts.Workspaces), seeding the
// queue from root.Dependencies, root.DevDependencies, and
// root.OptionalDependencies, with overrides taking precedence over the
// manifest's declared ranges for any name they mention.
func Build(ctx context.Context, opts Options, root *manifest.Manifest, overrides map[string]string) (*Graph, []PeerWarning, error) {
	b := &builder{
		opts:     opts,
		visited:  map[string]bool{},
		resolved: map[string]*Node{},
	}

	rootSpecifiers := map[string]string{}
	seed := func(deps map[string]string, optionalRoot bool) {
		for name, rng := range deps {
			if override, ok := overrides[name]; ok {
				rng = override
			}
			rootSpecifiers[name] = rng
			b.queue = append(b.queue, task{Name: name, Range: rng, OptionalRoot: optionalRoot})
		}
	}
	seed(root.Dependencies, false)
	seed(root.DevDependencies, false)
	seed(root.OptionalDependencies, true)

	if opts.Workspaces != nil {
		for _, name := range opts.Workspaces.Names() {
			pkg, err := opts.Workspaces.Resolve(name, "")
			if err != nil {
				continue
			}
			seed(pkg.Manifest.Dependencies, false)
			seed(pkg.Manifest.DevDependencies, false)
			seed(pkg.Manifest.OptionalDependencies, true)
		}
	}

	for override, rng := range overrides {
		if _, ok := rootSpecifiers[override]; !ok {
			rootSpecifiers[override] = rng
			b.queue = append(b.queue, task{Name: override, Range: rng, OptionalRoot: false})
		}
	}

	if err := b.run(ctx); err != nil {
		return nil, nil, err
	}

	if err := b.runPendingDownloads(ctx); err != nil {
		return nil, nil, err
	}

	if err := b.fingerprint(); err != nil {
		return nil, nil, err
	}

	warnings := b.peerWarnings()

	return &Graph{Nodes: b.resolved, RootSpecifiers: rootSpecifiers, Dropped: b.dropped}, warnings, nil
}

func (b *builder) run(ctx context.Context) error {
	for len(b.queue) > 0 {
		t := b.queue[0]
		b.queue = b.queue[1:]

		if _, ok := b.resolved[t.Name]; ok {
			continue
		}
		if b.visited[t.Name] {
			continue
		}
		b.visited[t.Name] = true

		node, err := b.resolveTask(ctx, t)
		if err != nil {
			if t.OptionalRoot || t.IsPeer {
				b.dropped = append(b.dropped, DroppedNode{Name: t.Name})
				continue
			}
			return err
		}
		if node.FilteredOut {
			b.dropped = append(b.dropped, DroppedNode{
				Name:    node.Name,
				Version: node.Version,
				OS:      node.OS,
				CPU:     node.CPU,
			})
			continue
		}

		b.resolved[t.Name] = node
		b.enqueueDependencies(node, t.OptionalRoot)
	}
	return nil
}

func (b *builder) enqueueDependencies(node *Node, optionalRoot bool) {
	for name, rng := range node.Dependencies {
		b.queue = append(b.queue, task{Name: name, Range: rng, OptionalRoot: optionalRoot})
	}
	for name, rng := range node.OptionalDependencies {
		b.queue = append(b.queue, task{Name: name, Range: rng, OptionalRoot: true})
	}
	for name, rng := range node.PeerDependencies {
		if meta, ok := node.PeerMeta[name]; ok && meta.Optional {
			continue
		}
		b.queue = append(b.queue, task{Name: name, Range: rng, OptionalRoot: false, IsPeer: true})
	}
}

func (b *builder) resolveTask(ctx context.Context, t task) (*Node, error) {
	switch classify(t.Range) {
	case kindWorkspace:
		return b.resolveWorkspace(t)
	case kindGitHost:
		return b.resolveGitHost(ctx, t)
	case kindRemoteTarball:
		return b.resolveRemoteTarball(ctx, t)
	case kindTag:
		return b.resolveTag(ctx, t)
	default:
		return b.resolveRegistryRange(ctx, t)
	}
}

func (b *builder) resolveWorkspace(t task) (*Node, error) {
	if b.opts.Workspaces == nil {
		return nil, pkgerr.New(pkgerr.ManifestMissing, "no workspaces configured, cannot resolve %s", t.Name)
	}
	rng := strings.TrimPrefix(t.Range, "workspace:")
	pkg, err := b.opts.Workspaces.Resolve(t.Name, rng)
	if err != nil {
		return nil, err
	}

	node := &Node{
		Name:                 t.Name,
		Version:              pkg.Version,
		Source:               "workspace",
		Resolved:             pkg.Dir,
		Dependencies:         pkg.Manifest.Dependencies,
		OptionalDependencies: pkg.Manifest.OptionalDependencies,
		PeerDependencies:     pkg.Manifest.PeerDependencies,
		PeerMeta:             pkg.Manifest.PeerDependenciesMeta,
		OS:                   pkg.Manifest.OS,
		CPU:                  pkg.Manifest.CPU,
		Scripts:              pkg.Manifest.Scripts,
		WorkspaceDir:         pkg.Dir,
	}
	return b.applyPlatformFilter(node, t)
}

func (b *builder) resolveRegistryRange(ctx context.Context, t task) (*Node, error) {
	if b.opts.TarballCache != nil {
		if cached, err := b.opts.TarballCache.CachedVersions(t.Name); err == nil && len(cached) > 0 {
			candidates := make([]resolve.Candidate, len(cached))
			for i, v := range cached {
				candidates[i] = resolve.Candidate{Version: v}
			}
			if picked, err := resolve.Pick(candidates, t.Range); err == nil {
				m, err := manifest.Load(filepath.Join(b.opts.TarballCache.VersionDir(t.Name, picked.Version), "package.json"))
				if err != nil {
					return nil, pkgerr.Wrap(pkgerr.ManifestMalformed, t.Name, err)
				}
				node := nodeFromManifest(t.Name, picked.Version, "registry", "", m)
				return b.applyPlatformFilter(node, t)
			}
		}
	}

	if b.opts.Registry == nil {
		return nil, pkgerr.New(pkgerr.RegistryUnavailable, "no registry client configured for %s", t.Name)
	}
	meta, err := b.opts.Registry.PackageMetadata(ctx, t.Name)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.RegistryUnavailable, t.Name, err)
	}

	var version string
	canonical := semverrange.Canonicalize(t.Range)
	if canonical == "*" {
		if latest, ok := meta.DistTags["latest"]; ok {
			version = latest
		}
	}
	if version == "" {
		candidates := make([]resolve.Candidate, 0, len(meta.Versions))
		for v, vm := range meta.Versions {
			candidates = append(candidates, resolve.Candidate{Version: v, TarballURL: vm.TarballURL})
		}
		picked, err := resolve.Pick(candidates, t.Range)
		if err != nil {
			return nil, err
		}
		version = picked.Version
	}

	vm := meta.Versions[version]
	node := nodeFromVersionMetadata(t.Name, version, "registry", vm)

	filtered, err := b.applyPlatformFilter(node, t)
	if err != nil {
		return nil, err
	}
	if filtered.FilteredOut {
		return filtered, nil
	}

	b.queueDownload(t.Name, version, vm.TarballURL, vm.Integrity)
	return filtered, nil
}

func (b *builder) resolveTag(ctx context.Context, t task) (*Node, error) {
	if b.opts.Registry == nil {
		return nil, pkgerr.New(pkgerr.RegistryUnavailable, "no registry client configured for %s", t.Name)
	}
	if b.opts.PreferOffline {
		return nil, pkgerr.New(pkgerr.TagUnknown, "tag %q for %s requires network access (prefer-offline set)", t.Range, t.Name)
	}
	meta, err := b.opts.Registry.PackageMetadata(ctx, t.Name)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.RegistryUnavailable, t.Name, err)
	}
	version, err := resolve.ResolveTag(meta.DistTags, t.Range)
	if err != nil {
		return nil, err
	}

	vm := meta.Versions[version]
	node := nodeFromVersionMetadata(t.Name, version, "registry", vm)

	filtered, err := b.applyPlatformFilter(node, t)
	if err != nil {
		return nil, err
	}
	if filtered.FilteredOut {
		return filtered, nil
	}

	b.queueDownload(t.Name, version, vm.TarballURL, vm.Integrity)
	return filtered, nil
}

func (b *builder) resolveGitHost(ctx context.Context, t task) (*Node, error) {
	if b.opts.GitHost == nil || b.opts.Registry == nil {
		return nil, pkgerr.New(pkgerr.RegistryUnavailable, "no git-host client configured for %s", t.Name)
	}
	owner, repo, ref := parseGitHost(t.Range)
	if ref == "" {
		var err error
		ref, err = b.opts.GitHost.DefaultBranch(ctx, owner, repo)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.RegistryUnavailable, t.Name, err)
		}
	}
	sha, err := b.opts.GitHost.ResolveCommit(ctx, owner, repo, ref)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.RegistryUnavailable, t.Name, err)
	}
	url := b.opts.GitHost.ArchiveURL(owner, repo, sha)

	bytes, err := b.opts.Registry.DownloadTarball(ctx, url)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.RegistryUnavailable, t.Name, err)
	}

	baseVersion, m, err := b.peekManifest(bytes)
	if err != nil {
		return nil, err
	}
	version := baseVersion + "+git." + shortSha(sha)

	if b.opts.TarballCache != nil {
		if _, err := b.opts.TarballCache.Ensure(t.Name, version, bytes, ""); err != nil {
			return nil, pkgerr.Wrap(pkgerr.CachePoisoned, t.Name, err)
		}
	}

	node := nodeFromManifest(t.Name, version, "git", url, m)
	return b.applyPlatformFilter(node, t)
}

func (b *builder) resolveRemoteTarball(ctx context.Context, t task) (*Node, error) {
	if b.opts.Registry == nil {
		return nil, pkgerr.New(pkgerr.RegistryUnavailable, "no registry client configured to fetch %s", t.Range)
	}
	bytes, err := b.opts.Registry.DownloadTarball(ctx, t.Range)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.RegistryUnavailable, t.Name, err)
	}

	baseVersion, m, err := b.peekManifest(bytes)
	if err != nil {
		return nil, err
	}
	version := baseVersion + "+remote." + pkgname.ShortHash(t.Range)

	if b.opts.TarballCache != nil {
		if _, err := b.opts.TarballCache.Ensure(t.Name, version, bytes, ""); err != nil {
			return nil, pkgerr.Wrap(pkgerr.CachePoisoned, t.Name, err)
		}
	}

	node := nodeFromManifest(t.Name, version, "tarball", t.Range, m)
	return b.applyPlatformFilter(node, t)
}

func (b *builder) peekManifest(tarballBytes []byte) (string, *manifest.Manifest, error) {
	if b.opts.TarballCache == nil {
		return "", nil, pkgerr.New(pkgerr.CachePoisoned, "no tarball cache configured to extract source dependency")
	}
	dir, cleanup, err := b.opts.TarballCache.ExtractToTemp(tarballBytes)
	if err != nil {
		return "", nil, pkgerr.Wrap(pkgerr.CachePoisoned, "source dependency", err)
	}
	defer cleanup()

	m, err := manifest.Load(filepath.Join(dir, "package.json"))
	if err != nil {
		return "", nil, pkgerr.Wrap(pkgerr.ManifestMalformed, "source dependency", err)
	}
	version := m.Version
	if version == "" {
		version = "0.0.0"
	}
	return version, m, nil
}

// applyPlatformFilter evaluates node's os/cpu lists against the host.
// A rejected non-optional node is still installed, marked
// PlatformRestricted. A rejected optional-root node is returned with
// FilteredOut set rather than discarded, so the caller can still
// record its name/version/os/cpu as a Dropped entry without adding an
// install instance for it.
func (b *builder) applyPlatformFilter(node *Node, t task) (*Node, error) {
	if platform.Accepts(node.OS, node.CPU, b.opts.Host) {
		return node, nil
	}
	if t.OptionalRoot {
		node.FilteredOut = true
		return node, nil
	}
	node.PlatformRestricted = true
	return node, nil
}

func (b *builder) queueDownload(name, version, tarballURL, integrity string) {
	if b.opts.TarballCache != nil && b.opts.TarballCache.Has(name, version) {
		return
	}
	if b.opts.PreferOffline {
		return
	}
	b.pending = append(b.pending, &pendingDownload{name: name, version: version, tarballURL: tarballURL, hintIntegrity: integrity})
}

func (b *builder) runPendingDownloads(ctx context.Context) error {
	if len(b.pending) == 0 || b.opts.Registry == nil || b.opts.TarballCache == nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range b.pending {
		p := p
		g.Go(func() error {
			bytes, err := b.opts.Registry.DownloadTarball(gctx, p.tarballURL)
			if err != nil {
				node, ok := b.resolved[p.name]
				if ok && node.OptionalRoot {
					return nil
				}
				return pkgerr.Wrap(pkgerr.RegistryUnavailable, p.name, err)
			}
			integrity, err := b.opts.TarballCache.Ensure(p.name, p.version, bytes, p.hintIntegrity)
			if err != nil {
				return err
			}
			if node, ok := b.resolved[p.name]; ok {
				node.Integrity = integrity
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *builder) fingerprint() error {
	hashes := map[string]string{}
	visiting := map[string]bool{}

	var compute func(name string) (string, error)
	compute = func(name string) (string, error) {
		if h, ok := hashes[name]; ok {
			return h, nil
		}
		node, ok := b.resolved[name]
		if !ok {
			// A dependency that was dropped (optional, filtered) contributes
			// nothing to the parent's fingerprint.
			return "", nil
		}
		if visiting[name] {
			return "", pkgerr.New(pkgerr.CyclicDependency, "%s", name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		var deps []store.Dependency
		for depName := range node.Dependencies {
			depHash, err := compute(depName)
			if err != nil {
				return "", err
			}
			depNode, ok := b.resolved[depName]
			if !ok {
				continue
			}
			deps = append(deps, store.Dependency{Name: depNode.Name, Version: depNode.Version, GraphHash: depHash})
		}

		h := store.GraphHash(deps)
		hashes[name] = h
		node.GraphHash = h
		return h, nil
	}

	names := make([]string, 0, len(b.resolved))
	for name := range b.resolved {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := compute(name); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) peerWarnings() []PeerWarning {
	var warnings []PeerWarning

	names := make([]string, 0, len(b.resolved))
	for name := range b.resolved {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := b.resolved[name]
		var missing []string
		peerNames := make([]string, 0, len(node.PeerDependencies))
		for peer := range node.PeerDependencies {
			peerNames = append(peerNames, peer)
		}
		sort.Strings(peerNames)
		for _, peer := range peerNames {
			if meta, ok := node.PeerMeta[peer]; ok && meta.Optional {
				continue
			}
			if _, ok := b.resolved[peer]; !ok {
				missing = append(missing, peer)
			}
		}
		if len(missing) > 0 {
			warnings = append(warnings, PeerWarning{Dependent: name, Missing: missing})
		}
	}
	return warnings
}

func nodeFromVersionMetadata(name, version, source string, vm registry.VersionMetadata) *Node {
	peerMeta := map[string]manifest.PeerMeta{}
	for peer, m := range vm.PeerDependenciesMeta {
		peerMeta[peer] = manifest.PeerMeta{Optional: m.Optional}
	}
	return &Node{
		Name:                 name,
		Version:              version,
		Source:               source,
		Resolved:             vm.TarballURL,
		Integrity:            vm.Integrity,
		Dependencies:         vm.Dependencies,
		OptionalDependencies: vm.OptionalDependencies,
		PeerDependencies:     vm.PeerDependencies,
		PeerMeta:             peerMeta,
		OS:                   vm.OS,
		CPU:                  vm.CPU,
		Scripts:              vm.Scripts,
		HasBin:               vm.HasBin,
	}
}

func nodeFromManifest(name, version, source, resolved string, m *manifest.Manifest) *Node {
	hasBin := len(m.Bin) > 0
	return &Node{
		Name:                 name,
		Version:              version,
		Source:               source,
		Resolved:             resolved,
		Dependencies:         m.Dependencies,
		OptionalDependencies: m.OptionalDependencies,
		PeerDependencies:     m.PeerDependencies,
		PeerMeta:             m.PeerDependenciesMeta,
		OS:                   m.OS,
		CPU:                  m.CPU,
		Scripts:              m.Scripts,
		HasBin:               hasBin,
	}
}

func shortSha(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
