// Package install implements the orchestrator: it drives the graph
// builder, the CAS store, and the linker from a project manifest and
// its existing lockfile, choosing among the no-op, fast, and full
// install paths.
package install

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/pacmpkg/pacm/internal/graph"
	"github.com/pacmpkg/pacm/internal/linker"
	"github.com/pacmpkg/pacm/internal/lockfile"
	"github.com/pacmpkg/pacm/internal/manifest"
	"github.com/pacmpkg/pacm/internal/pkgerr"
	"github.com/pacmpkg/pacm/internal/pkgname"
	"github.com/pacmpkg/pacm/internal/platform"
	"github.com/pacmpkg/pacm/internal/registry"
	"github.com/pacmpkg/pacm/internal/store"
	"github.com/pacmpkg/pacm/internal/tarballcache"
	"github.com/pacmpkg/pacm/internal/workspaces"
)

const lockfileName = "pacm.lockb"

// Options configures one Run.
type Options struct {
	Registry      registry.Client
	GitHost       registry.GitHost
	TarballCache  *tarballcache.Cache
	Store         *store.Store
	Workspaces    *workspaces.Set
	Host          platform.Host
	PreferOffline bool
	ForceCopy     bool // --copy: materialize every package by deep copy, never link
	LockFormat    uint32
}

// Status names which of the three install paths Run took.
type Status string

const (
	StatusNoOp     Status = "no-op"
	StatusFastPath Status = "fast-path"
	StatusFullPath Status = "full-path"
)

// Result is what Run reports back to the CLI.
type Result struct {
	Status   Status
	Warnings []graph.PeerWarning
	Outcomes []linker.Outcome
}

// Run performs one install against the project rooted at projectRoot.
// overrides are command-line specifiers that take precedence over the
// manifest's declared ranges.
func Run(ctx context.Context, projectRoot string, overrides map[string]string, opts Options) (*Result, error) {
	m, err := manifest.Load(filepath.Join(projectRoot, "package.json"))
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.ManifestMissing, projectRoot, err)
	}

	lockPath := filepath.Join(projectRoot, lockfileName)
	existing, err := loadLockfile(lockPath)
	if err != nil {
		return nil, err
	}

	declared := declaredNames(m)
	for name := range overrides {
		declared[name] = true
	}
	added := addedNames(declared, existing)
	stale := staleNames(declared, existing)

	if len(overrides) == 0 && len(added) == 0 && len(stale) == 0 && everyDeclaredMaterialized(projectRoot, declared, existing) {
		return &Result{Status: StatusNoOp}, nil
	}

	if len(overrides) == 0 && len(added) == 0 && allLockEntriesHaveStoreData(existing) {
		outcomes, err := runFastPath(ctx, projectRoot, existing, opts)
		if err != nil {
			return nil, err
		}
		if err := pruneUnreachable(projectRoot, existing, declared); err != nil {
			return nil, err
		}
		if err := writeLockfile(lockPath, existing); err != nil {
			return nil, err
		}
		return &Result{Status: StatusFastPath, Outcomes: outcomes}, nil
	}

	newLock, warnings, outcomes, err := runFullPath(ctx, projectRoot, m, overrides, opts)
	if err != nil {
		return nil, err
	}
	if err := pruneUnreachable(projectRoot, newLock, declared); err != nil {
		return nil, err
	}
	if err := writeLockfile(lockPath, newLock); err != nil {
		return nil, err
	}

	return &Result{Status: StatusFullPath, Warnings: warnings, Outcomes: outcomes}, nil
}

// Prune removes every lockfile entry (and on-disk directory) no longer
// reachable from the project manifest's declared dependencies, without
// otherwise touching resolution or the store. It backs the standalone
// "prune" CLI verb.
func Prune(projectRoot string) error {
	m, err := manifest.Load(filepath.Join(projectRoot, "package.json"))
	if err != nil {
		return pkgerr.Wrap(pkgerr.ManifestMissing, projectRoot, err)
	}

	lockPath := filepath.Join(projectRoot, lockfileName)
	lock, err := loadLockfile(lockPath)
	if err != nil {
		return err
	}

	declared := declaredNames(m)
	if err := pruneUnreachable(projectRoot, lock, declared); err != nil {
		return err
	}
	return writeLockfile(lockPath, lock)
}

func declaredNames(m *manifest.Manifest) map[string]bool {
	names := map[string]bool{}
	for name := range m.Dependencies {
		names[name] = true
	}
	for name := range m.DevDependencies {
		names[name] = true
	}
	for name := range m.OptionalDependencies {
		names[name] = true
	}
	return names
}

func addedNames(declared map[string]bool, lock *lockfile.Lockfile) []string {
	var added []string
	for name := range declared {
		if _, ok := lock.Entries["node_modules/"+name]; !ok {
			added = append(added, name)
		}
	}
	sort.Strings(added)
	return added
}

// staleNames returns the root-level lockfile entries that no longer
// correspond to a declared dependency: a root removed from the
// manifest since the lockfile was last written. Their presence rules
// out the no-op path even when every still-declared name is already
// materialized, since the stale entry's node_modules directory (and
// lockfile record) still needs pruning.
func staleNames(declared map[string]bool, lock *lockfile.Lockfile) []string {
	var stale []string
	for key := range lock.Entries {
		if key == "" {
			continue
		}
		name := key[len("node_modules/"):]
		if !declared[name] {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	return stale
}

// isPlatformFilteredEntry reports whether entry represents an optional
// dependency that was resolved but dropped by the platform filter: it
// carries a version and an os/cpu restriction list but was never given
// a store entry, since nothing was ever installed for it.
func isPlatformFilteredEntry(entry *lockfile.Entry) bool {
	return entry.StoreKey == "" && (len(entry.OS) > 0 || len(entry.CPU) > 0)
}

func everyDeclaredMaterialized(projectRoot string, declared map[string]bool, lock *lockfile.Lockfile) bool {
	for name := range declared {
		entry, ok := lock.Entries["node_modules/"+name]
		if !ok || entry.Version == "" {
			return false
		}
		if isPlatformFilteredEntry(entry) {
			continue
		}
		dir := filepath.Join(append([]string{projectRoot, "node_modules"}, pkgname.Segments(name)...)...)
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			return false
		}
	}
	return true
}

func allLockEntriesHaveStoreData(lock *lockfile.Lockfile) bool {
	for key, entry := range lock.Entries {
		if key == "" {
			continue
		}
		if isPlatformFilteredEntry(entry) {
			continue
		}
		if entry.StoreKey == "" || entry.StorePath == "" {
			return false
		}
	}
	return true
}

func loadLockfile(path string) (*lockfile.Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lockfile.New(1), nil
		}
		return nil, pkgerr.Wrap(pkgerr.LockfileUnreadable, path, err)
	}
	lf, err := lockfile.Decode(data)
	if err != nil {
		return nil, err
	}
	return lf, nil
}

func writeLockfile(path string, lock *lockfile.Lockfile) error {
	onlyRoot := len(lock.Entries) <= 1
	if onlyRoot {
		if root, ok := lock.Entries[""]; !ok || len(root.Dependencies)+len(root.DevDependencies)+len(root.OptionalDependencies) == 0 {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return pkgerr.Wrap(pkgerr.LockfileUnreadable, path, err)
			}
			return nil
		}
	}

	data, err := lockfile.Encode(lock)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "writing %s", path)
}

// runFastPath reconstructs the install plan purely from the existing
// lockfile's store links, skipping resolution entirely.
func runFastPath(ctx context.Context, projectRoot string, lock *lockfile.Lockfile, opts Options) ([]linker.Outcome, error) {
	plan := map[string]linker.Instance{}
	for key, entry := range lock.Entries {
		if key == "" {
			continue
		}
		if isPlatformFilteredEntry(entry) {
			continue
		}
		name := key[len("node_modules/"):]
		if opts.Store == nil {
			return nil, pkgerr.New(pkgerr.StoreRaceFailed, "no store configured for fast path")
		}
		storeEntry, ok, err := opts.Store.Load(entry.StoreKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, pkgerr.New(pkgerr.StoreRaceFailed, "fast path: missing store entry for %s", name)
		}
		plan[name] = linker.Instance{
			Name:       name,
			PackageDir: opts.Store.PackageDir(storeEntry.Name, storeEntry.Version, storeEntry.GraphHash),
			ForceCopy:  opts.ForceCopy,
		}
	}

	return linker.Materialize(ctx, projectRoot, plan)
}

// runFullPath runs the graph builder, ensures every resolved node has a
// CAS store entry, links the result into the project, and returns the
// lockfile ready to be written.
func runFullPath(ctx context.Context, projectRoot string, m *manifest.Manifest, overrides map[string]string, opts Options) (*lockfile.Lockfile, []graph.PeerWarning, []linker.Outcome, error) {
	gopts := graph.Options{
		Registry:      opts.Registry,
		GitHost:       opts.GitHost,
		TarballCache:  opts.TarballCache,
		Workspaces:    opts.Workspaces,
		Host:          opts.Host,
		PreferOffline: opts.PreferOffline,
	}

	g, warnings, err := graph.Build(ctx, gopts, m, overrides)
	if err != nil {
		return nil, nil, nil, err
	}

	if opts.Store == nil {
		return nil, nil, nil, pkgerr.New(pkgerr.StoreRaceFailed, "no store configured")
	}

	plan := map[string]linker.Instance{}
	storeEntries := map[string]store.Entry{}

	names := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := g.Nodes[name]

		var deps []store.Dependency
		depNames := make([]string, 0, len(node.Dependencies))
		for depName := range node.Dependencies {
			depNames = append(depNames, depName)
		}
		sort.Strings(depNames)
		for _, depName := range depNames {
			depNode, ok := g.Nodes[depName]
			if !ok {
				continue
			}
			deps = append(deps, store.Dependency{Name: depNode.Name, Version: depNode.Version, GraphHash: depNode.GraphHash})
		}

		sourceDir := node.WorkspaceDir
		if sourceDir == "" {
			if opts.TarballCache == nil {
				return nil, nil, nil, pkgerr.New(pkgerr.CachePoisoned, "no tarball cache configured for %s", name)
			}
			sourceDir = opts.TarballCache.VersionDir(name, node.Version)
		}

		entry, err := opts.Store.Ensure(store.EnsureInput{
			Name:         name,
			Version:      node.Version,
			Dependencies: deps,
			SourceDir:    sourceDir,
			Integrity:    node.Integrity,
			Resolved:     node.Resolved,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		storeEntries[name] = entry

		plan[name] = linker.Instance{
			Name:       name,
			PackageDir: opts.Store.PackageDir(entry.Name, entry.Version, entry.GraphHash),
			ForceCopy:  opts.ForceCopy,
		}
	}

	outcomes, err := linker.Materialize(ctx, projectRoot, plan)
	if err != nil {
		return nil, nil, outcomes, err
	}

	lock := lockfile.New(opts.LockFormat)
	if lock.Format == 0 {
		lock.Format = 1
	}
	lock.SyncFromManifest(m.Version, m.Dependencies, m.DevDependencies, m.OptionalDependencies, m.PeerDependencies)

	outcomeByName := map[string]linker.Outcome{}
	for _, o := range outcomes {
		outcomeByName[o.Name] = o
	}

	for _, name := range names {
		node := g.Nodes[name]
		entry := storeEntries[name]
		outcome := outcomeByName[name]

		peerMeta := map[string]lockfile.PeerMeta{}
		for peer, meta := range node.PeerMeta {
			peerMeta[peer] = lockfile.PeerMeta{Optional: meta.Optional}
		}

		lock.Entries["node_modules/"+name] = &lockfile.Entry{
			Version:              node.Version,
			Integrity:            node.Integrity,
			Resolved:             node.Resolved,
			Dependencies:         node.Dependencies,
			OptionalDependencies: node.OptionalDependencies,
			PeerDependencies:     node.PeerDependencies,
			PeerDependenciesMeta: peerMeta,
			OS:                   node.OS,
			CPU:                  node.CPU,
			StoreKey:             entry.StoreKey,
			ContentHash:          entry.ContentHash,
			LinkMode:             string(outcome.Mode),
			StorePath:            opts.Store.PackageDir(entry.Name, entry.Version, entry.GraphHash),
		}
	}

	for _, dropped := range g.Dropped {
		if dropped.Version == "" {
			// A resolution failure under an optional root: nothing was
			// ever resolved, so there's nothing to record in the lockfile.
			continue
		}
		lock.Entries["node_modules/"+dropped.Name] = &lockfile.Entry{
			Version: dropped.Version,
			OS:      dropped.OS,
			CPU:     dropped.CPU,
		}
	}

	return lock, warnings, outcomes, nil
}

// pruneUnreachable removes any node_modules/<name> lockfile entry (and
// its on-disk directory) that isn't reachable from declared, and tidies
// up now-empty scope directories.
func pruneUnreachable(projectRoot string, lock *lockfile.Lockfile, declared map[string]bool) error {
	reachable := map[string]bool{}
	var walk func(name string)
	walk = func(name string) {
		if reachable[name] {
			return
		}
		reachable[name] = true
		entry, ok := lock.Entries["node_modules/"+name]
		if !ok {
			return
		}
		for dep := range entry.Dependencies {
			walk(dep)
		}
		for dep := range entry.OptionalDependencies {
			walk(dep)
		}
	}
	for name := range declared {
		walk(name)
	}

	nodeModules := filepath.Join(projectRoot, "node_modules")
	for key := range lock.Entries {
		if key == "" {
			continue
		}
		name := key[len("node_modules/"):]
		if reachable[name] {
			continue
		}
		delete(lock.Entries, key)
		dir := filepath.Join(append([]string{nodeModules}, pkgname.Segments(name)...)...)
		if err := os.RemoveAll(dir); err != nil {
			return pkgerr.Wrap(pkgerr.LinkFailure, name, err)
		}
	}

	return cleanEmptyScopeDirs(nodeModules)
}

func cleanEmptyScopeDirs(nodeModules string) error {
	entries, err := os.ReadDir(nodeModules)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] != '@' {
			continue
		}
		scopeDir := filepath.Join(nodeModules, e.Name())
		children, err := os.ReadDir(scopeDir)
		if err != nil {
			continue
		}
		if len(children) == 0 {
			os.Remove(scopeDir)
		}
	}

	remaining, err := os.ReadDir(nodeModules)
	if err != nil {
		return nil
	}
	if len(remaining) == 0 {
		return os.Remove(nodeModules)
	}
	return nil
}
