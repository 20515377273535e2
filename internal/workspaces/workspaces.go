// Package workspaces discovers the sibling packages declared by a root
// manifest's "workspaces" glob list and resolves workspace:<range>
// specifiers against them.
package workspaces

import (
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/pacmpkg/pacm/internal/manifest"
	"github.com/pacmpkg/pacm/internal/pkgerr"
)

// Package is one discovered workspace member.
type Package struct {
	Name     string
	Version  string
	Dir      string
	Manifest *manifest.Manifest
}

// Set indexes discovered workspace packages by name.
type Set struct {
	byName map[string]Package
}

// Discover globs projectRoot against each pattern in globs (relative to
// projectRoot) and loads the package.json found in every matching
// directory, skipping directories with no manifest.
func Discover(projectRoot string, globs []string) (*Set, error) {
	s := &Set{byName: map[string]Package{}}

	for _, pattern := range globs {
		matches, err := filepath.Glob(filepath.Join(projectRoot, pattern))
		if err != nil {
			return nil, errors.Wrapf(err, "expanding workspace glob %q", pattern)
		}
		for _, dir := range matches {
			manifestPath := filepath.Join(dir, "package.json")
			m, err := manifest.Load(manifestPath)
			if err != nil {
				continue
			}
			if m.Name == "" {
				continue
			}
			s.byName[m.Name] = Package{Name: m.Name, Version: m.Version, Dir: dir, Manifest: m}
		}
	}

	return s, nil
}

// IsWorkspaceSpecifier reports whether spec is a "workspace:<range>"
// specifier and, if so, returns the range suffix (which may be empty,
// equivalent to "*").
func IsWorkspaceSpecifier(spec string) (rng string, ok bool) {
	if !strings.HasPrefix(spec, "workspace:") {
		return "", false
	}
	return strings.TrimPrefix(spec, "workspace:"), true
}

// Resolve looks up name among the discovered workspace packages and
// checks that its version satisfies rng (empty or "*" always
// satisfies).
func (s *Set) Resolve(name, rng string) (Package, error) {
	pkg, ok := s.byName[name]
	if !ok {
		return Package{}, pkgerr.New(pkgerr.WorkspaceNotFound, "no workspace package named %s", name)
	}

	if rng == "" || rng == "*" {
		return pkg, nil
	}

	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return Package{}, pkgerr.Wrap(pkgerr.RangeInvalid, name, err)
	}
	version, err := semver.NewVersion(pkg.Version)
	if err != nil {
		return Package{}, pkgerr.Wrap(pkgerr.RangeInvalid, name, err)
	}
	if !constraint.Check(version) {
		return Package{}, pkgerr.New(pkgerr.RangeInvalid, "workspace package %s@%s does not satisfy %s", name, pkg.Version, rng)
	}

	return pkg, nil
}

// Names returns the discovered workspace package names.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	return names
}

// Len reports how many workspace packages were discovered.
func (s *Set) Len() int { return len(s.byName) }
