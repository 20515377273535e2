// Package linker materializes CAS store entries into a project's
// node_modules tree and generates executable bin shims.
package linker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"github.com/termie/go-shutil"
	"golang.org/x/sync/errgroup"

	"github.com/pacmpkg/pacm/internal/fsutil"
	"github.com/pacmpkg/pacm/internal/manifest"
	"github.com/pacmpkg/pacm/internal/pkgerr"
	"github.com/pacmpkg/pacm/internal/pkgname"
)

// LinkMode is the per-package materialization outcome.
type LinkMode string

const (
	ModeLink LinkMode = "link"
	ModeCopy LinkMode = "copy"
)

// Instance is one entry of a materialization plan: a resolved package's
// store-backed package/ tree, to be installed under node_modules.
type Instance struct {
	Name       string
	PackageDir string // the store entry's package/ tree
	ForceCopy  bool   // true when the install was configured to always deep-copy
}

// Outcome reports what happened when materializing one Instance.
type Outcome struct {
	Name string
	Mode LinkMode
	Err  error
}

// Materialize realizes every instance in plan under
// projectRoot/node_modules, concurrently (destinations are disjoint),
// then regenerates node_modules/.bin from the resulting manifests.
func Materialize(ctx context.Context, projectRoot string, plan map[string]Instance) ([]Outcome, error) {
	nodeModules := filepath.Join(projectRoot, "node_modules")
	if err := os.MkdirAll(nodeModules, 0777); err != nil {
		return nil, errors.Wrapf(err, "creating %s", nodeModules)
	}

	names := make([]string, 0, len(plan))
	for name := range plan {
		names = append(names, name)
	}

	outcomes := make([]Outcome, len(names))
	g, _ := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		inst := plan[name]
		g.Go(func() error {
			dest := filepath.Join(append([]string{nodeModules}, pkgname.Segments(name)...)...)
			mode, err := materializeOne(inst, dest)
			outcomes[i] = Outcome{Name: name, Mode: mode, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := regenerateBinShims(nodeModules, plan); err != nil {
		return outcomes, err
	}

	return outcomes, nil
}

func materializeOne(inst Instance, dest string) (LinkMode, error) {
	if err := os.RemoveAll(dest); err != nil {
		return "", pkgerr.Wrap(pkgerr.LinkFailure, inst.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0777); err != nil {
		return "", pkgerr.Wrap(pkgerr.LinkFailure, inst.Name, err)
	}

	if inst.ForceCopy {
		cfg := &shutil.CopyTreeOptions{Symlinks: true, CopyFunction: shutil.Copy}
		if err := shutil.CopyTree(inst.PackageDir, dest, cfg); err != nil {
			return "", pkgerr.Wrap(pkgerr.LinkFailure, inst.Name, err)
		}
		return ModeCopy, nil
	}

	allLinked, err := linkTree(inst.PackageDir, dest)
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.LinkFailure, inst.Name, err)
	}
	if allLinked {
		return ModeLink, nil
	}
	return ModeCopy, nil
}

// linkTree recreates src's directory structure at dest, hard-linking
// each file and falling back to a copy when linking fails. It reports
// whether every file in the tree was successfully hard-linked.
func linkTree(src, dest string) (bool, error) {
	if err := os.MkdirAll(dest, 0777); err != nil {
		return false, err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return false, err
	}

	allLinked := true
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		destPath := filepath.Join(dest, entry.Name())

		if entry.Type()&os.ModeSymlink != 0 {
			target, err := os.Readlink(srcPath)
			if err != nil {
				return false, err
			}
			if err := os.Symlink(target, destPath); err != nil {
				return false, err
			}
			allLinked = false
			continue
		}

		if entry.IsDir() {
			childLinked, err := linkTree(srcPath, destPath)
			if err != nil {
				return false, err
			}
			allLinked = allLinked && childLinked
			continue
		}

		linked, err := fsutil.HardLinkOrCopy(srcPath, destPath)
		if err != nil {
			return false, err
		}
		allLinked = allLinked && linked
	}

	return allLinked, nil
}

// regenerateBinShims reads each materialized package's manifest and
// (re)creates node_modules/.bin shims for every bin entry it declares.
func regenerateBinShims(nodeModules string, plan map[string]Instance) error {
	binDir := filepath.Join(nodeModules, ".bin")
	if err := os.RemoveAll(binDir); err != nil {
		return pkgerr.Wrap(pkgerr.ShimFailure, ".bin", err)
	}
	if err := os.MkdirAll(binDir, 0777); err != nil {
		return pkgerr.Wrap(pkgerr.ShimFailure, ".bin", err)
	}

	for name := range plan {
		dest := filepath.Join(append([]string{nodeModules}, pkgname.Segments(name)...)...)
		m, err := manifest.Load(filepath.Join(dest, "package.json"))
		if err != nil {
			continue
		}
		bins, err := m.Bins()
		if err != nil || len(bins) == 0 {
			continue
		}
		for binName, relTarget := range bins {
			targetAbs := filepath.Join(dest, relTarget)
			relFromBin, err := filepath.Rel(binDir, targetAbs)
			if err != nil {
				return pkgerr.Wrap(pkgerr.ShimFailure, binName, err)
			}
			relFromBin = filepath.ToSlash(relFromBin)
			if err := writeShim(binDir, binName, relFromBin); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeShim(binDir, binName, relTarget string) error {
	shimPath := filepath.Join(binDir, binName)

	if runtime.GOOS == "windows" {
		self, err := os.Executable()
		if err != nil {
			return pkgerr.Wrap(pkgerr.ShimFailure, binName, err)
		}
		exePath := shimPath + ".exe"
		if err := fsutil.CopyFile(self, exePath); err != nil {
			return pkgerr.Wrap(pkgerr.ShimFailure, binName, err)
		}
		if err := os.WriteFile(exePath+".shim", []byte(relTarget), 0644); err != nil {
			return pkgerr.Wrap(pkgerr.ShimFailure, binName, err)
		}
		return nil
	}

	script := "#!/bin/sh\nbasedir=$(dirname \"$0\")\nexec node \"$basedir/" + relTarget + "\" \"$@\"\n"
	if err := os.WriteFile(shimPath, []byte(script), 0755); err != nil {
		return pkgerr.Wrap(pkgerr.ShimFailure, binName, err)
	}
	return nil
}

// ResolveBin resolves a bare command name the way `run` does: a local
// node_modules/.bin/<name> shim takes precedence over $PATH.
func ResolveBin(projectRoot, name string) (string, error) {
	local := filepath.Join(projectRoot, "node_modules", ".bin", name)
	if fi, err := os.Stat(local); err == nil && !fi.IsDir() {
		return local, nil
	}

	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		candidate := filepath.Join(dir, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}

	return "", pkgerr.New(pkgerr.LinkFailure, "no binary named %q found in node_modules/.bin or $PATH", name)
}
