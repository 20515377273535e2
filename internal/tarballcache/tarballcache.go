// Package tarballcache implements the raw, per-(name, version) extracted
// package cache: given tarball bytes, it verifies integrity and
// extracts them once, keyed by package identity, never mutating an
// entry afterward.
package tarballcache

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha512"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/pacmpkg/pacm/internal/fsutil"
	"github.com/pacmpkg/pacm/internal/pkgerr"
	"github.com/pacmpkg/pacm/internal/pkgname"
)

// Cache is a tarball cache rooted at Root. It is safe for concurrent
// use across goroutines and processes: every publish is a rename of a
// freshly-extracted temporary sibling into its final, name-scoped path.
type Cache struct {
	Root string
}

// New returns a Cache rooted at root, creating it if necessary.
func New(root string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(root, "pkgs"), 0777); err != nil {
		return nil, errors.Wrapf(err, "creating tarball cache root %s", root)
	}
	return &Cache{Root: root}, nil
}

// PackageDir returns <root>/pkgs/<segments-of-name>, the directory
// holding every cached version of name.
func (c *Cache) PackageDir(name string) string {
	parts := append([]string{c.Root, "pkgs"}, pkgname.Segments(name)...)
	return filepath.Join(parts...)
}

// VersionDir returns the canonical extracted-package-tree root for
// (name, version): <cache-root>/pkgs/<segments>/<version>/package.
func (c *Cache) VersionDir(name, version string) string {
	return filepath.Join(c.PackageDir(name), version, "package")
}

// Has reports whether (name, version) is already present in the cache.
func (c *Cache) Has(name, version string) bool {
	fi, err := os.Stat(c.VersionDir(name, version))
	return err == nil && fi.IsDir()
}

// Ensure makes sure (name, version)'s extracted tree is present,
// returning the computed (or verified) integrity string. tarballBytes
// is the raw .tgz payload; hintIntegrity, if it is a "sha512-" string,
// is checked against the computed digest before extraction (a hint in
// any other form is not checked).
func (c *Cache) Ensure(name, version string, tarballBytes []byte, hintIntegrity string) (string, error) {
	subject := name + "@" + version
	sum := sha512.Sum512(tarballBytes)
	computed := "sha512-" + base64.StdEncoding.EncodeToString(sum[:])

	if hintIntegrity != "" && strings.HasPrefix(hintIntegrity, "sha512-") {
		wantRaw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(hintIntegrity, "sha512-"))
		if err != nil {
			return "", pkgerr.Wrap(pkgerr.IntegrityMismatch, subject, errors.Wrap(err, "decoding integrity hint"))
		}
		if string(wantRaw) != string(sum[:]) {
			return "", pkgerr.New(pkgerr.IntegrityMismatch, "%s: computed digest does not match supplied integrity", subject)
		}
	}

	dest := c.VersionDir(name, version)
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		if hintIntegrity != "" {
			return hintIntegrity, nil
		}
		return computed, nil
	}

	tmp, err := os.MkdirTemp(filepath.Dir(dest), "."+version+"-")
	if err != nil {
		return "", errors.Wrapf(err, "staging tarball cache entry for %s", subject)
	}
	defer os.RemoveAll(tmp)

	extractedRoot, err := extractTarball(tarballBytes, tmp)
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.CachePoisoned, subject, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0777); err != nil {
		return "", errors.Wrapf(err, "creating parent of %s", dest)
	}
	if err := fsutil.RenameWithFallback(extractedRoot, dest); err != nil {
		if fi, serr := os.Stat(dest); serr == nil && fi.IsDir() {
			// A concurrent producer won the race; converge on its result.
			if hintIntegrity != "" {
				return hintIntegrity, nil
			}
			return computed, nil
		}
		return "", errors.Wrapf(err, "publishing tarball cache entry for %s", subject)
	}

	if hintIntegrity != "" {
		return hintIntegrity, nil
	}
	return computed, nil
}

// ExtractToTemp extracts tarballBytes into a scratch directory outside
// any cache entry's canonical path and returns the promoted package
// root, plus a cleanup function the caller must run once done. It is
// used for sources whose final version identity (git-host, remote
// tarball) isn't known until the manifest inside the tarball has been
// read.
func (c *Cache) ExtractToTemp(tarballBytes []byte) (dir string, cleanup func(), err error) {
	tmp, err := os.MkdirTemp(filepath.Join(c.Root, "pkgs"), ".peek-")
	if err != nil {
		return "", nil, errors.Wrap(err, "staging temporary extraction")
	}
	cleanup = func() { os.RemoveAll(tmp) }

	root, err := extractTarball(tarballBytes, tmp)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return root, cleanup, nil
}

// extractTarball extracts a gzip-compressed tar archive into stagingDir
// and returns the path to the promoted "package/" tree. Entries whose
// paths contain a parent-traversal component are rejected outright, and
// the conventional registry-tarball "package/" prefix is stripped (or,
// if the archive instead wraps everything in a single other directory
// that itself contains a package manifest at its root, that directory
// is promoted instead).
func extractTarball(tarballBytes []byte, stagingDir string) (string, error) {
	gz, err := gzip.NewReader(strings.NewReader(string(tarballBytes)))
	if err != nil {
		return "", errors.Wrap(err, "opening gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	rawRoot := filepath.Join(stagingDir, "raw")
	if err := os.MkdirAll(rawRoot, 0777); err != nil {
		return "", err
	}

	topLevelDirs := map[string]bool{}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrap(err, "reading tar entry")
		}

		cleaned := filepath.Clean(hdr.Name)
		if cleaned == "." || cleaned == ".." {
			continue
		}
		if hasParentTraversal(filepath.FromSlash(hdr.Name)) {
			return "", errors.Errorf("tar entry %q escapes archive root", hdr.Name)
		}

		if first := firstSegment(cleaned); first != "" {
			topLevelDirs[first] = true
		}

		target := filepath.Join(rawRoot, cleaned)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0777); err != nil {
				return "", err
			}
		case tar.TypeReg, tar.TypeRegA:
			if err := os.MkdirAll(filepath.Dir(target), 0777); err != nil {
				return "", err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode&0777|0200))
			if err != nil {
				return "", err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return "", err
			}
			f.Close()
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0777); err != nil {
				return "", err
			}
			_ = os.Symlink(hdr.Linkname, target)
		default:
			// skip devices, fifos, etc.
		}
	}

	// The conventional case: a single "package/" top-level directory.
	if topLevelDirs["package"] {
		return filepath.Join(rawRoot, "package"), nil
	}

	// A single inner directory with a manifest at its root is promoted.
	if len(topLevelDirs) == 1 {
		for dir := range topLevelDirs {
			candidate := filepath.Join(rawRoot, dir)
			if _, err := os.Stat(filepath.Join(candidate, "package.json")); err == nil {
				return candidate, nil
			}
		}
	}

	if _, err := os.Stat(filepath.Join(rawRoot, "package.json")); err == nil {
		return rawRoot, nil
	}

	return "", pkgerr.New(pkgerr.CachePoisoned, "no package manifest found at tarball root")
}

func hasParentTraversal(cleaned string) bool {
	for _, seg := range strings.Split(cleaned, string(filepath.Separator)) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func firstSegment(cleaned string) string {
	parts := strings.SplitN(cleaned, string(filepath.Separator), 2)
	return parts[0]
}

// CachedVersions lists the cached versions of name, sorted descending.
func (c *Cache) CachedVersions(name string) ([]string, error) {
	entries, err := os.ReadDir(c.PackageDir(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "listing cached versions of %s", name)
	}

	type versioned struct {
		raw string
		v   *semver.Version
	}
	var vs []versioned
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := semver.NewVersion(e.Name())
		if err != nil {
			continue
		}
		vs = append(vs, versioned{raw: e.Name(), v: v})
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].v.GreaterThan(vs[j].v) })

	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.raw
	}
	return out, nil
}
