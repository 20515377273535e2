// Package store implements the content-addressed package store: a
// convergent, append-only cache of extracted package trees keyed by
// name, version, and the bottom-up hash of the package's resolved
// dependency graph.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/pacmpkg/pacm/internal/fsutil"
	"github.com/pacmpkg/pacm/internal/pkgname"
)

// Dependency is one entry of a node's sorted dependency fingerprint set,
// as fed into graph-hash computation: the immediate dependency's name,
// resolved version, and its own (already computed) graph hash.
type Dependency struct {
	Name      string
	Version   string
	GraphHash string
}

// Entry is the metadata record persisted as metadata.json alongside
// every store entry's package/ tree.
type Entry struct {
	StoreKey     string       `json:"store_key"`
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	GraphHash    string       `json:"graph_hash"`
	ContentHash  string       `json:"content_hash"`
	Size         int64        `json:"size"`
	CreatedAt    time.Time    `json:"created_at"`
	Integrity    string       `json:"integrity,omitempty"`
	Resolved     string       `json:"resolved,omitempty"`
	Dependencies []Dependency `json:"dependencies"`
}

// EnsureInput is the argument to Ensure.
type EnsureInput struct {
	Name         string
	Version      string
	Dependencies []Dependency
	SourceDir    string
	Integrity    string
	Resolved     string
}

// Store is a CAS store rooted at Root.
type Store struct {
	Root string
}

// New returns a Store rooted at root, creating its packages/ and tmp/
// subdirectories if necessary.
func New(root string) (*Store, error) {
	for _, sub := range []string{"packages", "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0777); err != nil {
			return nil, errors.Wrapf(err, "creating store %s", sub)
		}
	}
	return &Store{Root: root}, nil
}

// GraphHash computes a node's graph_hash from its sorted dependency
// fingerprint set: H(serialize(sort_by_name([{name, version,
// store_key: graph_key(Di)}]))), where graph_key(D) =
// "<name>@<version>::<graph_hash(D)>".
func GraphHash(deps []Dependency) string {
	sorted := make([]Dependency, len(deps))
	copy(sorted, deps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	for _, d := range sorted {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", d.Name, d.Version, graphKey(d))
	}
	return "sha256-" + hex.EncodeToString(h.Sum(nil))
}

func graphKey(d Dependency) string {
	return fmt.Sprintf("%s@%s::%s", d.Name, d.Version, d.GraphHash)
}

// StoreKey formats the canonical "<name>@<version>::<graph-hash>"
// identity string for a node.
func StoreKey(name, version, graphHash string) string {
	return fmt.Sprintf("%s@%s::%s", name, version, graphHash)
}

// ParseStoreKey decomposes a store key back into its parts.
func ParseStoreKey(key string) (name, version, graphHash string, err error) {
	nameVersion, gh, ok := cutLast(key, "::")
	if !ok {
		return "", "", "", errors.Errorf("malformed store key %q: missing graph-hash separator", key)
	}
	n, v, ok := cutLast(nameVersion, "@")
	if !ok {
		return "", "", "", errors.Errorf("malformed store key %q: missing version separator", key)
	}
	return n, v, gh, nil
}

// cutLast splits s on the last occurrence of sep.
func cutLast(s, sep string) (before, after string, found bool) {
	idx := -1
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			idx = i
		}
	}
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+len(sep):], true
}

// path returns the final directory for a store entry: packages/<segments-
// of-name>/<last-segment>@<version>_<graph-hash>.
func (s *Store) path(name, version, graphHash string) string {
	parts := append([]string{s.Root, "packages"}, pkgname.Segments(name)...)
	leaf := fmt.Sprintf("%s@%s_%s", pkgname.LastSegment(name), version, graphHash)
	parts = append(parts, leaf)
	return filepath.Join(parts...)
}

// Ensure materializes a CAS entry for in, returning its metadata. If an
// entry already exists at the computed path, it is loaded and returned
// without touching in.SourceDir.
func (s *Store) Ensure(in EnsureInput) (Entry, error) {
	graphHash := GraphHash(in.Dependencies)
	dest := s.path(in.Name, in.Version, graphHash)
	metaPath := filepath.Join(dest, "metadata.json")

	if entry, ok, err := readMetadata(metaPath); err != nil {
		return Entry{}, err
	} else if ok {
		return entry, nil
	}

	staging, err := os.MkdirTemp(filepath.Join(s.Root, "tmp"), pkgname.Sanitize(in.Name)+"-"+in.Version+"-")
	if err != nil {
		return Entry{}, errors.Wrap(err, "staging store entry")
	}
	defer os.RemoveAll(staging)

	packageDir := filepath.Join(staging, "package")
	if err := fsutil.CopyDir(in.SourceDir, packageDir); err != nil {
		return Entry{}, errors.Wrapf(err, "copying %s into store staging", in.SourceDir)
	}

	contentHash, err := fsutil.ContentHash(packageDir)
	if err != nil {
		return Entry{}, errors.Wrap(err, "computing content hash")
	}

	size, err := dirSize(packageDir)
	if err != nil {
		return Entry{}, errors.Wrap(err, "measuring store entry size")
	}

	entry := Entry{
		StoreKey:     StoreKey(in.Name, in.Version, graphHash),
		Name:         in.Name,
		Version:      in.Version,
		GraphHash:    graphHash,
		ContentHash:  contentHash,
		Size:         size,
		CreatedAt:    time.Now().UTC(),
		Integrity:    in.Integrity,
		Resolved:     in.Resolved,
		Dependencies: in.Dependencies,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return Entry{}, errors.Wrap(err, "marshaling store metadata")
	}
	if err := os.WriteFile(filepath.Join(staging, "metadata.json"), data, 0644); err != nil {
		return Entry{}, errors.Wrap(err, "writing store metadata")
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0777); err != nil {
		return Entry{}, errors.Wrapf(err, "creating parent of %s", dest)
	}
	if err := fsutil.RenameWithFallback(staging, dest); err != nil {
		if winner, ok, rerr := readMetadata(metaPath); rerr == nil && ok {
			return winner, nil
		}
		return Entry{}, errors.Wrapf(err, "finalizing store entry %s", entry.StoreKey)
	}

	return entry, nil
}

// Load looks up a store entry by its store key, returning ok=false if
// no entry exists at the decomposed path.
func (s *Store) Load(storeKey string) (Entry, bool, error) {
	name, version, graphHash, err := ParseStoreKey(storeKey)
	if err != nil {
		return Entry{}, false, err
	}
	return readMetadata(filepath.Join(s.path(name, version, graphHash), "metadata.json"))
}

// PackageDir returns the package/ tree root for an already-ensured
// entry, for use by the linker.
func (s *Store) PackageDir(name, version, graphHash string) string {
	return filepath.Join(s.path(name, version, graphHash), "package")
}

func readMetadata(path string) (Entry, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, errors.Wrapf(err, "reading %s", path)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, errors.Wrapf(err, "decoding %s", path)
	}
	return entry, true, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
