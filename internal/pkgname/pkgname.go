// Package pkgname turns a package name ("pkg" or "@scope/pkg") into
// the path segments the tarball cache, CAS store, and linker each lay
// their directories out with.
package pkgname

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Segments splits a package name into path segments, preserving a
// scope as its own segment: "pkg" -> ["pkg"], "@scope/pkg" ->
// ["@scope", "pkg"].
func Segments(name string) []string {
	return strings.Split(name, "/")
}

// LastSegment returns the final path segment of name (the bare package
// name without its scope, if any).
func LastSegment(name string) string {
	seg := Segments(name)
	return seg[len(seg)-1]
}

// Sanitize produces a filesystem-safe token for name, used for staging
// directory names where slashes and other separators can't appear
// directly. It keeps the value recognizable (unlike a pure hash) while
// guaranteeing no path separators or "@" survive.
func Sanitize(name string) string {
	r := strings.NewReplacer("/", "-", "@", "", ":", "-")
	return r.Replace(name)
}

// ShortHash returns a short, filesystem-safe hex token derived from s,
// used to build the synthetic version of a remote-tarball source from
// its URL without embedding arbitrary bytes in a path.
func ShortHash(s string) string {
	return fmt.Sprintf("%08x", xxhash.Sum64String(s))
}
