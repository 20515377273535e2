// Package resolve picks a concrete version out of a candidate set for
// a range or an OR-of-ranges, and resolves distribution tags to exact
// versions. It is the resolver component: the range grammar itself is
// normalized by internal/semverrange before reaching here.
package resolve

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/pacmpkg/pacm/internal/pkgerr"
	"github.com/pacmpkg/pacm/internal/semverrange"
)

// Candidate is one version available to the resolver, paired with
// wherever its bytes live (a tarball URL, or a cache-relative marker —
// the resolver doesn't care which, it just needs something to return).
type Candidate struct {
	Version    string
	TarballURL string
}

// Picked is the result of a successful Pick.
type Picked struct {
	Version    string
	TarballURL string
}

// tagRe matches an alphanumeric token (plus ., _, -) that could name a
// distribution tag: it must not look like a parseable range and must
// not contain whitespace, "||", or ",".
var tagRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)

// IsDistTag reports whether spec is shaped like a distribution tag
// rather than a registry range. "latest" is excluded: callers handle
// it as the distinguished default tag separately.
func IsDistTag(spec string) bool {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "latest" {
		return false
	}
	if strings.ContainsAny(spec, " \t\n") || strings.Contains(spec, "||") || strings.Contains(spec, ",") {
		return false
	}
	if !tagRe.MatchString(spec) {
		return false
	}
	// A pure version number or a comparator-prefixed token is a range,
	// not a tag, even though it matches the character class above.
	if semverrange.IsVersionLike(spec) {
		return false
	}
	if strings.ContainsAny(spec[:1], "^~><=*") {
		return false
	}
	return true
}

// splitAlternatives splits an OR-of-ranges expression on "||",
// trimming whitespace from each alternative.
func splitAlternatives(rng string) []string {
	parts := strings.Split(rng, "||")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Pick selects the highest version among candidates that satisfies
// rng, honoring the OR-of-ranges grammar. Candidates are considered in
// descending semver order; ties are broken by taking the first (i.e.
// the highest) match. Prerelease versions are matched only when an
// alternative's canonicalized constraint itself names a prerelease, a
// property Masterminds/semver/v3 already enforces in Constraint.Check.
func Pick(candidates []Candidate, rng string) (Picked, error) {
	type versioned struct {
		v *semver.Version
		c Candidate
	}

	vs := make([]versioned, 0, len(candidates))
	for _, c := range candidates {
		v, err := semver.NewVersion(c.Version)
		if err != nil {
			continue
		}
		vs = append(vs, versioned{v: v, c: c})
	}
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].v.GreaterThan(vs[j].v) })

	alts := splitAlternatives(rng)
	if len(alts) == 0 {
		alts = []string{rng}
	}

	constraints := make([]*semver.Constraints, 0, len(alts))
	for _, alt := range alts {
		norm := semverrange.Canonicalize(alt)
		con, err := semver.NewConstraint(norm)
		if err != nil {
			continue
		}
		constraints = append(constraints, con)
	}
	if len(constraints) == 0 {
		return Picked{}, pkgerr.New(pkgerr.RangeInvalid, "no usable alternative in range %q", rng)
	}

	for _, entry := range vs {
		for _, con := range constraints {
			if con.Check(entry.v) {
				return Picked{Version: entry.c.Version, TarballURL: entry.c.TarballURL}, nil
			}
		}
	}

	return Picked{}, pkgerr.New(pkgerr.NoVersionMatches, "no candidate satisfies range %q", rng)
}

// ResolveTag looks up a distribution tag in a registry's dist-tags map.
func ResolveTag(distTags map[string]string, tag string) (string, error) {
	v, ok := distTags[tag]
	if !ok {
		return "", pkgerr.New(pkgerr.TagUnknown, "dist-tag %q not found", tag)
	}
	return v, nil
}

// ResolveLatest returns dist-tags["latest"] when present, wrapping the
// absence as TagUnknown so callers can fall back to ordinary range
// resolution against "*" when registry metadata lacks a "latest" tag.
func ResolveLatest(distTags map[string]string) (string, error) {
	v, ok := distTags["latest"]
	if !ok {
		return "", errors.WithStack(pkgerr.New(pkgerr.TagUnknown, "dist-tags has no \"latest\" entry"))
	}
	return v, nil
}
