// Package query implements read-only lookups over the unified store: pattern
// search and dependency resolution. Both are safe to run concurrently with
// each other and with syncs of other repositories.
package query

import (
	"sort"
	"strings"

	"github.com/mjarn/repoq/internal/nevra"
	"github.com/mjarn/repoq/internal/store"
)

// SearchOptions control pattern matching and result shaping.
type SearchOptions struct {
	// Broad extends name matching to description and url.
	Broad bool
	// ShowDuplicates returns every matching record across every repository
	// in scope instead of collapsing to the best record per (name, arch).
	ShowDuplicates bool
}

// Search matches each pattern against the store and returns the union of the
// per-pattern results.
//
// Per pattern, the first matching rule wins: an exact NEVRA match when the
// pattern parses as a full NEVRA, a glob match when it carries * or ?, and a
// case-insensitive substring match otherwise. Without ShowDuplicates the
// result keeps one record per (name, arch), the highest-version one. Results
// are ordered by name ascending, then version descending, then repository
// insertion order.
func Search(db *store.DB, patterns []string, scope store.Scope, opts SearchOptions) ([]store.Package, error) {
	var matched []store.Package
	for _, pat := range patterns {
		pkgs, err := searchOne(db, pat, scope, opts.Broad)
		if err != nil {
			return nil, err
		}
		matched = append(matched, pkgs...)
	}

	matched = dedupeByKey(matched)
	if !opts.ShowDuplicates {
		matched = bestPerNameArch(matched)
	}
	sortResults(matched)
	return matched, nil
}

func searchOne(db *store.DB, pattern string, scope store.Scope, broad bool) ([]store.Package, error) {
	if n, err := nevra.Parse(pattern); err == nil && n.IsFull() {
		pkgs, err := db.PackagesByNEVRA(n, scope)
		if err != nil {
			return nil, err
		}
		if len(pkgs) > 0 {
			return pkgs, nil
		}
	}
	if strings.ContainsAny(pattern, "*?") {
		return db.PackagesGlob(pattern, broad, scope)
	}
	return db.PackagesSubstring(pattern, broad, scope)
}

// dedupeByKey removes rows matched by more than one pattern.
func dedupeByKey(pkgs []store.Package) []store.Package {
	seen := make(map[int64]bool, len(pkgs))
	out := pkgs[:0]
	for _, p := range pkgs {
		if seen[p.Key] {
			continue
		}
		seen[p.Key] = true
		out = append(out, p)
	}
	return out
}

// bestPerNameArch collapses the result to the best record per (name, arch):
// highest version first, then earliest-added repository, then lowest key.
func bestPerNameArch(pkgs []store.Package) []store.Package {
	best := make(map[string]store.Package, len(pkgs))
	var order []string
	for _, p := range pkgs {
		k := p.Name + "\x00" + p.Arch
		cur, ok := best[k]
		if !ok {
			best[k] = p
			order = append(order, k)
			continue
		}
		if betterCandidate(p, cur) {
			best[k] = p
		}
	}
	out := make([]store.Package, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// betterCandidate reports whether a should be preferred over b: higher
// version wins, ties go to the earliest-added repository, then the lower key.
func betterCandidate(a, b store.Package) bool {
	if c := nevra.Compare(a.EVR(), b.EVR()); c != 0 {
		return c > 0
	}
	if a.RepoID != b.RepoID {
		return a.RepoID < b.RepoID
	}
	return a.Key < b.Key
}

func sortResults(pkgs []store.Package) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		a, b := pkgs[i], pkgs[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if c := nevra.Compare(a.EVR(), b.EVR()); c != 0 {
			return c > 0
		}
		return a.RepoID < b.RepoID
	})
}
