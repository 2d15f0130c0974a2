package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mjarn/repoq/internal/apperr"
	"github.com/mjarn/repoq/internal/nevra"
	"github.com/mjarn/repoq/internal/store"
)

// ResolveOptions control dependency traversal.
type ResolveOptions struct {
	// WeakDeps includes suggests/recommends/enhances/supplements edges.
	WeakDeps bool
	// Recursive follows requirements of resolved packages until the
	// visited set saturates. Ignored when Depth is set.
	Recursive bool
	// Depth bounds traversal to that many edge levels from the targets;
	// 0 means direct requirements only. Nil leaves traversal governed by
	// Recursive.
	Depth *int
	// Arch, when set, excludes candidates whose arch is neither Arch nor
	// noarch.
	Arch string
}

// DependencySet is the result of a resolution pass. Unresolved requirements
// are data, not errors: the caller decides whether they are fatal.
type DependencySet struct {
	// Selected are the best candidates for the requested targets.
	Selected []store.Package
	// Resolved are the packages pulled in to satisfy requirements,
	// excluding the targets themselves.
	Resolved []store.Package
	// Unresolved are requirement strings with no provider in scope.
	Unresolved []string
}

// All returns the selected and resolved packages together.
func (ds *DependencySet) All() []store.Package {
	out := make([]store.Package, 0, len(ds.Selected)+len(ds.Resolved))
	out = append(out, ds.Selected...)
	out = append(out, ds.Resolved...)
	return out
}

// Resolve expands each target to its best candidate and walks the dependency
// graph per opts. Targets match like search patterns; of the matches the
// highest version wins, ties broken by earliest-added repository. An empty
// target list is a structural error.
func Resolve(db *store.DB, targets []string, scope store.Scope, opts ResolveOptions) (*DependencySet, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("query: resolve: empty target list: %w", apperr.ErrInvalidInput)
	}

	ds := &DependencySet{}
	visited := make(map[string]bool)
	var frontier []store.Package

	for _, target := range targets {
		pkgs, err := searchOne(db, target, scope, false)
		if err != nil {
			return nil, err
		}
		pkgs = filterArch(pkgs, opts.Arch)
		if len(pkgs) == 0 {
			ds.Unresolved = append(ds.Unresolved, target)
			continue
		}
		best := pkgs[0]
		for _, p := range pkgs[1:] {
			if betterCandidate(p, best) {
				best = p
			}
		}
		if visited[visitKey(best)] {
			continue
		}
		visited[visitKey(best)] = true
		ds.Selected = append(ds.Selected, best)
		frontier = append(frontier, best)
	}

	kinds := []string{store.DepRequires}
	if opts.WeakDeps {
		kinds = append(kinds, store.WeakDepKinds...)
	}

	level := 0
	for len(frontier) > 0 {
		if opts.Depth != nil && level > *opts.Depth {
			break
		}
		next, err := resolveLevel(db, frontier, scope, kinds, opts.Arch, visited, ds)
		if err != nil {
			return nil, err
		}
		level++
		frontier = next
		if opts.Depth == nil && !opts.Recursive {
			break
		}
	}

	sort.Strings(ds.Unresolved)
	ds.Unresolved = dedupeStrings(ds.Unresolved)
	return ds, nil
}

// resolveLevel satisfies one edge level: the requirements of every package in
// the frontier. Newly resolved packages form the next frontier.
func resolveLevel(db *store.DB, frontier []store.Package, scope store.Scope, kinds []string, arch string, visited map[string]bool, ds *DependencySet) ([]store.Package, error) {
	var next []store.Package
	for _, pkg := range frontier {
		deps, err := db.DepsOf(pkg.Key, kinds...)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			best, found, err := bestProvider(db, dep, scope, arch)
			if err != nil {
				return nil, err
			}
			if !found {
				ds.Unresolved = append(ds.Unresolved, requirementString(dep))
				continue
			}
			if visited[visitKey(best)] {
				continue
			}
			visited[visitKey(best)] = true
			ds.Resolved = append(ds.Resolved, best)
			next = append(next, best)
		}
	}
	return next, nil
}

// bestProvider finds the best package in scope satisfying one requirement.
// Capabilities are matched against provides rows and against package names
// (self-name is an implicit provide); path requirements against file rows.
func bestProvider(db *store.DB, dep store.Dep, scope store.Scope, arch string) (store.Package, bool, error) {
	req := dep.Requirement()
	var candidates []store.Package

	if strings.HasPrefix(dep.Name, "/") {
		pkgs, err := db.ProvidersForFile(dep.Name, scope)
		if err != nil {
			return store.Package{}, false, err
		}
		candidates = pkgs
	} else {
		provs, err := db.ProvidersFor(dep.Name, scope)
		if err != nil {
			return store.Package{}, false, err
		}
		for _, pr := range provs {
			if req.Satisfies(pr.EVR()) {
				candidates = append(candidates, pr.Package)
			}
		}
		named, err := db.PackagesByName(dep.Name, scope)
		if err != nil {
			return store.Package{}, false, err
		}
		for _, p := range named {
			if req.Satisfies(p.EVR()) {
				candidates = append(candidates, p)
			}
		}
	}

	candidates = filterArch(dedupeByKey(candidates), arch)
	if len(candidates) == 0 {
		return store.Package{}, false, nil
	}
	best := candidates[0]
	for _, p := range candidates[1:] {
		if betterCandidate(p, best) {
			best = p
		}
	}
	return best, true, nil
}

// filterArch keeps candidates matching the requested arch or noarch. An empty
// filter keeps everything.
func filterArch(pkgs []store.Package, arch string) []store.Package {
	if arch == "" {
		return pkgs
	}
	out := pkgs[:0]
	for _, p := range pkgs {
		if p.Arch == arch || p.Arch == "noarch" {
			out = append(out, p)
		}
	}
	return out
}

func visitKey(p store.Package) string {
	return p.Name + "\x00" + p.Arch
}

// requirementString renders a dep row the way rpm tooling prints it, for the
// unresolved list.
func requirementString(d store.Dep) string {
	if d.Flags == "" || d.Version == "" {
		return d.Name
	}
	op := map[string]string{
		nevra.FlagEQ: "=",
		nevra.FlagLT: "<",
		nevra.FlagLE: "<=",
		nevra.FlagGT: ">",
		nevra.FlagGE: ">=",
	}[d.Flags]
	if op == "" {
		return d.Name
	}
	v := d.Version
	if d.Epoch != "" && d.Epoch != "0" {
		v = d.Epoch + ":" + v
	}
	if d.Release != "" {
		v += "-" + d.Release
	}
	return d.Name + " " + op + " " + v
}

func dedupeStrings(ss []string) []string {
	out := ss[:0]
	var last string
	for i, s := range ss {
		if i > 0 && s == last {
			continue
		}
		out = append(out, s)
		last = s
	}
	return out
}
