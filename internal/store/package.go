package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mjarn/repoq/internal/apperr"
	"github.com/mjarn/repoq/internal/nevra"
)

// Dependency relation kinds. Requires, Suggests and Recommends are needed-by
// edges; Provides, Enhances and Supplements are satisfies edges; Conflicts
// and Obsoletes are exclusion edges.
const (
	DepRequires    = "requires"
	DepProvides    = "provides"
	DepConflicts   = "conflicts"
	DepObsoletes   = "obsoletes"
	DepSuggests    = "suggests"
	DepRecommends  = "recommends"
	DepEnhances    = "enhances"
	DepSupplements = "supplements"
)

// WeakDepKinds are the informative dependency kinds that only participate in
// resolution when weak dependencies are requested.
var WeakDepKinds = []string{DepSuggests, DepRecommends, DepEnhances, DepSupplements}

// Package represents a row in the packages table.
type Package struct {
	Key           int64
	RepoID        int64
	PkgID         string
	Name          string
	Epoch         string
	Version       string
	Release       string
	Arch          string
	Summary       string
	Description   string
	URL           string
	ChecksumType  string
	SizePackage   int64
	SizeInstalled int64
	SizeArchive   int64
	LocationHref  string
	LocationBase  string
	SourceRPM     string
}

// NEVRA returns the package's identity tuple.
func (p Package) NEVRA() nevra.NEVRA {
	return nevra.NEVRA{Name: p.Name, Epoch: p.Epoch, Version: p.Version, Release: p.Release, Arch: p.Arch}
}

// EVR returns the package's version triple for comparison.
func (p Package) EVR() nevra.EVR {
	return p.NEVRA().EVR()
}

// Dep represents a row in the deps table.
type Dep struct {
	PkgKey  int64
	Kind    string
	Name    string
	Flags   string
	Epoch   string
	Version string
	Release string
	Pre     bool
}

// Requirement converts a needed-by dep row into a matchable requirement.
func (d Dep) Requirement() nevra.Requirement {
	return nevra.Requirement{Name: d.Name, Flag: d.Flags, Epoch: d.Epoch, Version: d.Version, Release: d.Release}
}

// File represents a row in the files table.
type File struct {
	PkgKey int64
	Path   string
	Type   string
}

const packageColumns = `pkgKey, repo_id, pkgId, name, epoch, version, release, arch,
	summary, description, url, checksum_type,
	size_package, size_installed, size_archive,
	location_href, location_base, rpm_sourcerpm`

func scanPackage(s rowScanner) (Package, error) {
	var p Package
	err := s.Scan(&p.Key, &p.RepoID, &p.PkgID, &p.Name, &p.Epoch, &p.Version, &p.Release, &p.Arch,
		&p.Summary, &p.Description, &p.URL, &p.ChecksumType,
		&p.SizePackage, &p.SizeInstalled, &p.SizeArchive,
		&p.LocationHref, &p.LocationBase, &p.SourceRPM)
	return p, err
}

func (db *DB) queryPackages(query string, args ...any) ([]Package, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query packages: %w", err)
	}
	defer rows.Close()

	var out []Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PackageByKey returns a single package row, or apperr.ErrNotFound.
func (db *DB) PackageByKey(key int64) (Package, error) {
	p, err := scanPackage(db.conn.QueryRow(`SELECT `+packageColumns+` FROM packages WHERE pkgKey = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return Package{}, apperr.ErrNotFound
	}
	if err != nil {
		return Package{}, fmt.Errorf("store: package by key: %w", err)
	}
	return p, nil
}

// PackagesByName returns all packages with the exact name within scope,
// ordered by repository insertion order.
func (db *DB) PackagesByName(name string, scope Scope) ([]Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE name = ?`
	args := []any{name}
	if clause, cargs := scopeClause(scope, "repo_id"); clause != "" {
		query += " AND " + clause
		args = append(args, cargs...)
	}
	query += " ORDER BY repo_id, pkgKey"
	return db.queryPackages(query, args...)
}

// PackagesGlob returns packages whose name matches the shell-style glob
// pattern. With broad set, description and url participate in the match too.
func (db *DB) PackagesGlob(pattern string, broad bool, scope Scope) ([]Package, error) {
	match := `name GLOB ?`
	args := []any{pattern}
	if broad {
		match = `(name GLOB ? OR description GLOB ? OR url GLOB ?)`
		args = append(args, pattern, pattern)
	}
	query := `SELECT ` + packageColumns + ` FROM packages WHERE ` + match
	if clause, cargs := scopeClause(scope, "repo_id"); clause != "" {
		query += " AND " + clause
		args = append(args, cargs...)
	}
	query += " ORDER BY repo_id, pkgKey"
	return db.queryPackages(query, args...)
}

// PackagesSubstring returns packages whose name contains the pattern,
// case-insensitively. With broad set, description and url participate too.
func (db *DB) PackagesSubstring(pattern string, broad bool, scope Scope) ([]Package, error) {
	like := "%" + escapeLike(pattern) + "%"
	match := `LOWER(name) LIKE LOWER(?) ESCAPE '\'`
	args := []any{like}
	if broad {
		match = `(LOWER(name) LIKE LOWER(?) ESCAPE '\' OR LOWER(description) LIKE LOWER(?) ESCAPE '\' OR LOWER(url) LIKE LOWER(?) ESCAPE '\')`
		args = append(args, like, like)
	}
	query := `SELECT ` + packageColumns + ` FROM packages WHERE ` + match
	if clause, cargs := scopeClause(scope, "repo_id"); clause != "" {
		query += " AND " + clause
		args = append(args, cargs...)
	}
	query += " ORDER BY repo_id, pkgKey"
	return db.queryPackages(query, args...)
}

// PackagesByNEVRA returns packages matching the parsed NEVRA exactly. Fields
// absent from the NEVRA are not constrained; epoch defaults to "0".
func (db *DB) PackagesByNEVRA(n nevra.NEVRA, scope Scope) ([]Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE name = ?`
	args := []any{n.Name}
	if n.Version != "" {
		e := n.Epoch
		if e == "" {
			e = "0"
		}
		query += ` AND epoch = ? AND version = ? AND release = ? AND arch = ?`
		args = append(args, e, n.Version, n.Release, n.Arch)
	}
	if clause, cargs := scopeClause(scope, "repo_id"); clause != "" {
		query += " AND " + clause
		args = append(args, cargs...)
	}
	query += " ORDER BY repo_id, pkgKey"
	return db.queryPackages(query, args...)
}

// ProvidersFor returns packages within scope that carry a provides row for
// the capability name, together with the provide's version columns so the
// caller can check the requirement against them.
func (db *DB) ProvidersFor(capability string, scope Scope) ([]Provider, error) {
	query := `
		SELECT ` + prefixColumns("p", packageColumns) + `, d.flags, d.epoch, d.version, d.release
		FROM deps d JOIN packages p ON p.pkgKey = d.pkgKey
		WHERE d.kind = ? AND d.name = ?`
	args := []any{DepProvides, capability}
	if clause, cargs := scopeClause(scope, "p.repo_id"); clause != "" {
		query += " AND " + clause
		args = append(args, cargs...)
	}
	query += " ORDER BY p.repo_id, p.pkgKey"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: providers for %q: %w", capability, err)
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		var pr Provider
		err := rows.Scan(&pr.Package.Key, &pr.Package.RepoID, &pr.Package.PkgID, &pr.Package.Name,
			&pr.Package.Epoch, &pr.Package.Version, &pr.Package.Release, &pr.Package.Arch,
			&pr.Package.Summary, &pr.Package.Description, &pr.Package.URL, &pr.Package.ChecksumType,
			&pr.Package.SizePackage, &pr.Package.SizeInstalled, &pr.Package.SizeArchive,
			&pr.Package.LocationHref, &pr.Package.LocationBase, &pr.Package.SourceRPM,
			&pr.Flags, &pr.Epoch, &pr.Version, &pr.Release)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// Provider pairs a package with the version columns of the provides row that
// matched a capability lookup.
type Provider struct {
	Package Package
	Flags   string
	Epoch   string
	Version string
	Release string
}

// EVR returns the provide's own version triple; capability entries without a
// structured version yield an empty triple.
func (pr Provider) EVR() nevra.EVR {
	e := pr.Epoch
	if e == "" && pr.Version != "" {
		e = "0"
	}
	return nevra.EVR{Epoch: e, Version: pr.Version, Release: pr.Release}
}

// ProvidersForFile returns packages within scope owning the given file path,
// for whatprovides-style path queries.
func (db *DB) ProvidersForFile(path string, scope Scope) ([]Package, error) {
	query := `
		SELECT ` + prefixColumns("p", packageColumns) + `
		FROM files f JOIN packages p ON p.pkgKey = f.pkgKey
		WHERE f.path = ?`
	args := []any{path}
	if clause, cargs := scopeClause(scope, "p.repo_id"); clause != "" {
		query += " AND " + clause
		args = append(args, cargs...)
	}
	query += " ORDER BY p.repo_id, p.pkgKey"
	return db.queryPackages(query, args...)
}

// DepsOf returns dependency rows of the given kinds for one package.
func (db *DB) DepsOf(pkgKey int64, kinds ...string) ([]Dep, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(kinds)), ", ")
	args := []any{pkgKey}
	for _, k := range kinds {
		args = append(args, k)
	}
	rows, err := db.conn.Query(`
		SELECT pkgKey, kind, name, flags, epoch, version, release, pre
		FROM deps WHERE pkgKey = ? AND kind IN (`+ph+`)
		ORDER BY rowid
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: deps of %d: %w", pkgKey, err)
	}
	defer rows.Close()

	var out []Dep
	for rows.Next() {
		var d Dep
		if err := rows.Scan(&d.PkgKey, &d.Kind, &d.Name, &d.Flags, &d.Epoch, &d.Version, &d.Release, &d.Pre); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FilesOf returns the file rows owned by one package.
func (db *DB) FilesOf(pkgKey int64) ([]File, error) {
	rows, err := db.conn.Query(`SELECT pkgKey, path, type FROM files WHERE pkgKey = ? ORDER BY rowid`, pkgKey)
	if err != nil {
		return nil, fmt.Errorf("store: files of %d: %w", pkgKey, err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.PkgKey, &f.Path, &f.Type); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountForRepo returns the number of package rows owned by a repository.
func (db *DB) CountForRepo(repoID int64) (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT count(*) FROM packages WHERE repo_id = ?`, repoID).Scan(&n)
	return n, err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// prefixColumns qualifies each column in a comma-separated list with a table
// alias for use in joins.
func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
