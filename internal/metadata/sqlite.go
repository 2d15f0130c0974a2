package metadata

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mjarn/repoq/internal/store"
)

// relationTables maps repodata primary_db table names to unified dep kinds.
var relationTables = []string{
	store.DepProvides,
	store.DepRequires,
	store.DepConflicts,
	store.DepObsoletes,
	store.DepSuggests,
	store.DepEnhances,
	store.DepRecommends,
	store.DepSupplements,
}

// SqliteSource reads a repodata primary_db SQLite file. Rows are field-mapped
// 1:1 into the unified schema; the only transformation is type normalization
// (epoch/version/release as text, sizes as integers).
type SqliteSource struct {
	conn   *sql.DB
	tables map[string]bool
}

// NewSqliteSource opens a primary_db file read-only. It fails with
// *ImportError when the file is not a repodata database.
func NewSqliteSource(path string) (*SqliteSource, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, &ImportError{Reason: "open primary_db", Err: err}
	}
	s := &SqliteSource{conn: conn, tables: make(map[string]bool)}

	rows, err := conn.Query(`SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		conn.Close()
		return nil, &ImportError{Reason: "read primary_db schema", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			conn.Close()
			return nil, &ImportError{Reason: "read primary_db schema", Err: err}
		}
		s.tables[name] = true
	}
	if err := rows.Err(); err != nil {
		conn.Close()
		return nil, &ImportError{Reason: "read primary_db schema", Err: err}
	}
	if !s.tables["packages"] {
		conn.Close()
		return nil, &ImportError{Reason: "not a repodata primary_db: no packages table"}
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SqliteSource) Close() error {
	return s.conn.Close()
}

// ForEach enumerates packages in pkgKey order with their relation rows.
func (s *SqliteSource) ForEach(fn func(e *PackageEntry) error) error {
	rows, err := s.conn.Query(`
		SELECT pkgKey, COALESCE(pkgId, ''), name, COALESCE(epoch, '0'),
			COALESCE(version, ''), COALESCE(release, ''), COALESCE(arch, ''),
			COALESCE(summary, ''), COALESCE(description, ''), COALESCE(url, ''),
			COALESCE(checksum_type, ''),
			COALESCE(size_package, 0), COALESCE(size_installed, 0), COALESCE(size_archive, 0),
			COALESCE(location_href, ''), COALESCE(location_base, ''), COALESCE(rpm_sourcerpm, '')
		FROM packages ORDER BY pkgKey
	`)
	if err != nil {
		return &ImportError{Reason: "read primary_db packages", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var e PackageEntry
		var oldKey int64
		p := &e.Package
		err := rows.Scan(&oldKey, &p.PkgID, &p.Name, &p.Epoch, &p.Version, &p.Release, &p.Arch,
			&p.Summary, &p.Description, &p.URL, &p.ChecksumType,
			&p.SizePackage, &p.SizeInstalled, &p.SizeArchive,
			&p.LocationHref, &p.LocationBase, &p.SourceRPM)
		if err != nil {
			return &ImportError{Reason: "scan primary_db package", Err: err}
		}
		if e.Deps, err = s.depsFor(oldKey); err != nil {
			return err
		}
		if e.Files, err = s.filesFor(oldKey); err != nil {
			return err
		}
		if err := fn(&e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return &ImportError{Reason: "read primary_db packages", Err: err}
	}
	return nil
}

func (s *SqliteSource) depsFor(oldKey int64) ([]store.Dep, error) {
	var out []store.Dep
	for _, table := range relationTables {
		if !s.tables[table] {
			continue
		}
		query := fmt.Sprintf(`
			SELECT COALESCE(name, ''), COALESCE(flags, ''), COALESCE(epoch, ''),
				COALESCE(version, ''), COALESCE(release, '')%s
			FROM %s WHERE pkgKey = ?`, preColumn(table), table)
		rows, err := s.conn.Query(query, oldKey)
		if err != nil {
			return nil, &ImportError{Reason: "read primary_db " + table, Err: err}
		}
		for rows.Next() {
			d := store.Dep{Kind: table}
			var err error
			if table == store.DepRequires {
				var pre sql.NullString
				err = rows.Scan(&d.Name, &d.Flags, &d.Epoch, &d.Version, &d.Release, &pre)
				d.Pre = pre.String == "TRUE" || pre.String == "true" || pre.String == "1"
			} else {
				err = rows.Scan(&d.Name, &d.Flags, &d.Epoch, &d.Version, &d.Release)
			}
			if err != nil {
				rows.Close()
				return nil, &ImportError{Reason: "scan primary_db " + table, Err: err}
			}
			out = append(out, d)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, &ImportError{Reason: "read primary_db " + table, Err: err}
		}
		rows.Close()
	}
	return out, nil
}

func preColumn(table string) string {
	if table == store.DepRequires {
		return ", pre"
	}
	return ""
}

func (s *SqliteSource) filesFor(oldKey int64) ([]store.File, error) {
	if !s.tables["files"] {
		return nil, nil
	}
	rows, err := s.conn.Query(`SELECT COALESCE(name, ''), COALESCE(type, 'file') FROM files WHERE pkgKey = ?`, oldKey)
	if err != nil {
		return nil, &ImportError{Reason: "read primary_db files", Err: err}
	}
	defer rows.Close()

	var out []store.File
	for rows.Next() {
		var f store.File
		if err := rows.Scan(&f.Path, &f.Type); err != nil {
			return nil, &ImportError{Reason: "scan primary_db files", Err: err}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
