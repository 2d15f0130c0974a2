// Package store provides the SQLite-backed unified repodata store: configured
// repositories, imported packages, and their dependency and file rows.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS repositories (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL UNIQUE,
	base_url       TEXT NOT NULL,
	repomd_url     TEXT NOT NULL DEFAULT 'repodata/repomd.xml',
	type           TEXT NOT NULL DEFAULT 'binary' CHECK (type IN ('binary', 'source')),
	source_repo_id INTEGER REFERENCES repositories(id),
	last_synced    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS packages (
	pkgKey         INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_id        INTEGER NOT NULL REFERENCES repositories(id),
	pkgId          TEXT NOT NULL DEFAULT '',
	name           TEXT NOT NULL,
	epoch          TEXT NOT NULL DEFAULT '0',
	version        TEXT NOT NULL DEFAULT '',
	release        TEXT NOT NULL DEFAULT '',
	arch           TEXT NOT NULL DEFAULT '',
	summary        TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	checksum_type  TEXT NOT NULL DEFAULT '',
	size_package   INTEGER NOT NULL DEFAULT 0,
	size_installed INTEGER NOT NULL DEFAULT 0,
	size_archive   INTEGER NOT NULL DEFAULT 0,
	location_href  TEXT NOT NULL DEFAULT '',
	location_base  TEXT NOT NULL DEFAULT '',
	rpm_sourcerpm  TEXT NOT NULL DEFAULT '',
	UNIQUE (name, epoch, version, release, arch, repo_id)
);

CREATE INDEX IF NOT EXISTS idx_packages_name      ON packages(name);
CREATE INDEX IF NOT EXISTS idx_packages_name_arch ON packages(name, arch);
CREATE INDEX IF NOT EXISTS idx_packages_repo      ON packages(repo_id);

CREATE TABLE IF NOT EXISTS deps (
	pkgKey  INTEGER NOT NULL REFERENCES packages(pkgKey),
	kind    TEXT NOT NULL,
	name    TEXT NOT NULL,
	flags   TEXT NOT NULL DEFAULT '',
	epoch   TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	release TEXT NOT NULL DEFAULT '',
	pre     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_deps_pkg  ON deps(pkgKey, kind);
CREATE INDEX IF NOT EXISTS idx_deps_name ON deps(kind, name);

CREATE TABLE IF NOT EXISTS files (
	pkgKey INTEGER NOT NULL REFERENCES packages(pkgKey),
	path   TEXT NOT NULL,
	type   TEXT NOT NULL DEFAULT 'file'
);

CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
CREATE INDEX IF NOT EXISTS idx_files_pkg  ON files(pkgKey);
`

// DB wraps a sql.DB with unified-store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the unified SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Scope restricts queries to a set of repository ids. A nil Scope means all
// configured repositories.
type Scope []int64

func scopeClause(scope Scope, column string) (string, []any) {
	if len(scope) == 0 {
		return "", nil
	}
	args := make([]any, len(scope))
	ph := ""
	for i, id := range scope {
		if i > 0 {
			ph += ", "
		}
		ph += "?"
		args[i] = id
	}
	return fmt.Sprintf("%s IN (%s)", column, ph), args
}
