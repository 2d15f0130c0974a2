package store

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/mjarn/repoq/internal/apperr"
)

// Repository kinds.
const (
	KindBinary = "binary"
	KindSource = "source"
)

// Repo represents a row in the repositories table.
type Repo struct {
	ID           int64
	Name         string
	BaseURL      string
	RepomdURL    string
	Kind         string
	LinkedRepoID *int64
	LastSynced   string
}

// AddRepo inserts a new repository. It fails with apperr.ErrConflict when the
// name is already taken; changing an existing repository's kind requires an
// explicit delete and re-add.
func (db *DB) AddRepo(r Repo) (Repo, error) {
	if r.Kind != KindBinary && r.Kind != KindSource {
		return Repo{}, fmt.Errorf("store: add repo %q: kind must be %q or %q: %w", r.Name, KindBinary, KindSource, apperr.ErrInvalidInput)
	}
	var linked any
	if r.LinkedRepoID != nil {
		linked = *r.LinkedRepoID
	}
	res, err := db.conn.Exec(`
		INSERT INTO repositories (name, base_url, repomd_url, type, source_repo_id)
		VALUES (?, ?, ?, ?, ?)
	`, r.Name, r.BaseURL, r.RepomdURL, r.Kind, linked)
	if err != nil {
		if isUniqueViolation(err) {
			return Repo{}, fmt.Errorf("store: repo %q already exists: %w", r.Name, apperr.ErrConflict)
		}
		return Repo{}, fmt.Errorf("store: add repo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Repo{}, fmt.Errorf("store: add repo: %w", err)
	}
	r.ID = id
	return r, nil
}

// GetRepo returns the repository with the given name, or apperr.ErrNotFound.
func (db *DB) GetRepo(name string) (Repo, error) {
	return db.scanRepo(db.conn.QueryRow(`
		SELECT id, name, base_url, repomd_url, type, source_repo_id, last_synced
		FROM repositories WHERE name = ?
	`, name))
}

// GetRepoByID returns the repository with the given id, or apperr.ErrNotFound.
func (db *DB) GetRepoByID(id int64) (Repo, error) {
	return db.scanRepo(db.conn.QueryRow(`
		SELECT id, name, base_url, repomd_url, type, source_repo_id, last_synced
		FROM repositories WHERE id = ?
	`, id))
}

// ListRepos returns every configured repository in creation order.
func (db *DB) ListRepos() ([]Repo, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, base_url, repomd_url, type, source_repo_id, last_synced
		FROM repositories ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list repos: %w", err)
	}
	defer rows.Close()

	var out []Repo
	for rows.Next() {
		r, err := scanRepoRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRepo removes a repository and cascades: dependency and file rows of
// its packages first, then the packages, then the repository row itself. Any
// repository linked to the deleted one has its reference cleared rather than
// being deleted. The cascade is explicit so it does not depend on storage
// trigger support.
func (db *DB) DeleteRepo(id int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := wipeRepoPackages(tx, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE repositories SET source_repo_id = NULL WHERE source_repo_id = ?`, id); err != nil {
		return fmt.Errorf("store: clear links: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete repo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: repo id %d: %w", id, apperr.ErrNotFound)
	}
	return tx.Commit()
}

// LinkRepos associates a binary repository with its source counterpart. Both
// must exist and have the expected kinds.
func (db *DB) LinkRepos(binaryName, sourceName string) error {
	bin, err := db.GetRepo(binaryName)
	if err != nil {
		return fmt.Errorf("store: link: binary repo %q: %w", binaryName, err)
	}
	src, err := db.GetRepo(sourceName)
	if err != nil {
		return fmt.Errorf("store: link: source repo %q: %w", sourceName, err)
	}
	if bin.Kind != KindBinary {
		return fmt.Errorf("store: link: repo %q is not a binary repo: %w", binaryName, apperr.ErrInvalidInput)
	}
	if src.Kind != KindSource {
		return fmt.Errorf("store: link: repo %q is not a source repo: %w", sourceName, apperr.ErrInvalidInput)
	}
	if _, err := db.conn.Exec(`UPDATE repositories SET source_repo_id = ? WHERE id = ?`, src.ID, bin.ID); err != nil {
		return fmt.Errorf("store: link: %w", err)
	}
	return nil
}

// TouchRepo records the last successful sync time (RFC 3339 text).
func (db *DB) TouchRepo(id int64, ts string) error {
	if _, err := db.conn.Exec(`UPDATE repositories SET last_synced = ? WHERE id = ?`, ts, id); err != nil {
		return fmt.Errorf("store: touch repo: %w", err)
	}
	return nil
}

// wipeRepoPackages is the explicit cascade routine for everything a
// repository owns: deps and files keyed by the repository's packages, then
// the packages themselves. Child rows go first so the schema needs no
// trigger support.
func wipeRepoPackages(tx *sql.Tx, repoID int64) error {
	const sub = `SELECT pkgKey FROM packages WHERE repo_id = ?`
	if _, err := tx.Exec(`DELETE FROM deps WHERE pkgKey IN (`+sub+`)`, repoID); err != nil {
		return fmt.Errorf("store: wipe deps: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM files WHERE pkgKey IN (`+sub+`)`, repoID); err != nil {
		return fmt.Errorf("store: wipe files: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM packages WHERE repo_id = ?`, repoID); err != nil {
		return fmt.Errorf("store: wipe packages: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanRepo(row *sql.Row) (Repo, error) {
	r, err := scanRepoRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Repo{}, apperr.ErrNotFound
	}
	return r, err
}

func scanRepoRow(s rowScanner) (Repo, error) {
	var r Repo
	var linked sql.NullInt64
	if err := s.Scan(&r.ID, &r.Name, &r.BaseURL, &r.RepomdURL, &r.Kind, &linked, &r.LastSynced); err != nil {
		return Repo{}, err
	}
	if linked.Valid {
		v := linked.Int64
		r.LinkedRepoID = &v
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
