package store

import (
	"database/sql"
	"fmt"
)

// ImportBatch is a replace-all-for-repo write transaction. BeginImport wipes
// every row the repository owns (explicit cascade) and subsequent inserts
// build the new generation; nothing is visible to readers until Commit, so
// re-importing is idempotent and a failed import leaves the prior state
// intact.
type ImportBatch struct {
	tx     *sql.Tx
	repoID int64
}

// BeginImport starts a replace-all transaction for one repository.
func (db *DB) BeginImport(repoID int64) (*ImportBatch, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin import: %w", err)
	}
	if err := wipeRepoPackages(tx, repoID); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	return &ImportBatch{tx: tx, repoID: repoID}, nil
}

// InsertPackage inserts one package row owned by the batch's repository and
// returns its pkgKey. A missing epoch is stored as "0".
func (b *ImportBatch) InsertPackage(p Package) (int64, error) {
	if p.Epoch == "" {
		p.Epoch = "0"
	}
	res, err := b.tx.Exec(`
		INSERT INTO packages (repo_id, pkgId, name, epoch, version, release, arch,
			summary, description, url, checksum_type,
			size_package, size_installed, size_archive,
			location_href, location_base, rpm_sourcerpm)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.repoID, p.PkgID, p.Name, p.Epoch, p.Version, p.Release, p.Arch,
		p.Summary, p.Description, p.URL, p.ChecksumType,
		p.SizePackage, p.SizeInstalled, p.SizeArchive,
		p.LocationHref, p.LocationBase, p.SourceRPM)
	if err != nil {
		return 0, fmt.Errorf("store: insert package %s: %w", p.Name, err)
	}
	return res.LastInsertId()
}

// InsertDeps inserts dependency rows owned by pkgKey.
func (b *ImportBatch) InsertDeps(pkgKey int64, deps []Dep) error {
	if len(deps) == 0 {
		return nil
	}
	stmt, err := b.tx.Prepare(`
		INSERT INTO deps (pkgKey, kind, name, flags, epoch, version, release, pre)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare dep insert: %w", err)
	}
	defer stmt.Close()
	for _, d := range deps {
		if _, err := stmt.Exec(pkgKey, d.Kind, d.Name, d.Flags, d.Epoch, d.Version, d.Release, d.Pre); err != nil {
			return fmt.Errorf("store: insert dep %s/%s: %w", d.Kind, d.Name, err)
		}
	}
	return nil
}

// InsertFiles inserts file ownership rows owned by pkgKey.
func (b *ImportBatch) InsertFiles(pkgKey int64, files []File) error {
	if len(files) == 0 {
		return nil
	}
	stmt, err := b.tx.Prepare(`INSERT INTO files (pkgKey, path, type) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare file insert: %w", err)
	}
	defer stmt.Close()
	for _, f := range files {
		if _, err := stmt.Exec(pkgKey, f.Path, f.Type); err != nil {
			return fmt.Errorf("store: insert file %s: %w", f.Path, err)
		}
	}
	return nil
}

// Commit makes the new generation visible.
func (b *ImportBatch) Commit() error {
	return b.tx.Commit()
}

// Rollback discards the batch, restoring the prior generation.
func (b *ImportBatch) Rollback() error {
	return b.tx.Rollback()
}
