package metadata

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mjarn/repoq/internal/store"
)

// Report carries per-relation row counts from one import, for observability.
type Report struct {
	Packages int
	Deps     map[string]int
	Files    int
}

// Importer writes package sets from a metadata Source into the unified
// store. Each import is transactional and replace-all-for-repo: the previous
// generation owned by the repository is deleted and the new one inserted in
// a single transaction, so a sync is idempotent and a failure never leaves a
// mix of two generations visible.
type Importer struct {
	db     *store.DB
	logger *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(db *store.DB, logger *slog.Logger) *Importer {
	return &Importer{db: db, logger: logger}
}

// Import replaces the package set owned by repoID with the contents of src.
// On any error the transaction is rolled back and the prior store state is
// preserved.
func (im *Importer) Import(repoID int64, src Source) (*Report, error) {
	batch, err := im.db.BeginImport(repoID)
	if err != nil {
		return nil, err
	}

	report := &Report{Deps: make(map[string]int)}
	err = src.ForEach(func(e *PackageEntry) error {
		key, err := batch.InsertPackage(e.Package)
		if err != nil {
			return err
		}
		if err := batch.InsertDeps(key, e.Deps); err != nil {
			return err
		}
		if err := batch.InsertFiles(key, e.Files); err != nil {
			return err
		}
		report.Packages++
		for _, d := range e.Deps {
			report.Deps[d.Kind]++
		}
		report.Files += len(e.Files)
		return nil
	})
	if err != nil {
		batch.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("metadata: import repo %d: %w", repoID, err)
	}

	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("metadata: commit import: %w", err)
	}
	if err := im.db.TouchRepo(repoID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	im.logger.Info("import complete",
		slog.Int64("repo_id", repoID),
		slog.Int("packages", report.Packages),
		slog.Int("requires", report.Deps[store.DepRequires]),
		slog.Int("provides", report.Deps[store.DepProvides]),
		slog.Int("files", report.Files))
	return report, nil
}
