// Package testutil provides shared test helpers for setting up package
// databases and repository fixtures.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/mjarn/repoq/internal/store"
)

// TestDB creates a temporary package database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "repoq-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRepo registers a binary repository and returns it.
func TestRepo(t *testing.T, db *store.DB, name, baseURL string) store.Repo {
	t.Helper()
	repo, err := db.AddRepo(store.Repo{
		Name:      name,
		BaseURL:   baseURL,
		RepomdURL: "repodata/repomd.xml",
		Kind:      store.KindBinary,
	})
	if err != nil {
		t.Fatal(err)
	}
	return repo
}

// Logger returns a logger that discards all output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
