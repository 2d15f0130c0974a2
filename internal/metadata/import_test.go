package metadata

import (
	"errors"
	"strings"
	"testing"

	"github.com/mjarn/repoq/internal/store"
	"github.com/mjarn/repoq/internal/testutil"
)

func TestImportFromXML(t *testing.T) {
	db := testutil.TestDB(t)
	repo := testutil.TestRepo(t, db, "fedora", "https://mirror.example/fedora")

	im := NewImporter(db, testutil.Logger())
	src := NewXMLSource(strings.NewReader(primaryXML), nil)
	defer src.Close()

	report, err := im.Import(repo.ID, src)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.Packages != 2 {
		t.Fatalf("report.Packages = %d, want 2", report.Packages)
	}
	if report.Deps[store.DepRequires] != 2 || report.Deps[store.DepProvides] != 3 {
		t.Fatalf("dep counts = %v", report.Deps)
	}
	if report.Files != 2 {
		t.Fatalf("report.Files = %d, want 2", report.Files)
	}

	n, err := db.CountForRepo(repo.ID)
	if err != nil {
		t.Fatalf("CountForRepo: %v", err)
	}
	if n != 2 {
		t.Fatalf("stored %d packages, want 2", n)
	}

	got, err := db.GetRepoByID(repo.ID)
	if err != nil {
		t.Fatalf("GetRepoByID: %v", err)
	}
	if got.LastSynced == "" {
		t.Fatal("LastSynced not updated after import")
	}
}

func TestImportFromSqlite(t *testing.T) {
	db := testutil.TestDB(t)
	repo := testutil.TestRepo(t, db, "fedora", "https://mirror.example/fedora")

	src, err := NewSqliteSource(buildPrimaryDB(t))
	if err != nil {
		t.Fatalf("NewSqliteSource: %v", err)
	}
	defer src.Close()

	report, err := NewImporter(db, testutil.Logger()).Import(repo.ID, src)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.Packages != 2 {
		t.Fatalf("report.Packages = %d, want 2", report.Packages)
	}
	if report.Deps[store.DepRecommends] != 1 {
		t.Fatalf("recommends count = %d, want 1", report.Deps[store.DepRecommends])
	}
}

// The two encodings describe the same packages; the SQLite one additionally
// carries weak dependencies, which primary.xml does not encode.
func TestImportEncodingsAgreeExceptWeakDeps(t *testing.T) {
	importInto := func(t *testing.T, src Source) (*store.DB, store.Repo) {
		t.Helper()
		db := testutil.TestDB(t)
		repo := testutil.TestRepo(t, db, "fedora", "https://mirror.example/fedora")
		if _, err := NewImporter(db, testutil.Logger()).Import(repo.ID, src); err != nil {
			t.Fatalf("Import: %v", err)
		}
		return db, repo
	}

	xmlDB, xmlRepo := importInto(t, NewXMLSource(strings.NewReader(primaryXML), nil))
	sqliteSrc, err := NewSqliteSource(buildPrimaryDB(t))
	if err != nil {
		t.Fatalf("NewSqliteSource: %v", err)
	}
	defer sqliteSrc.Close()
	dbDB, dbRepo := importInto(t, sqliteSrc)

	deps := func(db *store.DB, repoID int64, kinds ...string) int {
		pkgs, err := db.PackagesByName("bash", store.Scope{repoID})
		if err != nil || len(pkgs) != 1 {
			t.Fatalf("PackagesByName bash: %v (%d)", err, len(pkgs))
		}
		ds, err := db.DepsOf(pkgs[0].Key, kinds...)
		if err != nil {
			t.Fatalf("DepsOf: %v", err)
		}
		return len(ds)
	}

	if a, b := deps(xmlDB, xmlRepo.ID, store.DepRequires), deps(dbDB, dbRepo.ID, store.DepRequires); a != b {
		t.Fatalf("requires differ: xml %d, sqlite %d", a, b)
	}
	if got := deps(xmlDB, xmlRepo.ID, store.WeakDepKinds...); got != 0 {
		t.Fatalf("xml import carried %d weak deps, want 0", got)
	}
	if got := deps(dbDB, dbRepo.ID, store.WeakDepKinds...); got != 1 {
		t.Fatalf("sqlite import carried %d weak deps, want 1", got)
	}
}

func TestImportSourceErrorRollsBack(t *testing.T) {
	db := testutil.TestDB(t)
	repo := testutil.TestRepo(t, db, "fedora", "https://mirror.example/fedora")
	im := NewImporter(db, testutil.Logger())

	first := NewXMLSource(strings.NewReader(primaryXML), nil)
	if _, err := im.Import(repo.ID, first); err != nil {
		t.Fatalf("Import: %v", err)
	}
	first.Close()

	// Truncated document: count mismatch fails the import mid-stream.
	broken := strings.Replace(primaryXML, `packages="2"`, `packages="5"`, 1)
	second := NewXMLSource(strings.NewReader(broken), nil)
	defer second.Close()
	_, err := im.Import(repo.ID, second)
	if err == nil {
		t.Fatal("expected import error")
	}
	var ie *ImportError
	if !errors.As(err, &ie) {
		t.Fatalf("error %v is not an *ImportError", err)
	}

	n, err := db.CountForRepo(repo.ID)
	if err != nil {
		t.Fatalf("CountForRepo: %v", err)
	}
	if n != 2 {
		t.Fatalf("prior generation lost: %d packages, want 2", n)
	}
}
