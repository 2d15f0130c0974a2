package metadata

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// buildPrimaryDB writes a minimal createrepo-style primary_db fixture with
// two packages, weak dependencies included.
func buildPrimaryDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "primary.sqlite")
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer conn.Close()

	stmts := []string{
		`CREATE TABLE packages (
			pkgKey INTEGER PRIMARY KEY, pkgId TEXT, name TEXT, arch TEXT,
			version TEXT, epoch TEXT, release TEXT, summary TEXT, description TEXT,
			url TEXT, checksum_type TEXT, size_package INTEGER, size_installed INTEGER,
			size_archive INTEGER, location_href TEXT, location_base TEXT, rpm_sourcerpm TEXT
		)`,
		`CREATE TABLE provides (name TEXT, flags TEXT, epoch TEXT, version TEXT, release TEXT, pkgKey INTEGER)`,
		`CREATE TABLE requires (name TEXT, flags TEXT, epoch TEXT, version TEXT, release TEXT, pkgKey INTEGER, pre BOOLEAN DEFAULT FALSE)`,
		`CREATE TABLE recommends (name TEXT, flags TEXT, epoch TEXT, version TEXT, release TEXT, pkgKey INTEGER)`,
		`CREATE TABLE files (name TEXT, type TEXT, pkgKey INTEGER)`,
		`INSERT INTO packages VALUES (1, 'aaaa', 'bash', 'x86_64', '5.2.26', '0', '3.fc40',
			'The GNU Bourne Again shell', 'Bash is the shell.', 'https://www.gnu.org/software/bash',
			'sha256', 1000, 2000, 2100, 'Packages/b/bash-5.2.26-3.fc40.x86_64.rpm', NULL,
			'bash-5.2.26-3.fc40.src.rpm')`,
		`INSERT INTO packages VALUES (2, 'bbbb', 'glibc', 'x86_64', '2.39', NULL, '1.fc40',
			'The GNU C Library', 'Core libraries.', NULL,
			'sha256', 3000, 9000, 9100, 'Packages/g/glibc-2.39-1.fc40.x86_64.rpm', NULL, NULL)`,
		`INSERT INTO provides VALUES ('bash', 'EQ', '0', '5.2.26', '3.fc40', 1)`,
		`INSERT INTO provides VALUES ('/bin/sh', NULL, NULL, NULL, NULL, 1)`,
		`INSERT INTO provides VALUES ('glibc', 'EQ', '0', '2.39', '1.fc40', 2)`,
		`INSERT INTO requires VALUES ('glibc', 'GE', '0', '2.34', NULL, 1, 'FALSE')`,
		`INSERT INTO requires VALUES ('filesystem', NULL, NULL, NULL, NULL, 1, 'TRUE')`,
		`INSERT INTO recommends VALUES ('bash-completion', NULL, NULL, NULL, NULL, 1)`,
		`INSERT INTO files VALUES ('/usr/bin/bash', 'file', 1)`,
		`INSERT INTO files VALUES ('/usr/share/doc/bash', 'dir', 1)`,
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("fixture stmt %q: %v", stmt, err)
		}
	}
	return path
}

func collectSqlite(t *testing.T, path string) []*PackageEntry {
	t.Helper()
	src, err := NewSqliteSource(path)
	if err != nil {
		t.Fatalf("NewSqliteSource: %v", err)
	}
	defer src.Close()

	var entries []*PackageEntry
	if err := src.ForEach(func(e *PackageEntry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	return entries
}

func TestSqliteSourcePackages(t *testing.T) {
	entries := collectSqlite(t, buildPrimaryDB(t))
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	bash := entries[0]
	if bash.Package.Name != "bash" || bash.Package.Arch != "x86_64" {
		t.Fatalf("unexpected package: %+v", bash.Package)
	}
	if bash.Package.SourceRPM != "bash-5.2.26-3.fc40.src.rpm" {
		t.Fatalf("unexpected sourcerpm: %q", bash.Package.SourceRPM)
	}

	glibc := entries[1]
	if glibc.Package.Epoch != "0" {
		t.Fatalf("NULL epoch should normalize to 0, got %q", glibc.Package.Epoch)
	}
	if glibc.Package.URL != "" || glibc.Package.SourceRPM != "" {
		t.Fatalf("NULL text columns should normalize to empty: %+v", glibc.Package)
	}
}

func TestSqliteSourceDeps(t *testing.T) {
	entries := collectSqlite(t, buildPrimaryDB(t))
	bash := entries[0]

	byKind := map[string]int{}
	var preSeen bool
	for _, d := range bash.Deps {
		byKind[d.Kind]++
		if d.Kind == "requires" && d.Name == "filesystem" {
			preSeen = d.Pre
		}
		if d.Kind == "requires" && d.Name == "glibc" && d.Pre {
			t.Fatal("glibc requirement should not be pre")
		}
	}
	if byKind["provides"] != 2 || byKind["requires"] != 2 || byKind["recommends"] != 1 {
		t.Fatalf("dep counts = %v", byKind)
	}
	if !preSeen {
		t.Fatal("filesystem requirement should be pre")
	}
}

func TestSqliteSourceFiles(t *testing.T) {
	entries := collectSqlite(t, buildPrimaryDB(t))
	bash := entries[0]
	if len(bash.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(bash.Files))
	}
	if bash.Files[1].Path != "/usr/share/doc/bash" || bash.Files[1].Type != "dir" {
		t.Fatalf("unexpected file: %+v", bash.Files[1])
	}
}

func TestSqliteSourceNotPrimaryDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.sqlite")
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := conn.Exec(`CREATE TABLE filelist (id INTEGER)`); err != nil {
		t.Fatalf("exec: %v", err)
	}
	conn.Close()

	if _, err := NewSqliteSource(path); err == nil {
		t.Fatal("expected error for database without packages table")
	}
}

func TestSqliteSourceMissingFile(t *testing.T) {
	if _, err := NewSqliteSource(filepath.Join(t.TempDir(), "absent.sqlite")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
