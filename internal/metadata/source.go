package metadata

import "github.com/mjarn/repoq/internal/store"

// PackageEntry is one package record together with its relation sub-records,
// in the unified shape both encodings map to.
type PackageEntry struct {
	Package store.Package
	Deps    []store.Dep
	Files   []store.File
}

// Source is a read-only sequential enumeration of package records from one
// upstream metadata encoding. Implementations stream: they never require the
// whole document in memory.
type Source interface {
	// ForEach calls fn for every package in document order. A non-nil error
	// from fn stops the enumeration and is returned as-is; enumeration
	// errors are reported as *ImportError.
	ForEach(fn func(e *PackageEntry) error) error

	// Close releases any resources held by the source.
	Close() error
}
