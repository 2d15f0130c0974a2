package metadata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/mjarn/repoq/internal/checksum"
	"github.com/mjarn/repoq/internal/store"
)

// Syncer brings one repository's unified rows up to date with its upstream
// metadata: it fetches repomd.xml, picks the preferred primary entry,
// validates and decompresses the blob, and hands the resulting Source to the
// Importer. Syncs of different repositories may run concurrently; syncing
// the same repository from two processes at once is unsupported and must
// serialize externally.
type Syncer struct {
	db       *store.DB
	importer *Importer
	client   *http.Client
	logger   *slog.Logger
}

// NewSyncer creates a Syncer using the given HTTP client (nil for the
// default client).
func NewSyncer(db *store.DB, client *http.Client, logger *slog.Logger) *Syncer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Syncer{
		db:       db,
		importer: NewImporter(db, logger),
		client:   client,
		logger:   logger,
	}
}

// SyncRepo replaces the repository's package set from its upstream metadata.
func (s *Syncer) SyncRepo(ctx context.Context, repo store.Repo) (*Report, error) {
	repomdURL := resolveURL(repo.BaseURL, repo.RepomdURL)
	s.logger.Info("sync: fetching repomd", slog.String("repo", repo.Name), slog.String("url", repomdURL))

	repomdBytes, err := s.fetch(ctx, repomdURL)
	if err != nil {
		return nil, &ImportError{Reason: "fetch repomd.xml", Err: err}
	}
	md, err := ParseRepomd(repomdBytes)
	if err != nil {
		return nil, err
	}
	entry, err := md.PrimaryEntry()
	if err != nil {
		return nil, err
	}

	blobURL := resolveURL(repo.BaseURL, entry.Location.Href)
	blob, err := s.fetch(ctx, blobURL)
	if err != nil {
		return nil, &ImportError{Reason: "fetch " + entry.Type, Err: err}
	}
	if want := entry.Checksum.Value; want != "" && entry.Checksum.Type == "sha256" {
		if got := checksum.Sum(blob); got != want {
			return nil, &ImportError{Reason: fmt.Sprintf("%s checksum mismatch: got %s, want %s", entry.Type, got, want)}
		}
	}

	src, cleanup, err := s.openSource(entry.Type, blob)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	if cleanup != nil {
		defer cleanup()
	}

	report, err := s.importer.Import(repo.ID, src)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sync: complete", slog.String("repo", repo.Name), slog.Int("packages", report.Packages))
	return report, nil
}

// openSource materializes a Source from the fetched blob: a temp file for
// the SQLite encoding, a decompressing stream for the XML one.
func (s *Syncer) openSource(entryType string, blob []byte) (Source, func(), error) {
	dr, err := Decompress(bytes.NewReader(blob))
	if err != nil {
		return nil, nil, err
	}

	if entryType == DataPrimaryDB {
		raw, err := io.ReadAll(dr)
		if err != nil {
			return nil, nil, &ImportError{Reason: "decompress primary_db", Err: err}
		}
		if !IsSQLite(raw) {
			return nil, nil, &ImportError{Reason: "primary_db is not a SQLite file"}
		}
		tmp, err := os.CreateTemp("", "repoq-primary-*.sqlite")
		if err != nil {
			return nil, nil, &ImportError{Reason: "write primary_db temp file", Err: err}
		}
		name := tmp.Name()
		if _, err := tmp.Write(raw); err != nil {
			tmp.Close()
			os.Remove(name)
			return nil, nil, &ImportError{Reason: "write primary_db temp file", Err: err}
		}
		tmp.Close()
		src, err := NewSqliteSource(name)
		if err != nil {
			os.Remove(name)
			return nil, nil, err
		}
		return src, func() { os.Remove(name) }, nil
	}

	return NewXMLSource(dr, nil), nil, nil
}

// fetch retrieves a URL over HTTP(S), or reads a local file for file:// URLs
// and bare paths (local mirrors).
func (s *Syncer) fetch(ctx context.Context, url string) ([]byte, error) {
	switch {
	case strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
		}
		return io.ReadAll(resp.Body)
	case strings.HasPrefix(url, "file://"):
		return os.ReadFile(strings.TrimPrefix(url, "file://"))
	default:
		return os.ReadFile(url)
	}
}

// resolveURL joins a relative href onto the repository base URL; absolute
// hrefs are returned unchanged.
func resolveURL(base, href string) string {
	if href == "" {
		return base
	}
	if strings.Contains(href, "://") {
		return href
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(href, "/")
}
