// Package ops coordinates the registry, sync, search and resolve operations
// behind the CLI, HTTP and MCP surfaces.
package ops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mjarn/repoq/internal/apperr"
	"github.com/mjarn/repoq/internal/checksum"
	"github.com/mjarn/repoq/internal/metadata"
	"github.com/mjarn/repoq/internal/query"
	"github.com/mjarn/repoq/internal/store"
)

// EventFunc receives repository lifecycle notifications. kind is one of
// "repo.added", "repo.deleted", "repo.synced".
type EventFunc func(kind, repoName string)

// Service coordinates store and metadata operations.
type Service struct {
	db     *store.DB
	syncer *metadata.Syncer
	logger *slog.Logger

	// OnEvent, when set, is called after successful mutations.
	OnEvent EventFunc
}

// NewService creates a new repository service.
func NewService(db *store.DB, syncer *metadata.Syncer, logger *slog.Logger) *Service {
	return &Service{db: db, syncer: syncer, logger: logger}
}

func (s *Service) emit(kind, repoName string) {
	if s.OnEvent != nil {
		s.OnEvent(kind, repoName)
	}
}

// AddRepoParams describes a repository to register.
type AddRepoParams struct {
	Name       string `json:"name"`
	BaseURL    string `json:"base_url"`
	RepomdURL  string `json:"repomd_url,omitempty"`
	Kind       string `json:"kind,omitempty"`
	SourceRepo string `json:"source_repo,omitempty"`
	Sync       bool   `json:"sync,omitempty"`
}

// Validate checks the parameters before they touch storage.
func (p AddRepoParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 128)),
		validation.Field(&p.BaseURL, validation.Required),
		validation.Field(&p.Kind, validation.In("", store.KindBinary, store.KindSource)),
	)
}

// AddRepo registers a repository and optionally syncs it immediately.
func (s *Service) AddRepo(ctx context.Context, p AddRepoParams) (store.Repo, error) {
	if err := p.Validate(); err != nil {
		return store.Repo{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	r := store.Repo{
		Name:      p.Name,
		BaseURL:   p.BaseURL,
		RepomdURL: p.RepomdURL,
		Kind:      p.Kind,
	}
	if r.Kind == "" {
		r.Kind = store.KindBinary
	}
	repo, err := s.db.AddRepo(r)
	if err != nil {
		return store.Repo{}, err
	}
	if p.SourceRepo != "" {
		if err := s.db.LinkRepos(repo.Name, p.SourceRepo); err != nil {
			return store.Repo{}, err
		}
		repo, err = s.db.GetRepo(repo.Name)
		if err != nil {
			return store.Repo{}, err
		}
	}
	s.emit("repo.added", repo.Name)
	if p.Sync {
		if _, err := s.syncer.SyncRepo(ctx, repo); err != nil {
			return repo, err
		}
		s.emit("repo.synced", repo.Name)
		repo, err = s.db.GetRepo(repo.Name)
		if err != nil {
			return store.Repo{}, err
		}
	}
	return repo, nil
}

// ListRepos returns all repositories in creation order.
func (s *Service) ListRepos(_ context.Context) ([]store.Repo, error) {
	return s.db.ListRepos()
}

// RepoStatus pairs a repository with its stored package count.
type RepoStatus struct {
	Repo     store.Repo `json:"repo"`
	Packages int        `json:"packages"`
}

// ListRepoStatus returns all repositories with their package counts.
func (s *Service) ListRepoStatus(ctx context.Context) ([]RepoStatus, error) {
	repos, err := s.ListRepos(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RepoStatus, len(repos))
	for i, r := range repos {
		n, err := s.db.CountForRepo(r.ID)
		if err != nil {
			return nil, err
		}
		out[i] = RepoStatus{Repo: r, Packages: n}
	}
	return out, nil
}

// DeleteRepos removes repositories together with their packages. names and
// all are mutually exclusive selectors; passing both fails before any
// deletion. With force set, names that do not exist are skipped instead of
// failing the whole call. The deleted names are returned.
func (s *Service) DeleteRepos(_ context.Context, names []string, all, force bool) ([]string, error) {
	if all && len(names) > 0 {
		return nil, fmt.Errorf("%w: repository names and --all are mutually exclusive", apperr.ErrInvalidInput)
	}
	if !all && len(names) == 0 {
		return nil, fmt.Errorf("%w: no repositories selected", apperr.ErrInvalidInput)
	}

	var repos []store.Repo
	if all {
		var err error
		if repos, err = s.db.ListRepos(); err != nil {
			return nil, err
		}
	} else {
		for _, name := range names {
			r, err := s.db.GetRepo(name)
			if errors.Is(err, apperr.ErrNotFound) {
				if force {
					continue
				}
				return nil, fmt.Errorf("repository %q: %w", name, err)
			}
			if err != nil {
				return nil, err
			}
			repos = append(repos, r)
		}
	}

	var deleted []string
	for _, r := range repos {
		if err := s.db.DeleteRepo(r.ID); err != nil {
			return deleted, err
		}
		deleted = append(deleted, r.Name)
		s.emit("repo.deleted", r.Name)
	}
	return deleted, nil
}

// LinkRepos associates a binary repository with its source counterpart.
func (s *Service) LinkRepos(_ context.Context, binaryName, sourceName string) error {
	return s.db.LinkRepos(binaryName, sourceName)
}

// SyncResult reports one repository's sync outcome.
type SyncResult struct {
	Repo   string           `json:"repo"`
	Report *metadata.Report `json:"report,omitempty"`
	Err    error            `json:"-"`
}

// SyncRepos syncs the named repositories, or all of them. Different
// repositories sync concurrently; per-repository failures are reported in
// the results, not returned, so one bad mirror does not abort the rest.
func (s *Service) SyncRepos(ctx context.Context, names []string, all bool) ([]SyncResult, error) {
	var repos []store.Repo
	if all || len(names) == 0 {
		var err error
		if repos, err = s.db.ListRepos(); err != nil {
			return nil, err
		}
	} else {
		for _, name := range names {
			r, err := s.db.GetRepo(name)
			if err != nil {
				return nil, fmt.Errorf("repository %q: %w", name, err)
			}
			repos = append(repos, r)
		}
	}

	results := make([]SyncResult, len(repos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, r := range repos {
		i, r := i, r
		g.Go(func() error {
			report, err := s.syncer.SyncRepo(gctx, r)
			results[i] = SyncResult{Repo: r.Name, Report: report, Err: err}
			if err != nil {
				s.logger.Warn("sync failed", slog.String("repo", r.Name), slog.String("error", err.Error()))
				return nil
			}
			s.emit("repo.synced", r.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Scope resolves repository names to a store scope. An empty name list means
// all repositories (nil scope). An unknown name is a structural error.
func (s *Service) Scope(_ context.Context, names []string) (store.Scope, error) {
	if len(names) == 0 {
		return nil, nil
	}
	scope := make(store.Scope, 0, len(names))
	for _, name := range names {
		r, err := s.db.GetRepo(name)
		if err != nil {
			return nil, fmt.Errorf("repository %q: %w", name, err)
		}
		scope = append(scope, r.ID)
	}
	return scope, nil
}

// Search matches patterns against packages in the named repositories.
func (s *Service) Search(ctx context.Context, patterns, repos []string, opts query.SearchOptions) ([]store.Package, error) {
	scope, err := s.Scope(ctx, repos)
	if err != nil {
		return nil, err
	}
	return query.Search(s.db, patterns, scope, opts)
}

// Resolve expands targets and their dependencies within the named
// repositories.
func (s *Service) Resolve(ctx context.Context, targets, repos []string, opts query.ResolveOptions) (*query.DependencySet, error) {
	scope, err := s.Scope(ctx, repos)
	if err != nil {
		return nil, err
	}
	return query.Resolve(s.db, targets, scope, opts)
}

// PackageInfo is the full representation of a stored package.
type PackageInfo struct {
	Package store.Package `json:"package"`
	Repo    string        `json:"repo"`
	Deps    []store.Dep   `json:"deps,omitempty"`
	Files   []store.File  `json:"files,omitempty"`
}

// Info returns detailed records for every package matching the pattern.
func (s *Service) Info(ctx context.Context, pattern string, repos []string) ([]PackageInfo, error) {
	pkgs, err := s.Search(ctx, []string{pattern}, repos, query.SearchOptions{ShowDuplicates: true})
	if err != nil {
		return nil, err
	}
	repoNames := make(map[int64]string)
	out := make([]PackageInfo, 0, len(pkgs))
	for _, p := range pkgs {
		name, ok := repoNames[p.RepoID]
		if !ok {
			r, err := s.db.GetRepoByID(p.RepoID)
			if err != nil {
				return nil, err
			}
			name = r.Name
			repoNames[p.RepoID] = name
		}
		deps, err := s.db.DepsOf(p.Key,
			store.DepRequires, store.DepProvides, store.DepConflicts, store.DepObsoletes,
			store.DepSuggests, store.DepRecommends, store.DepEnhances, store.DepSupplements)
		if err != nil {
			return nil, err
		}
		files, err := s.db.FilesOf(p.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, PackageInfo{Package: p, Repo: name, Deps: deps, Files: files})
	}
	return out, nil
}

// PackageURL builds the download URL for one package: location_base when the
// metadata carries one, the repository base URL otherwise.
func (s *Service) PackageURL(p store.Package) (string, error) {
	base := p.LocationBase
	if base == "" {
		r, err := s.db.GetRepoByID(p.RepoID)
		if err != nil {
			return "", err
		}
		base = r.BaseURL
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p.LocationHref, "/"), nil
}

// SourceURL builds the download URL for a package's source RPM via the
// linked source repository.
func (s *Service) SourceURL(p store.Package) (string, error) {
	if p.SourceRPM == "" {
		return "", fmt.Errorf("package %s has no source rpm: %w", p.Name, apperr.ErrNotFound)
	}
	binRepo, err := s.db.GetRepoByID(p.RepoID)
	if err != nil {
		return "", err
	}
	if binRepo.LinkedRepoID == nil {
		return "", fmt.Errorf("repository %s has no linked source repository: %w", binRepo.Name, apperr.ErrNotFound)
	}
	srcRepo, err := s.db.GetRepoByID(*binRepo.LinkedRepoID)
	if err != nil {
		return "", err
	}
	// Source metadata names the SRPM by location; match on href basename.
	srpms, err := query.Search(s.db, []string{strings.TrimSuffix(p.SourceRPM, ".rpm")}, store.Scope{srcRepo.ID}, query.SearchOptions{ShowDuplicates: true})
	if err != nil {
		return "", err
	}
	for _, sp := range srpms {
		if filepath.Base(sp.LocationHref) == p.SourceRPM {
			return s.PackageURL(sp)
		}
	}
	return "", fmt.Errorf("source rpm %s not found in %s: %w", p.SourceRPM, srcRepo.Name, apperr.ErrNotFound)
}

// DownloadParams select packages to materialize on disk.
type DownloadParams struct {
	Targets []string
	Repos   []string
	Resolve query.ResolveOptions
	// WithDeps downloads resolved dependencies along with the targets.
	WithDeps bool
	// Source downloads source RPMs instead of binary packages.
	Source bool
	// Dir receives the downloaded files.
	Dir string
	// URLsOnly skips the transfer and just returns the URLs.
	URLsOnly bool
}

// Download resolves targets and fetches their packages into params.Dir. It
// returns the URLs it processed.
func (s *Service) Download(ctx context.Context, client *http.Client, params DownloadParams) ([]string, error) {
	ds, err := s.Resolve(ctx, params.Targets, params.Repos, params.Resolve)
	if err != nil {
		return nil, err
	}
	pkgs := ds.Selected
	if params.WithDeps {
		pkgs = ds.All()
	}

	var urls []string
	var sums []string
	for _, p := range pkgs {
		var u string
		if params.Source {
			u, err = s.SourceURL(p)
		} else {
			u, err = s.PackageURL(p)
		}
		if err != nil {
			return urls, err
		}
		urls = append(urls, u)
		// The pkgId column carries the package digest. SRPM digests live
		// in the source repo metadata, so source downloads go unverified.
		if !params.Source && p.ChecksumType == "sha256" {
			sums = append(sums, p.PkgID)
		} else {
			sums = append(sums, "")
		}
	}
	if params.URLsOnly {
		return urls, nil
	}

	if client == nil {
		client = http.DefaultClient
	}
	if err := os.MkdirAll(params.Dir, 0o755); err != nil {
		return urls, err
	}
	for i, u := range urls {
		if err := downloadOne(ctx, client, u, params.Dir, sums[i]); err != nil {
			return urls, err
		}
		s.logger.Info("downloaded", slog.String("url", u))
	}
	return urls, nil
}

func downloadOne(ctx context.Context, client *http.Client, url, dir, wantSum string) error {
	dst := filepath.Join(dir, filepath.Base(url))

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		data, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
		return verifyDownload(dst, wantSum)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return verifyDownload(dst, wantSum)
}

// verifyDownload checks the file against its metadata digest. An empty
// wantSum means no digest was recorded for the package.
func verifyDownload(path, wantSum string) error {
	if wantSum == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	got, err := checksum.SumReader(f)
	if err != nil {
		return err
	}
	if got != wantSum {
		os.Remove(path)
		return fmt.Errorf("checksum mismatch for %s: got %s want %s", filepath.Base(path), got, wantSum)
	}
	return nil
}
