package api

import (
	"github.com/mjarn/repoq/internal/ops"
	"github.com/mjarn/repoq/internal/store"
)

// CreateRepoRequest is the request body for registering a repository.
type CreateRepoRequest = ops.AddRepoParams

// LinkReposRequest associates a binary repository with its source one.
type LinkReposRequest struct {
	Binary string `json:"binary" validate:"required"`
	Source string `json:"source" validate:"required"`
}

// RepoResponse is a single repository in API responses.
type RepoResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	BaseURL    string `json:"base_url"`
	RepomdURL  string `json:"repomd_url"`
	Kind       string `json:"kind"`
	SourceRepo string `json:"source_repo,omitempty"`
	LastSynced string `json:"last_synced,omitempty"`
	Packages   int    `json:"packages"`
}

// RepoListResponse wraps the repository listing.
type RepoListResponse struct {
	Repos []RepoResponse `json:"repos" validate:"required"`
}

// PackageResponse is a single package record in API responses.
type PackageResponse struct {
	Name     string `json:"name"`
	Epoch    string `json:"epoch"`
	Version  string `json:"version"`
	Release  string `json:"release"`
	Arch     string `json:"arch"`
	Summary  string `json:"summary,omitempty"`
	RepoID   int64  `json:"repo_id"`
	Location string `json:"location,omitempty"`
}

func packageResponse(p store.Package) PackageResponse {
	return PackageResponse{
		Name:     p.Name,
		Epoch:    p.Epoch,
		Version:  p.Version,
		Release:  p.Release,
		Arch:     p.Arch,
		Summary:  p.Summary,
		RepoID:   p.RepoID,
		Location: p.LocationHref,
	}
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Packages []PackageResponse `json:"packages" validate:"required"`
}

// ResolveRequest is the request body for dependency resolution.
type ResolveRequest struct {
	Targets  []string `json:"targets" validate:"required"`
	Repos    []string `json:"repos,omitempty"`
	WeakDeps bool     `json:"weak_deps,omitempty"`
	Recurse  bool     `json:"recursive,omitempty"`
	Depth    *int     `json:"depth,omitempty"`
	Arch     string   `json:"arch,omitempty"`
}

// ResolveResponse wraps a resolution result.
type ResolveResponse struct {
	Selected   []PackageResponse `json:"selected" validate:"required"`
	Resolved   []PackageResponse `json:"resolved" validate:"required"`
	Unresolved []string          `json:"unresolved" validate:"required"`
}

// SyncResponse reports per-repository sync outcomes.
type SyncResponse struct {
	Results []SyncResultResponse `json:"results" validate:"required"`
}

// SyncResultResponse is one repository's sync outcome.
type SyncResultResponse struct {
	Repo     string `json:"repo"`
	Packages int    `json:"packages,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DeleteResponse reports the repositories removed by a delete call.
type DeleteResponse struct {
	Deleted []string `json:"deleted" validate:"required"`
}
