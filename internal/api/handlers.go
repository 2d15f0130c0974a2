package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mjarn/repoq/internal/apperr"
	"github.com/mjarn/repoq/internal/ops"
	"github.com/mjarn/repoq/internal/query"
)

// Handler holds API route handlers.
type Handler struct {
	svc *ops.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *ops.Service) *Handler {
	return &Handler{svc: svc}
}

func writeError(w http.ResponseWriter, err error, verb string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("already exists"))
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(verb+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func (h *Handler) repoResponses(r *http.Request) ([]RepoResponse, error) {
	statuses, err := h.svc.ListRepoStatus(r.Context())
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]string, len(statuses))
	for _, st := range statuses {
		byID[st.Repo.ID] = st.Repo.Name
	}
	out := make([]RepoResponse, len(statuses))
	for i, st := range statuses {
		resp := RepoResponse{
			ID:         st.Repo.ID,
			Name:       st.Repo.Name,
			BaseURL:    st.Repo.BaseURL,
			RepomdURL:  st.Repo.RepomdURL,
			Kind:       st.Repo.Kind,
			LastSynced: st.Repo.LastSynced,
			Packages:   st.Packages,
		}
		if st.Repo.LinkedRepoID != nil {
			resp.SourceRepo = byID[*st.Repo.LinkedRepoID]
		}
		out[i] = resp
	}
	return out, nil
}

// ListRepos handles GET /api/repos.
func (h *Handler) ListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.repoResponses(r)
	if err != nil {
		writeError(w, err, "list repos")
		return
	}
	if repos == nil {
		repos = []RepoResponse{}
	}
	writeJSON(w, http.StatusOK, RepoListResponse{Repos: repos})
}

// CreateRepo handles POST /api/repos.
func (h *Handler) CreateRepo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	repo, err := h.svc.AddRepo(r.Context(), req)
	if err != nil {
		writeError(w, err, "create repo")
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

// DeleteRepo handles DELETE /api/repos/{name}.
func (h *Handler) DeleteRepo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.svc.DeleteRepos(r.Context(), []string{name}, false, false); err != nil {
		writeError(w, err, "delete repo")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LinkRepos handles POST /api/repos/link.
func (h *Handler) LinkRepos(w http.ResponseWriter, r *http.Request) {
	var req LinkReposRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Binary == "" || req.Source == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("binary and source are required"))
		return
	}
	if err := h.svc.LinkRepos(r.Context(), req.Binary, req.Source); err != nil {
		writeError(w, err, "link repos")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncRepo handles POST /api/repos/{name}/sync.
func (h *Handler) SyncRepo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	results, err := h.svc.SyncRepos(r.Context(), []string{name}, false)
	if err != nil {
		writeError(w, err, "sync repo")
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(results))
}

// SyncAll handles POST /api/repos/sync.
func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.SyncRepos(r.Context(), nil, true)
	if err != nil {
		writeError(w, err, "sync repos")
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(results))
}

func syncResponse(results []ops.SyncResult) SyncResponse {
	out := SyncResponse{Results: make([]SyncResultResponse, len(results))}
	for i, res := range results {
		sr := SyncResultResponse{Repo: res.Repo}
		if res.Err != nil {
			sr.Error = res.Err.Error()
		} else if res.Report != nil {
			sr.Packages = res.Report.Packages
		}
		out.Results[i] = sr
	}
	return out
}

// Search handles GET /api/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	patterns := splitPatterns(q.Get("q"))
	if len(patterns) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	var repos []string
	if rs := q.Get("repos"); rs != "" {
		repos = strings.Split(rs, ",")
	}
	broad, _ := strconv.ParseBool(q.Get("broad"))
	dups, _ := strconv.ParseBool(q.Get("show_duplicates"))

	pkgs, err := h.svc.Search(r.Context(), patterns, repos, query.SearchOptions{Broad: broad, ShowDuplicates: dups})
	if err != nil {
		writeError(w, err, "search")
		return
	}
	resp := SearchResponse{Packages: make([]PackageResponse, len(pkgs))}
	for i, p := range pkgs {
		resp.Packages[i] = packageResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func splitPatterns(q string) []string {
	var out []string
	for _, s := range strings.Split(q, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Resolve handles POST /api/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	ds, err := h.svc.Resolve(r.Context(), req.Targets, req.Repos, query.ResolveOptions{
		WeakDeps:  req.WeakDeps,
		Recursive: req.Recurse,
		Depth:     req.Depth,
		Arch:      req.Arch,
	})
	if err != nil {
		writeError(w, err, "resolve")
		return
	}
	resp := ResolveResponse{
		Selected:   make([]PackageResponse, len(ds.Selected)),
		Resolved:   make([]PackageResponse, len(ds.Resolved)),
		Unresolved: ds.Unresolved,
	}
	for i, p := range ds.Selected {
		resp.Selected[i] = packageResponse(p)
	}
	for i, p := range ds.Resolved {
		resp.Resolved[i] = packageResponse(p)
	}
	if resp.Unresolved == nil {
		resp.Unresolved = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Info handles GET /api/packages/info.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'pattern' is required"))
		return
	}
	var repos []string
	if rs := r.URL.Query().Get("repos"); rs != "" {
		repos = strings.Split(rs, ",")
	}
	infos, err := h.svc.Info(r.Context(), pattern, repos)
	if err != nil {
		writeError(w, err, "info")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": infos})
}
