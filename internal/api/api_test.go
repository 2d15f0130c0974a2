package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mjarn/repoq/internal/metadata"
	"github.com/mjarn/repoq/internal/ops"
	"github.com/mjarn/repoq/internal/store"
	"github.com/mjarn/repoq/internal/testutil"
)

// testEnv sets up a temp database, service, and router for testing.
// authToken="" means disabled auth; non-empty enables token mode.
func testEnv(t *testing.T, authToken string) (*ops.Service, *store.DB, http.Handler) {
	t.Helper()

	db := testutil.TestDB(t)
	logger := testutil.Logger()
	svc := ops.NewService(db, metadata.NewSyncer(db, nil, logger), logger)
	router := NewRouter(svc, authToken != "", authToken, nil)
	return svc, db, router
}

func seedPackages(t *testing.T, db *store.DB, repoID int64, pkgs ...store.Package) {
	t.Helper()
	b, err := db.BeginImport(repoID)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range pkgs {
		key, err := b.InsertPackage(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.InsertDeps(key, []store.Dep{{Kind: store.DepProvides, Name: p.Name}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAndListRepos(t *testing.T) {
	_, _, router := testEnv(t, "")

	body, _ := json.Marshal(map[string]string{"name": "fedora", "base_url": "https://mirror.example/f"})
	req := httptest.NewRequest(http.MethodPost, "/repos", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/repos", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp RepoListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Repos) != 1 || resp.Repos[0].Name != "fedora" {
		t.Fatalf("repos = %+v", resp.Repos)
	}
	if resp.Repos[0].Kind != store.KindBinary {
		t.Fatalf("kind = %q", resp.Repos[0].Kind)
	}
}

func TestCreateRepoDuplicate(t *testing.T) {
	_, _, router := testEnv(t, "")

	body, _ := json.Marshal(map[string]string{"name": "fedora", "base_url": "https://mirror.example/f"})
	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPost, "/repos", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("create #%d status = %d, want %d", i+1, w.Code, want)
		}
	}
}

func TestCreateRepoInvalid(t *testing.T) {
	_, _, router := testEnv(t, "")

	body, _ := json.Marshal(map[string]string{"name": "fedora"})
	req := httptest.NewRequest(http.MethodPost, "/repos", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDeleteRepo(t *testing.T) {
	_, db, router := testEnv(t, "")
	testutil.TestRepo(t, db, "fedora", "https://mirror.example/f")

	req := httptest.NewRequest(http.MethodDelete, "/repos/fedora", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/repos/fedora", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, db, router := testEnv(t, "")
	repo := testutil.TestRepo(t, db, "fedora", "https://mirror.example/f")
	seedPackages(t, db, repo.ID,
		store.Package{Name: "bash", Epoch: "0", Version: "5.2", Release: "1", Arch: "x86_64"},
		store.Package{Name: "dash", Epoch: "0", Version: "0.5", Release: "1", Arch: "x86_64"},
	)

	req := httptest.NewRequest(http.MethodGet, "/search?q=*ash", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var resp SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Packages) != 2 {
		t.Fatalf("packages = %+v", resp.Packages)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	_, _, router := testEnv(t, "")
	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSearchUnknownRepoScope(t *testing.T) {
	_, _, router := testEnv(t, "")
	req := httptest.NewRequest(http.MethodGet, "/search?q=bash&repos=ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestResolveEndpoint(t *testing.T) {
	_, db, router := testEnv(t, "")
	repo := testutil.TestRepo(t, db, "fedora", "https://mirror.example/f")

	b, err := db.BeginImport(repo.ID)
	if err != nil {
		t.Fatal(err)
	}
	appKey, err := b.InsertPackage(store.Package{Name: "app", Epoch: "0", Version: "1.0", Release: "1", Arch: "x86_64"})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.InsertDeps(appKey, []store.Dep{
		{Kind: store.DepProvides, Name: "app"},
		{Kind: store.DepRequires, Name: "lib"},
	}); err != nil {
		t.Fatal(err)
	}
	libKey, err := b.InsertPackage(store.Package{Name: "lib", Epoch: "0", Version: "2.0", Release: "1", Arch: "x86_64"})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.InsertDeps(libKey, []store.Dep{{Kind: store.DepProvides, Name: "lib"}}); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(ResolveRequest{Targets: []string{"app"}})
	req := httptest.NewRequest(http.MethodPost, "/resolve", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp ResolveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Selected) != 1 || resp.Selected[0].Name != "app" {
		t.Fatalf("selected = %+v", resp.Selected)
	}
	if len(resp.Resolved) != 1 || resp.Resolved[0].Name != "lib" {
		t.Fatalf("resolved = %+v", resp.Resolved)
	}
}

func TestResolveEmptyTargets(t *testing.T) {
	_, _, router := testEnv(t, "")
	body, _ := json.Marshal(ResolveRequest{})
	req := httptest.NewRequest(http.MethodPost, "/resolve", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, _, router := testEnv(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/repos", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/repos", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/repos", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, want 200", w.Code)
	}
}

func TestLinkReposEndpoint(t *testing.T) {
	svc, db, router := testEnv(t, "")
	testutil.TestRepo(t, db, "fedora", "https://mirror.example/f")
	if _, err := db.AddRepo(store.Repo{Name: "fedora-source", BaseURL: "https://mirror.example/s", RepomdURL: "repodata/repomd.xml", Kind: store.KindSource}); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(LinkReposRequest{Binary: "fedora", Source: "fedora-source"})
	req := httptest.NewRequest(http.MethodPost, "/repos/link", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("link status = %d, body = %s", w.Code, w.Body.String())
	}

	repos, err := svc.ListRepos(req.Context())
	if err != nil {
		t.Fatal(err)
	}
	if repos[0].LinkedRepoID == nil {
		t.Fatal("link not persisted")
	}
}
