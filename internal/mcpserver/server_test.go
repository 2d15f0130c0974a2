package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mjarn/repoq/internal/metadata"
	"github.com/mjarn/repoq/internal/ops"
	"github.com/mjarn/repoq/internal/store"
	"github.com/mjarn/repoq/internal/testutil"
)

func testServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	db := testutil.TestDB(t)
	svc := ops.NewService(db, metadata.NewSyncer(db, nil, testutil.Logger()), testutil.Logger())
	return New(svc), db
}

func seedPackage(t *testing.T, db *store.DB, repoID int64, p store.Package, deps []store.Dep) {
	t.Helper()
	b, err := db.BeginImport(repoID)
	if err != nil {
		t.Fatal(err)
	}
	key, err := b.InsertPackage(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.InsertDeps(key, deps); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no call-through test helper, so invoke the handlers directly.
	var result *mcp.CallToolResult
	var err error
	switch name {
	case "search_packages":
		result, err = srv.searchPackages(ctx, req)
	case "resolve_dependencies":
		result, err = srv.resolveDependencies(ctx, req)
	case "list_repositories":
		result, err = srv.listRepositories(ctx, req)
	case "package_info":
		result, err = srv.packageInfo(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSearchPackagesTool(t *testing.T) {
	srv, db := testServer(t)
	repo := testutil.TestRepo(t, db, "fedora", "https://mirror.example/f")
	seedPackage(t, db, repo.ID, store.Package{
		Name: "bash", Epoch: "0", Version: "5.2", Release: "1", Arch: "x86_64",
		Summary: "The GNU Bourne Again shell",
	}, nil)

	res := callTool(t, srv, "search_packages", map[string]interface{}{"pattern": "bash"})
	text := resultText(res)
	if !strings.Contains(text, "bash-5.2-1.x86_64") || !strings.Contains(text, "Bourne Again") {
		t.Fatalf("unexpected result: %q", text)
	}
}

func TestSearchPackagesToolNoMatch(t *testing.T) {
	srv, db := testServer(t)
	testutil.TestRepo(t, db, "fedora", "https://mirror.example/f")

	res := callTool(t, srv, "search_packages", map[string]interface{}{"pattern": "nothing"})
	if got := resultText(res); got != "no packages matched" {
		t.Fatalf("result = %q", got)
	}
}

func TestResolveDependenciesTool(t *testing.T) {
	srv, db := testServer(t)
	repo := testutil.TestRepo(t, db, "fedora", "https://mirror.example/f")
	seedPackage(t, db, repo.ID, store.Package{
		Name: "app", Epoch: "0", Version: "1.0", Release: "1", Arch: "x86_64",
	}, []store.Dep{{Kind: store.DepRequires, Name: "libfoo"}})
	seedPackage(t, db, repo.ID, store.Package{
		Name: "foo", Epoch: "0", Version: "2.0", Release: "1", Arch: "x86_64",
	}, []store.Dep{{Kind: store.DepProvides, Name: "libfoo"}})

	res := callTool(t, srv, "resolve_dependencies", map[string]interface{}{"targets": "app"})
	text := resultText(res)
	if !strings.Contains(text, "app-1.0-1.x86_64") || !strings.Contains(text, "foo-2.0-1.x86_64") {
		t.Fatalf("unexpected result: %q", text)
	}
}

func TestListRepositoriesTool(t *testing.T) {
	srv, db := testServer(t)
	testutil.TestRepo(t, db, "fedora", "https://mirror.example/f")

	res := callTool(t, srv, "list_repositories", nil)
	text := resultText(res)
	if !strings.Contains(text, "fedora") || !strings.Contains(text, "synced=never") {
		t.Fatalf("unexpected result: %q", text)
	}
}

func TestPackageInfoTool(t *testing.T) {
	srv, db := testServer(t)
	repo := testutil.TestRepo(t, db, "fedora", "https://mirror.example/f")
	seedPackage(t, db, repo.ID, store.Package{
		Name: "bash", Epoch: "0", Version: "5.2", Release: "1", Arch: "x86_64",
		Summary: "The GNU Bourne Again shell",
	}, nil)

	res := callTool(t, srv, "package_info", map[string]interface{}{"pattern": "bash"})
	text := resultText(res)
	if !strings.Contains(text, `"bash"`) || !strings.Contains(text, `"fedora"`) {
		t.Fatalf("unexpected result: %q", text)
	}
}
