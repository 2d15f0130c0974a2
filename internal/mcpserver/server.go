// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes repoq tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mjarn/repoq/internal/ops"
	"github.com/mjarn/repoq/internal/query"
)

// Server wraps the MCP server with repoq tools.
type Server struct {
	mcp *server.MCPServer
	svc *ops.Service
}

// New creates a new MCP server with all repoq tools registered.
func New(svc *ops.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"repoq",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_packages",
		mcp.WithDescription("Search packages across configured repositories. "+
			"Patterns may be plain names, substrings, shell globs (* and ?) or full NEVRA strings."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Search pattern")),
		mcp.WithString("repos", mcp.Description("Comma-separated repository names to search (empty for all)")),
		mcp.WithBoolean("broad", mcp.Description("Also match descriptions and URLs")),
	), s.searchPackages)

	s.mcp.AddTool(mcp.NewTool("resolve_dependencies",
		mcp.WithDescription("Resolve the dependency closure of one or more packages. "+
			"Returns selected targets, resolved dependencies and unresolved requirements."),
		mcp.WithString("targets", mcp.Required(), mcp.Description("Comma-separated package names, globs or NEVRA strings")),
		mcp.WithString("repos", mcp.Description("Comma-separated repository names (empty for all)")),
		mcp.WithBoolean("recursive", mcp.Description("Follow dependencies of dependencies")),
		mcp.WithBoolean("weak_deps", mcp.Description("Include suggests/recommends/enhances/supplements edges")),
		mcp.WithString("arch", mcp.Description("Restrict candidates to this arch plus noarch")),
	), s.resolveDependencies)

	s.mcp.AddTool(mcp.NewTool("list_repositories",
		mcp.WithDescription("List configured package repositories with their package counts and sync state."),
	), s.listRepositories)

	s.mcp.AddTool(mcp.NewTool("package_info",
		mcp.WithDescription("Show detailed metadata for packages matching a pattern, including dependencies and files."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Package name or pattern")),
	), s.packageInfo)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Server) searchPackages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var repos []string
	if r, err := req.RequireString("repos"); err == nil {
		repos = splitList(r)
	}
	broad := req.GetBool("broad", false)

	pkgs, err := s.svc.Search(ctx, []string{pattern}, repos, query.SearchOptions{Broad: broad})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(pkgs) == 0 {
		return mcp.NewToolResultText("no packages matched"), nil
	}
	var lines []string
	for _, p := range pkgs {
		lines = append(lines, fmt.Sprintf("%s  %s", p.NEVRA().String(), p.Summary))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) resolveDependencies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	targetsArg, err := req.RequireString("targets")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var repos []string
	if r, err := req.RequireString("repos"); err == nil {
		repos = splitList(r)
	}
	opts := query.ResolveOptions{
		Recursive: req.GetBool("recursive", false),
		WeakDeps:  req.GetBool("weak_deps", false),
	}
	if arch, err := req.RequireString("arch"); err == nil {
		opts.Arch = arch
	}

	ds, err := s.svc.Resolve(ctx, splitList(targetsArg), repos, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	b.WriteString("selected:\n")
	for _, p := range ds.Selected {
		fmt.Fprintf(&b, "  %s\n", p.NEVRA().String())
	}
	b.WriteString("resolved:\n")
	for _, p := range ds.Resolved {
		fmt.Fprintf(&b, "  %s\n", p.NEVRA().String())
	}
	if len(ds.Unresolved) > 0 {
		b.WriteString("unresolved:\n")
		for _, u := range ds.Unresolved {
			fmt.Fprintf(&b, "  %s\n", u)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) listRepositories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	statuses, err := s.svc.ListRepoStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(statuses) == 0 {
		return mcp.NewToolResultText("no repositories configured"), nil
	}
	var lines []string
	for _, st := range statuses {
		synced := st.Repo.LastSynced
		if synced == "" {
			synced = "never"
		}
		lines = append(lines, fmt.Sprintf("%s  %s  kind=%s  packages=%d  synced=%s",
			st.Repo.Name, st.Repo.BaseURL, st.Repo.Kind, st.Packages, synced))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) packageInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	infos, err := s.svc.Info(ctx, pattern, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(infos) == 0 {
		return mcp.NewToolResultText("no packages matched"), nil
	}
	out, _ := json.MarshalIndent(infos, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
