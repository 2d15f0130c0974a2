package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/mjarn/repoq/internal"
	"github.com/mjarn/repoq/internal/mcpserver"
	"github.com/mjarn/repoq/internal/metadata"
	"github.com/mjarn/repoq/internal/ops"
	"github.com/mjarn/repoq/internal/query"
	"github.com/mjarn/repoq/internal/store"
	pkgconfig "github.com/mjarn/repoq/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadIfExists(cmd.String("config"), cfg); err != nil {
		return nil, err
	}
	if dbPath := cmd.String("db"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

// openService builds the service stack for one-shot commands. The returned
// closer must be deferred.
func openService(cfg *internal.Config) (*ops.Service, func(), error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	svc := ops.NewService(db, metadata.NewSyncer(db, nil, logger), logger)
	return svc, func() { db.Close() }, nil
}

func repoAdd(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, closeDB, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	repo, err := svc.AddRepo(ctx, ops.AddRepoParams{
		Name:       cmd.String("name"),
		BaseURL:    cmd.String("base-url"),
		RepomdURL:  cmd.String("repomd-url"),
		Kind:       cmd.String("kind"),
		SourceRepo: cmd.String("source-repo"),
		Sync:       cmd.Bool("sync"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("added repository %s (%s)\n", repo.Name, repo.BaseURL)
	return nil
}

func repoList(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, closeDB, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	statuses, err := svc.ListRepoStatus(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Println("no repositories configured")
		return nil
	}
	for _, st := range statuses {
		synced := st.Repo.LastSynced
		if synced == "" {
			synced = "never"
		}
		fmt.Printf("%-20s %-8s %6d packages  synced %-22s %s\n",
			st.Repo.Name, st.Repo.Kind, st.Packages, synced, st.Repo.BaseURL)
	}
	return nil
}

func repoDel(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, closeDB, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	deleted, err := svc.DeleteRepos(ctx, cmd.Args().Slice(), cmd.Bool("all"), cmd.Bool("force"))
	if err != nil {
		return err
	}
	for _, name := range deleted {
		fmt.Printf("deleted repository %s\n", name)
	}
	return nil
}

func repoLink(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, closeDB, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	args := cmd.Args().Slice()
	if len(args) != 2 {
		return fmt.Errorf("usage: repolink <binary-repo> <source-repo>")
	}
	if err := svc.LinkRepos(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("linked %s -> %s\n", args[0], args[1])
	return nil
}

func repoSync(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Bool("watch") {
		return internal.Run(ctx,
			internal.WithConfig(cfg),
			internal.WithWatch(true),
		)
	}
	svc, closeDB, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	results, err := svc.SyncRepos(ctx, cmd.Args().Slice(), cmd.Bool("all"))
	if err != nil {
		return err
	}
	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Printf("%s: sync failed: %v\n", res.Repo, res.Err)
			continue
		}
		fmt.Printf("%s: %d packages\n", res.Repo, res.Report.Packages)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d repositories failed to sync", failed, len(results))
	}
	return nil
}

func searchCmd(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, closeDB, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	patterns := cmd.Args().Slice()
	if len(patterns) == 0 {
		return fmt.Errorf("usage: search <pattern>...")
	}
	pkgs, err := svc.Search(ctx, patterns, cmd.StringSlice("repo"), query.SearchOptions{
		Broad:          cmd.Bool("broad"),
		ShowDuplicates: cmd.Bool("show-duplicates"),
	})
	if err != nil {
		return err
	}
	for _, p := range pkgs {
		fmt.Printf("%-50s %s\n", p.NEVRA().String(), p.Summary)
	}
	return nil
}

func resolveOptions(cmd *cli.Command) query.ResolveOptions {
	opts := query.ResolveOptions{
		WeakDeps:  cmd.Bool("weak-deps"),
		Recursive: cmd.Bool("recursive"),
		Arch:      cmd.String("arch"),
	}
	if cmd.IsSet("depth") {
		depth := int(cmd.Int("depth"))
		opts.Depth = &depth
	}
	return opts
}

func resolveCmd(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, closeDB, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	targets := cmd.Args().Slice()
	ds, err := svc.Resolve(ctx, targets, cmd.StringSlice("repo"), resolveOptions(cmd))
	if err != nil {
		return err
	}
	for _, p := range ds.Selected {
		fmt.Printf("selected  %s\n", p.NEVRA().String())
	}
	for _, p := range ds.Resolved {
		fmt.Printf("requires  %s\n", p.NEVRA().String())
	}
	for _, u := range ds.Unresolved {
		fmt.Printf("missing   %s\n", u)
	}
	return nil
}

func infoCmd(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, closeDB, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: info <pattern>")
	}
	infos, err := svc.Info(ctx, cmd.Args().First(), cmd.StringSlice("repo"))
	if err != nil {
		return err
	}
	for _, in := range infos {
		p := in.Package
		fmt.Printf("Name      : %s\n", p.Name)
		fmt.Printf("Version   : %s\n", p.Version)
		fmt.Printf("Release   : %s\n", p.Release)
		fmt.Printf("Arch      : %s\n", p.Arch)
		fmt.Printf("Repo      : %s\n", in.Repo)
		if p.Summary != "" {
			fmt.Printf("Summary   : %s\n", p.Summary)
		}
		if p.URL != "" {
			fmt.Printf("URL       : %s\n", p.URL)
		}
		if p.SourceRPM != "" {
			fmt.Printf("Source    : %s\n", p.SourceRPM)
		}
		if p.Description != "" {
			fmt.Printf("Description:\n%s\n", p.Description)
		}
		fmt.Println(strings.Repeat("-", 40))
	}
	return nil
}

func downloadCmd(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, closeDB, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	dir := cmd.String("dir")
	if dir == "" {
		dir = cfg.Download.Dir
	}
	urls, err := svc.Download(ctx, nil, ops.DownloadParams{
		Targets:  cmd.Args().Slice(),
		Repos:    cmd.StringSlice("repo"),
		Resolve:  resolveOptions(cmd),
		WithDeps: cmd.Bool("resolve"),
		Source:   cmd.Bool("source"),
		Dir:      dir,
		URLsOnly: cmd.Bool("urls"),
	})
	if err != nil {
		return err
	}
	if cmd.Bool("urls") {
		for _, u := range urls {
			fmt.Println(u)
		}
	}
	return nil
}

func serveCmd(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Run(ctx,
		internal.WithConfig(cfg),
		internal.WithWatch(cmd.Bool("watch")),
	)
}

func mcpCmd(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, closeDB, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	return mcpserver.New(svc).ServeStdio()
}

func main() {
	repoFlag := &cli.StringSliceFlag{
		Name:    "repo",
		Aliases: []string{"r"},
		Usage:   "Restrict to this repository (repeatable; default all)",
	}
	resolveFlags := []cli.Flag{
		repoFlag,
		&cli.BoolFlag{Name: "recursive", Aliases: []string{"R"}, Usage: "Follow dependencies of dependencies"},
		&cli.BoolFlag{Name: "weak-deps", Usage: "Include suggests/recommends/enhances/supplements"},
		&cli.IntFlag{Name: "depth", Usage: "Stop after this many dependency levels (0 = direct only)"},
		&cli.StringFlag{Name: "arch", Usage: "Restrict candidates to this arch plus noarch"},
	}

	cmd := &cli.Command{
		Name:  "repoq",
		Usage: "Query rpm-style package repositories: sync metadata, search packages, resolve dependencies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("REPOQ_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path to the package database (overrides config)",
				Sources: cli.EnvVars("REPOQ_DB"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "repoadd",
				Usage:  "Register a repository",
				Action: repoAdd,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true, Usage: "Repository name"},
					&cli.StringFlag{Name: "base-url", Required: true, Usage: "Repository base URL or local path"},
					&cli.StringFlag{Name: "repomd-url", Usage: "Relative or absolute repomd.xml location"},
					&cli.StringFlag{Name: "kind", Usage: "Repository kind: binary or source"},
					&cli.StringFlag{Name: "source-repo", Usage: "Name of the source repository to link"},
					&cli.BoolFlag{Name: "sync", Usage: "Sync immediately after registering"},
				},
			},
			{
				Name:   "repolist",
				Usage:  "List configured repositories",
				Action: repoList,
			},
			{
				Name:      "repodel",
				Usage:     "Delete repositories and their packages",
				ArgsUsage: "[repo]...",
				Action:    repoDel,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "Delete every repository"},
					&cli.BoolFlag{Name: "force", Usage: "Skip names that do not exist"},
				},
			},
			{
				Name:      "repolink",
				Usage:     "Link a binary repository to its source repository",
				ArgsUsage: "<binary-repo> <source-repo>",
				Action:    repoLink,
			},
			{
				Name:      "reposync",
				Usage:     "Sync repository metadata into the package database",
				ArgsUsage: "[repo]...",
				Action:    repoSync,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "Sync every repository"},
					&cli.BoolFlag{Name: "watch", Usage: "Keep running and resync local repositories on change"},
				},
			},
			{
				Name:      "search",
				Usage:     "Search packages by name, glob or NEVRA",
				ArgsUsage: "<pattern>...",
				Action:    searchCmd,
				Flags: []cli.Flag{
					repoFlag,
					&cli.BoolFlag{Name: "broad", Usage: "Also match descriptions and URLs"},
					&cli.BoolFlag{Name: "show-duplicates", Usage: "Show every matching version from every repository"},
				},
			},
			{
				Name:      "resolve",
				Usage:     "Resolve package dependencies",
				ArgsUsage: "<target>...",
				Action:    resolveCmd,
				Flags:     resolveFlags,
			},
			{
				Name:      "info",
				Usage:     "Show detailed package metadata",
				ArgsUsage: "<pattern>",
				Action:    infoCmd,
				Flags:     []cli.Flag{repoFlag},
			},
			{
				Name:      "download",
				Usage:     "Download packages (or print their URLs)",
				ArgsUsage: "<target>...",
				Action:    downloadCmd,
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "dir", Usage: "Destination directory"},
					&cli.BoolFlag{Name: "urls", Usage: "Print URLs instead of downloading"},
					&cli.BoolFlag{Name: "resolve", Usage: "Also download resolved dependencies"},
					&cli.BoolFlag{Name: "source", Usage: "Download source RPMs via the linked source repository"},
				}, resolveFlags...),
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API server",
				Action: serveCmd,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "watch", Usage: "Resync local repositories when their metadata changes"},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Run the MCP server on stdin/stdout",
				Action: mcpCmd,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
