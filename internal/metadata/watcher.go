package metadata

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mjarn/repoq/internal/store"
)

// EventCallback is called after a watcher-driven resync. kind is one of
// "synced", "failed".
type EventCallback func(kind string, repoName string)

// Watch starts an fsnotify watcher on the repodata directories of local
// repositories and resyncs a repository when its metadata changes on disk.
// Only repositories whose base URL is a filesystem path are watched; remote
// repositories are skipped. Resyncs are debounced so that a mirror tool
// rewriting several repodata files triggers a single import.
func Watch(ctx context.Context, db *store.DB, syncer *Syncer, logger *slog.Logger, cb EventCallback) error {
	repos, err := db.ListRepos()
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Maps a watched repodata directory back to its repository.
	watched := make(map[string]store.Repo)
	for _, r := range repos {
		dir, ok := localRepodataDir(r)
		if !ok {
			continue
		}
		if err := w.Add(dir); err != nil {
			logger.Warn("watcher: add failed", slog.String("repo", r.Name), slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		watched[dir] = r
		logger.Info("watcher: watching", slog.String("repo", r.Name), slog.String("dir", dir))
	}
	if len(watched) == 0 {
		logger.Info("watcher: no local repositories to watch")
	}

	// One debounce timer per repository so concurrent mirror updates to
	// different repositories do not starve each other.
	timers := make(map[int64]*time.Timer)
	pending := make(chan store.Repo)

	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case repo := <-pending:
			if _, err := syncer.SyncRepo(ctx, repo); err != nil {
				logger.Warn("watcher: resync failed", slog.String("repo", repo.Name), slog.String("error", err.Error()))
				if cb != nil {
					cb("failed", repo.Name)
				}
				continue
			}
			if cb != nil {
				cb("synced", repo.Name)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			repo, ok := watched[filepath.Dir(ev.Name)]
			if !ok {
				continue
			}
			logger.Debug("watcher: change", slog.String("repo", repo.Name), slog.String("path", ev.Name))
			if t, ok := timers[repo.ID]; ok {
				t.Reset(500 * time.Millisecond)
				continue
			}
			r := repo
			timers[repo.ID] = time.AfterFunc(500*time.Millisecond, func() {
				select {
				case pending <- r:
				case <-ctx.Done():
				}
			})

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// localRepodataDir returns the repodata directory for a repository backed by
// the local filesystem, or false for remote repositories.
func localRepodataDir(r store.Repo) (string, bool) {
	base := r.BaseURL
	switch {
	case strings.HasPrefix(base, "file://"):
		base = strings.TrimPrefix(base, "file://")
	case strings.Contains(base, "://"):
		return "", false
	}
	href := r.RepomdURL
	if strings.Contains(href, "://") {
		return "", false
	}
	full := filepath.Join(base, filepath.FromSlash(href))
	return filepath.Dir(full), true
}
