package metadata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mjarn/repoq/internal/store"
	"github.com/mjarn/repoq/internal/testutil"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatcher_MetadataChangeResyncs(t *testing.T) {
	db := testutil.TestDB(t)
	root := writeLocalRepo(t, primaryXML, false)
	repo := testutil.TestRepo(t, db, "local", root)
	syncer := NewSyncer(db, nil, testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string

	go Watch(ctx, db, syncer, testutil.Logger(), func(kind, repoName string) {
		mu.Lock()
		events = append(events, kind+":"+repoName)
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	// Rewriting the metadata in place mimics a mirror update.
	writeLocalRepoInto(t, root, primaryXML)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		n, _ := db.CountForRepo(repo.ID)
		return n == 2
	}, "metadata change did not trigger a resync")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "synced:local" {
				return true
			}
		}
		return false
	}, "expected synced:local callback")
}

func TestWatcher_BrokenMetadataReportsFailure(t *testing.T) {
	db := testutil.TestDB(t)
	root := writeLocalRepo(t, primaryXML, false)
	testutil.TestRepo(t, db, "local", root)
	syncer := NewSyncer(db, nil, testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string

	go Watch(ctx, db, syncer, testutil.Logger(), func(kind, repoName string) {
		mu.Lock()
		events = append(events, kind+":"+repoName)
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	writeCorruptRepoInto(t, root)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "failed:local" {
				return true
			}
		}
		return false
	}, "expected failed:local callback for corrupt metadata")
}

func TestLocalRepodataDir(t *testing.T) {
	cases := []struct {
		name   string
		base   string
		repomd string
		want   string
		wantOK bool
	}{
		{"bare path", "/srv/mirror/fedora", "repodata/repomd.xml", "/srv/mirror/fedora/repodata", true},
		{"file scheme", "file:///srv/mirror/fedora", "repodata/repomd.xml", "/srv/mirror/fedora/repodata", true},
		{"remote", "https://mirror.example/fedora", "repodata/repomd.xml", "", false},
		{"absolute repomd url", "/srv/mirror/fedora", "https://cdn.example/repomd.xml", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := localRepodataDir(store.Repo{BaseURL: tc.base, RepomdURL: tc.repomd})
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("localRepodataDir() = %q, %v; want %q, %v", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}
