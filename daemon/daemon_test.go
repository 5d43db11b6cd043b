package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mountlink/mountlink/downloader"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	mountRoot := filepath.Join(dir, "mnt")
	destRoot := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(mountRoot, 0755))
	require.NoError(t, os.MkdirAll(destRoot, 0755))
	return Config{
		MountRoot:  mountRoot,
		DestRoot:   destRoot,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	}
}

// waitForStatus polls the store until the download reaches the wanted status.
func waitForStatus(t *testing.T, s *Store, id int64, want Status) *Download {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := s.Get(id)
		require.NoError(t, err)
		if rec != nil && rec.Status == want {
			return rec
		}
		time.Sleep(20 * time.Millisecond)
	}
	rec, _ := s.Get(id)
	t.Fatalf("download %d never reached %s, last: %+v", id, want, rec)
	return nil
}

func TestDaemon_ResolvesAvailableTarget(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.MountRoot, "Show"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.MountRoot, "Show", "S01E01.mkv"), []byte("video"), 0644))

	store := setupTestDB(t)
	d := NewDaemon(store, cfg)

	events := d.Bus().Subscribe()
	defer d.Bus().Unsubscribe(events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id, err := d.Enqueue("magnet:?xt=abc", "Show/S01E01.mkv", "Show/S01E01.mkv")
	require.NoError(t, err)

	rec := waitForStatus(t, store, id, StatusCompleted)
	require.NotNil(t, rec.LinkedPath)
	assert.Equal(t, filepath.Join(cfg.MountRoot, "Show", "S01E01.mkv"), *rec.LinkedPath)

	// Destination resolves through the link to the mount content.
	data, err := os.ReadFile(filepath.Join(cfg.DestRoot, "Show", "S01E01.mkv"))
	require.NoError(t, err)
	assert.Equal(t, []byte("video"), data)

	// The resolver reported at least one progress heartbeat and one completion.
	var progress, complete int
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case e := <-events:
			switch e.Type {
			case downloader.EventProgress:
				progress++
			case downloader.EventComplete:
				complete++
				assert.Empty(t, e.Error)
				break drain
			}
		case <-timeout:
			break drain
		}
	}
	assert.GreaterOrEqual(t, progress, 1)
	assert.Equal(t, 1, complete)
}

func TestDaemon_FailsWhenTargetNeverAppears(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 2

	store := setupTestDB(t)
	d := NewDaemon(store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id, err := d.Enqueue("", "Ghost/ep.mkv", "Ghost/ep.mkv")
	require.NoError(t, err)

	rec := waitForStatus(t, store, id, StatusFailed)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "Ghost/ep.mkv")

	_, err = os.Lstat(filepath.Join(cfg.DestRoot, "Ghost", "ep.mkv"))
	assert.True(t, os.IsNotExist(err))
}

func TestDaemon_CancelBeforeResolveSkips(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.MountRoot, "a.mkv"), []byte("a"), 0644))

	store := setupTestDB(t)
	d := NewDaemon(store, cfg)

	// Enqueue and cancel before the worker loop starts.
	id, err := d.Enqueue("", "a.mkv", "a.mkv")
	require.NoError(t, err)
	require.NoError(t, d.Cancel(id))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Give the worker a chance to pop and (wrongly) resolve it.
	time.Sleep(300 * time.Millisecond)

	rec, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)

	_, err = os.Lstat(filepath.Join(cfg.DestRoot, "a.mkv"))
	assert.True(t, os.IsNotExist(err))
}

func TestDaemon_BootRequeuesUnfinished(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.MountRoot, "a.mkv"), []byte("a"), 0644))

	store := setupTestDB(t)

	// Simulate a record left behind by a previous run.
	id, err := store.Insert("", "a.mkv", filepath.Join(cfg.DestRoot, "a.mkv"))
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(id, StatusResolving))

	d := NewDaemon(store, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	waitForStatus(t, store, id, StatusCompleted)
}

func TestDaemon_EnqueueRejectsEscapingRelPath(t *testing.T) {
	cfg := testConfig(t)
	store := setupTestDB(t)
	d := NewDaemon(store, cfg)

	for _, relPath := range []string{
		"../x.mkv",
		"../rebels/x.mkv",
		"a/../../x.mkv",
		"/etc/passwd",
		"..",
		".",
	} {
		_, err := d.Enqueue("", relPath, "x.mkv")
		assert.ErrorIs(t, err, ErrBadRelPath, "relPath %q should be rejected", relPath)
	}

	// Nothing was persisted or scheduled.
	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, d.Queue().Len())

	// Interior .. that stays inside the root is fine after cleaning.
	id, err := d.Enqueue("", "Show/../Show/S01E01.mkv", "S01E01.mkv")
	require.NoError(t, err)
	rec, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Show/S01E01.mkv", rec.RelPath)
}

func TestDaemon_CacheHitPublishesCompletion(t *testing.T) {
	cfg := testConfig(t)
	store := setupTestDB(t)
	d := NewDaemon(store, cfg)

	// The cached source lives outside the mount root, so a full resolve of
	// this relPath could never succeed: completion proves the cache path ran.
	src := filepath.Join(t.TempDir(), "cached.mkv")
	require.NoError(t, os.WriteFile(src, []byte("cached"), 0644))

	id, err := store.Insert("", "cached.mkv", filepath.Join(cfg.DestRoot, "cached.mkv"))
	require.NoError(t, err)
	d.cache.Set("cached.mkv", src, ttlcache.DefaultTTL)

	d.resolve(context.Background(), id)

	rec, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)

	select {
	case e := <-d.events:
		assert.Equal(t, downloader.EventComplete, e.Type)
		assert.Equal(t, id, e.DownloadID)
		assert.Empty(t, e.Error)
	default:
		t.Fatal("expected a completion event for the cache-hit resolve")
	}
}

func TestDaemon_LateAppearanceRequeuesFailed(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 1

	store := setupTestDB(t)
	d := NewDaemon(store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id, err := d.Enqueue("", "late.mkv", "late.mkv")
	require.NoError(t, err)

	waitForStatus(t, store, id, StatusFailed)

	// Content shows up after polling gave up; the watcher should requeue it.
	require.NoError(t, os.WriteFile(filepath.Join(cfg.MountRoot, "late.mkv"), []byte("late"), 0644))

	rec := waitForStatus(t, store, id, StatusCompleted)
	require.NotNil(t, rec.LinkedPath)
	assert.Equal(t, filepath.Join(cfg.MountRoot, "late.mkv"), *rec.LinkedPath)
}
