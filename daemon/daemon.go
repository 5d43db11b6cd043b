package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/marusama/semaphore/v2"

	"github.com/mountlink/mountlink/downloader"
	"github.com/mountlink/mountlink/logging"
	"github.com/mountlink/mountlink/symlink"
)

const (
	defaultConcurrency = 2
	defaultResolveTTL  = 30 * time.Minute
	eventBuffer        = 256
)

// Config carries daemon-wide settings.
type Config struct {
	// MountRoot is the local path under which the remote backend exposes
	// its contents.
	MountRoot string

	// DestRoot is the directory downloads are linked into when a request
	// gives a relative destination.
	DestRoot string

	// MaxRetries and RetryDelay are passed through to the resolver.
	MaxRetries int
	RetryDelay time.Duration

	// Concurrency bounds the number of downloads resolving at once.
	Concurrency int

	// ResolveTTL is how long a resolved mount path is remembered. A repeat
	// request for the same relative path within the TTL links immediately
	// without polling.
	ResolveTTL time.Duration
}

// Daemon owns the download lifecycle: it persists requests, schedules them
// through a bounded worker pool, runs resolvers, and broadcasts their events.
type Daemon struct {
	store *Store
	cfg   Config
	queue *Queue
	bus   *EventBus
	cache *ttlcache.Cache[string, string]
	sem   semaphore.Semaphore

	events chan downloader.Event

	mu     sync.Mutex
	active map[int64]*symlink.Resolver
}

// NewDaemon creates a daemon. Zero-value Concurrency and ResolveTTL fall
// back to package defaults.
func NewDaemon(store *Store, cfg Config) *Daemon {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ResolveTTL <= 0 {
		cfg.ResolveTTL = defaultResolveTTL
	}
	return &Daemon{
		store:  store,
		cfg:    cfg,
		queue:  NewQueue(),
		bus:    NewEventBus(),
		cache:  ttlcache.New(ttlcache.WithTTL[string, string](cfg.ResolveTTL)),
		sem:    semaphore.New(cfg.Concurrency),
		events: make(chan downloader.Event, eventBuffer),
		active: make(map[int64]*symlink.Resolver),
	}
}

// Queue returns the scheduling queue, exposed for the stats endpoint.
func (d *Daemon) Queue() *Queue {
	return d.queue
}

// Bus returns the event bus HTTP handlers subscribe SSE clients to.
func (d *Daemon) Bus() *EventBus {
	return d.bus
}

// ErrBadRelPath rejects relative paths that are absolute or climb out of the
// mount root; candidate generation must never probe outside it.
var ErrBadRelPath = errors.New("relPath must be relative and stay inside the mount root")

// Enqueue persists a new download request and schedules it. Relative
// destinations are resolved against DestRoot.
func (d *Daemon) Enqueue(sourceURI, relPath, destPath string) (int64, error) {
	relPath = filepath.Clean(relPath)
	if filepath.IsAbs(relPath) || relPath == "." || relPath == ".." ||
		strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return 0, ErrBadRelPath
	}
	if !filepath.IsAbs(destPath) {
		destPath = filepath.Join(d.cfg.DestRoot, destPath)
	}
	id, err := d.store.Insert(sourceURI, relPath, destPath)
	if err != nil {
		return 0, err
	}
	d.queue.Push(id)
	return id, nil
}

// Cancel marks a download cancelled and interrupts it if it is resolving.
// Already-finished downloads are unaffected. Still-queued ones are skipped
// by the worker when popped.
func (d *Daemon) Cancel(id int64) error {
	rec, err := d.store.Get(id)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status == StatusCompleted || rec.Status == StatusFailed {
		return nil
	}
	if err := d.store.SetStatus(id, StatusCancelled); err != nil {
		return err
	}
	d.mu.Lock()
	r := d.active[id]
	d.mu.Unlock()
	if r != nil {
		r.Cancel()
	}
	logging.Sub("daemon").Info("download cancelled", "id", id)
	return nil
}

// Pause is accepted for API symmetry and forwarded to the resolver, where it
// is a no-op.
func (d *Daemon) Pause(id int64) {
	d.mu.Lock()
	r := d.active[id]
	d.mu.Unlock()
	if r != nil {
		r.Pause()
	}
}

// Resume mirrors Pause.
func (d *Daemon) Resume(id int64) {
	d.mu.Lock()
	r := d.active[id]
	d.mu.Unlock()
	if r != nil {
		r.Resume()
	}
}

// Run starts the daemon: requeues unfinished downloads from the last run,
// starts the mount watcher and event pump, then processes the queue with a
// bounded worker pool. Blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) {
	l := logging.Sub("daemon")
	l.Info("daemon starting",
		"mountRoot", d.cfg.MountRoot, "destRoot", d.cfg.DestRoot,
		"concurrency", d.cfg.Concurrency)

	// Phase 1: requeue whatever the previous run left unfinished.
	ids, err := d.store.UnfinishedIDs()
	if err != nil {
		l.Error("boot requeue failed, daemon aborting", "err", err)
		return
	}
	if len(ids) > 0 {
		d.queue.PushMany(ids)
		l.Info("requeued unfinished downloads", "count", len(ids))
	}

	// Phase 2: cache expiry loop and event pump.
	go d.cache.Start()
	go d.pumpEvents(ctx)

	// Phase 3: mount watcher for late materialization.
	watcher, err := NewWatcher(d.cfg.MountRoot, d.onAppeared)
	if err != nil {
		l.Warn("watcher creation failed, late retries disabled", "err", err)
	} else {
		go func() {
			if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
				l.Warn("watcher stopped unexpectedly", "err", err)
			}
		}()
	}

	// Phase 4: worker loop.
	l.Info("worker loop started")
	done := ctx.Done()
	var wg sync.WaitGroup
	for {
		id, ok := d.queue.Pop(done)
		if !ok {
			l.Info("worker stopping, context cancelled")
			break
		}
		if err := d.sem.Acquire(ctx, 1); err != nil {
			l.Info("worker stopping, context cancelled")
			break
		}

		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer d.sem.Release(1)
			d.resolve(ctx, id)
		}(id)
	}

	wg.Wait()
	if watcher != nil {
		watcher.Close()
	}
	d.cache.Stop()
	l.Info("daemon stopped")
}

// resolve runs one download end to end and records the outcome.
func (d *Daemon) resolve(ctx context.Context, id int64) {
	l := logging.Sub("daemon")

	rec, err := d.store.Get(id)
	if err != nil {
		l.Error("load failed", "id", id, "err", err)
		return
	}
	if rec == nil {
		l.Warn("queued id has no record", "id", id)
		return
	}
	if rec.Status == StatusCancelled {
		l.Debug("skipping cancelled download", "id", id)
		return
	}

	// A recent resolve of the same relative path skips polling entirely.
	if item := d.cache.Get(rec.RelPath); item != nil {
		src := item.Value()
		if _, err := os.Stat(src); err == nil {
			if err := symlink.NewMaterializer(rec.DestPath).Materialize(src); err == nil {
				l.Info("linked from cache", "id", id, "src", src)
				// SSE clients still get their terminal event even though
				// no resolver ran.
				downloader.NewChanReporter(d.events).Completed(id, nil)
				d.finish(id, src, nil)
				return
			}
		}
		// Stale entry, fall through to a full resolve.
		d.cache.Delete(rec.RelPath)
	}

	if err := d.store.SetStatus(id, StatusResolving); err != nil {
		l.Error("status update failed", "id", id, "err", err)
		return
	}

	target := downloader.Target{
		SourceURI: rec.SourceURI,
		RelPath:   rec.RelPath,
		DestPath:  rec.DestPath,
	}
	r := symlink.New(id, target, symlink.Config{
		MountRoot:  d.cfg.MountRoot,
		MaxRetries: d.cfg.MaxRetries,
		RetryDelay: d.cfg.RetryDelay,
	}, downloader.NewChanReporter(d.events))

	d.mu.Lock()
	d.active[id] = r
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.active, id)
		d.mu.Unlock()
	}()

	linked, err := r.Download(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Daemon shutdown. Leave the record resolving so the next boot
			// requeues it.
			l.Info("resolve interrupted by shutdown", "id", id)
			return
		}
		if isCancelled(err) {
			// User cancellation; Cancel() already set the status.
			l.Info("resolve cancelled", "id", id)
			return
		}
		d.finish(id, "", err)
		return
	}

	d.cache.Set(rec.RelPath, linked, ttlcache.DefaultTTL)
	d.finish(id, linked, nil)
}

// finish records a terminal outcome.
func (d *Daemon) finish(id int64, linked string, err error) {
	l := logging.Sub("daemon")
	if err != nil {
		if serr := d.store.MarkFailed(id, err.Error()); serr != nil {
			l.Error("mark failed errored", "id", id, "err", serr)
		}
		l.Warn("download failed", "id", id, "err", err)
		return
	}
	if serr := d.store.MarkCompleted(id, linked); serr != nil {
		l.Error("mark completed errored", "id", id, "err", serr)
	}
	l.Info("download completed", "id", id, "linked", linked)
}

// onAppeared handles a batch of paths that just showed up under the mount
// root. Failed downloads whose target matches one of them are requeued with
// priority so the content links as soon as possible.
func (d *Daemon) onAppeared(relPaths []string) {
	l := logging.Sub("daemon")
	seen := make(map[int64]struct{})
	for _, p := range relPaths {
		ids, err := d.store.FailedMatching(filepath.Base(p))
		if err != nil {
			l.Warn("appeared lookup failed", "path", p, "err", err)
			continue
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if err := d.store.SetStatus(id, StatusQueued); err != nil {
				l.Warn("requeue status failed", "id", id, "err", err)
				continue
			}
			d.queue.PushPriority(id)
			l.Info("requeued after late appearance", "id", id, "path", p)
		}
	}
}

// pumpEvents forwards resolver events to SSE subscribers.
func (d *Daemon) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.events:
			d.bus.Publish(e)
		}
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
