package symlink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mountlink/mountlink/downloader"
	"github.com/mountlink/mountlink/logging"
)

// Config carries the read-only settings shared by all resolver invocations.
// Passed explicitly so the core stays testable without process-wide state.
type Config struct {
	// MountRoot is the local path under which the remote backend exposes
	// its contents.
	MountRoot string

	// MaxRetries bounds the poll loop. 0 means the package default.
	MaxRetries int

	// RetryDelay is the linear backoff unit. 0 means 1s.
	RetryDelay time.Duration
}

// Resolver is the symlink download strategy: it waits for the target to
// materialize under the mount root, then links the destination to it. One
// Resolver runs one invocation; there is no shared mutable state between
// resolvers for different targets.
type Resolver struct {
	id     int64
	target downloader.Target
	cfg    Config
	rep    downloader.Reporter

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ downloader.Downloader = (*Resolver)(nil)

// New creates a resolver for one target.
func New(id int64, target downloader.Target, cfg Config, rep downloader.Reporter) *Resolver {
	if rep == nil {
		rep = downloader.NopReporter{}
	}
	return &Resolver{id: id, target: target, cfg: cfg, rep: rep}
}

// Download runs the resolution pipeline: derive candidates, poll for
// materialization, link the destination. Each poll attempt reports one
// progress event carrying {attempt, maxRetries, 1}; the first of these is the
// zero-progress observation at invocation start. Exactly one completion event
// is reported on success or failure; cancellation skips it.
func (r *Resolver) Download(ctx context.Context) (string, error) {
	l := logging.Sub("resolver")

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	probeName := filepath.Base(r.target.RelPath)
	candidates := Candidates(r.target.RelPath, r.cfg.MountRoot)
	l.Info("resolution started",
		"source", r.target.SourceURI, "relPath", r.target.RelPath,
		"dest", r.target.DestPath, "candidates", len(candidates))

	poller := NewPoller(r.cfg.MaxRetries, r.cfg.RetryDelay, func(attempt, maxRetries int) {
		r.rep.Progress(r.id, int64(attempt), int64(maxRetries), 1)
	})

	res, err := poller.Poll(ctx, candidates, probeName)
	if err != nil {
		// Cancelled mid-poll. Completion is best-effort on this path and
		// deliberately skipped.
		l.Info("resolution cancelled", "relPath", r.target.RelPath)
		return "", err
	}

	if !res.Found() {
		r.listMountRoot(l)
		err := fmt.Errorf("%w: %s", downloader.ErrNotFoundAfterRetries, r.target.RelPath)
		l.Error("resolution failed", "relPath", r.target.RelPath, "err", err)
		r.rep.Completed(r.id, err)
		return "", err
	}

	if err := NewMaterializer(r.target.DestPath).Materialize(res.Path); err != nil {
		l.Error("materialization failed", "src", res.Path, "dest", r.target.DestPath, "err", err)
		r.rep.Completed(r.id, err)
		return "", err
	}

	l.Info("resolution complete", "path", res.Path, "dest", r.target.DestPath)
	r.rep.Completed(r.id, nil)
	return res.Path, nil
}

// Cancel requests cooperative cancellation of an in-flight Download. Safe to
// call at any time, any number of times. A link created just before the
// cancellation is observed stays on disk.
func (r *Resolver) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Pause is accepted but filesystem polling cannot be meaningfully paused;
// in-flight retries are unaffected.
func (r *Resolver) Pause() {
	logging.Sub("resolver").Debug("pause ignored", "relPath", r.target.RelPath)
}

// Resume is a no-op, matching Pause.
func (r *Resolver) Resume() {
	logging.Sub("resolver").Debug("resume ignored", "relPath", r.target.RelPath)
}

// listMountRoot logs the mount root's direct children after exhaustion, as a
// troubleshooting aid. Listing failures are logged and suppressed so they
// never mask the primary error.
func (r *Resolver) listMountRoot(l *slog.Logger) {
	entries, err := os.ReadDir(r.cfg.MountRoot)
	if err != nil {
		l.Warn("mount root listing failed", "mountRoot", r.cfg.MountRoot, "err", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	l.Info("mount root contents", "mountRoot", r.cfg.MountRoot, "entries", names)
}
