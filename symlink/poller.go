package symlink

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mountlink/mountlink/logging"
)

// MaxRetries bounds the poll loop. With the 1s delay unit the worst case
// waits 45s total before giving up.
const MaxRetries = 10

// delayUnit is the linear backoff step: the wait before attempt i is
// delayUnit*i, so attempt 0 probes immediately.
const delayUnit = time.Second

// Kind classifies what a probe found.
type Kind int

const (
	KindFile Kind = iota + 1
	KindDirectory
)

// Result is the outcome of a poll. A zero Result means not found.
type Result struct {
	Path string
	Kind Kind
}

// Found reports whether the poll located the target.
func (r Result) Found() bool { return r.Path != "" }

// Poller repeatedly probes an ordered candidate list for a materialized
// target, with increasing inter-attempt delay. One Poller runs one loop.
type Poller struct {
	maxRetries int
	unit       time.Duration

	// progress is invoked once per attempt before probing. May be nil.
	progress func(attempt, maxRetries int)
}

// NewPoller creates a poller with the given retry ceiling and backoff unit.
// Zero values fall back to MaxRetries and the 1s delay unit; tests shrink the
// unit to keep retry scenarios fast.
func NewPoller(maxRetries int, unit time.Duration, progress func(attempt, maxRetries int)) *Poller {
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}
	if unit <= 0 {
		unit = delayUnit
	}
	return &Poller{maxRetries: maxRetries, unit: unit, progress: progress}
}

// Poll probes the candidates until a hit, exhaustion, or cancellation.
// Probing is candidate-major: every kind of probe for one candidate runs
// before the next candidate is considered, so an earlier candidate's
// directory hit never loses to a later candidate's file hit. Exhaustion
// returns a zero Result and nil error; cancellation returns ctx.Err().
func (p *Poller) Poll(ctx context.Context, candidates []Candidate, probeName string) (Result, error) {
	l := logging.Sub("poller")

	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff, interruptible: a cancellation must not wait
			// out the remainder of the delay.
			timer := time.NewTimer(p.unit * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				l.Debug("poll cancelled during delay", "attempt", attempt)
				return Result{}, ctx.Err()
			case <-timer.C:
			}
		}

		if p.progress != nil {
			p.progress(attempt, p.maxRetries)
		}

		for _, c := range candidates {
			if res, ok := probe(c, probeName); ok {
				l.Info("target materialized", "path", res.Path, "kind", res.Kind, "attempt", attempt)
				return res, nil
			}
		}

		if logging.Enabled(slog.LevelDebug) {
			l.Debug("attempt exhausted", "attempt", attempt, "maxRetries", p.maxRetries, "candidates", len(candidates))
		}
	}

	l.Warn("poll exhausted", "maxRetries", p.maxRetries, "probeName", probeName)
	return Result{}, nil
}

// probe checks one candidate. Container candidates look for probeName inside
// the directory as a file; direct candidates are checked as a file first,
// then as a directory.
func probe(c Candidate, probeName string) (Result, bool) {
	if !c.Direct {
		p := filepath.Join(c.Path, probeName)
		if isFile(p) {
			return Result{Path: p, Kind: KindFile}, true
		}
		return Result{}, false
	}

	if isFile(c.Path) {
		return Result{Path: c.Path, Kind: KindFile}, true
	}
	if isDir(c.Path) {
		return Result{Path: c.Path, Kind: KindDirectory}, true
	}
	return Result{}, false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
