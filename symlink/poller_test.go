package symlink

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_ImmediateHit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Show"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Show", "ep.mkv"), []byte("x"), 0o644))

	attempts := 0
	p := NewPoller(10, time.Millisecond, func(attempt, max int) { attempts++ })

	res, err := p.Poll(context.Background(), Candidates("Show/ep.mkv", root), "ep.mkv")
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, filepath.Join(root, "Show", "ep.mkv"), res.Path)
	assert.Equal(t, KindFile, res.Kind)

	// Hit on attempt 0: remaining attempts are skipped.
	assert.Equal(t, 1, attempts)
}

func TestPoller_ExhaustionEmitsMaxRetriesObservations(t *testing.T) {
	root := t.TempDir()

	var observed [][2]int
	p := NewPoller(5, time.Millisecond, func(attempt, max int) {
		observed = append(observed, [2]int{attempt, max})
	})

	res, err := p.Poll(context.Background(), Candidates("gone.mkv", root), "gone.mkv")
	require.NoError(t, err)
	assert.False(t, res.Found())

	// One observation per attempt, attempt indices 0..4.
	require.Len(t, observed, 5)
	for i, o := range observed {
		assert.Equal(t, i, o[0])
		assert.Equal(t, 5, o[1])
	}
}

func TestPoller_FindsFileOnLaterAttempt(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Show"), 0o755))
	target := filepath.Join(root, "Show", "late.mkv")

	// The progress hook runs before each attempt's probes, so creating the
	// file when attempt 2 is announced guarantees attempt 2 finds it.
	attempts := 0
	p := NewPoller(10, time.Millisecond, func(attempt, max int) {
		attempts++
		if attempt == 2 {
			require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
		}
	})

	res, err := p.Poll(context.Background(), Candidates("Show/late.mkv", root), "late.mkv")
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, target, res.Path)
	assert.Equal(t, 3, attempts) // attempts 0, 1, 2 — no more
}

func TestPoller_CancelDuringDelay(t *testing.T) {
	root := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	// Attempt 0 probes instantly, then a 500ms delay precedes attempt 1.
	// Cancellation must interrupt that delay, not wait it out.
	start := time.Now()
	p := NewPoller(3, 500*time.Millisecond, nil)
	res, err := p.Poll(ctx, Candidates("missing.mkv", root), "missing.mkv")

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Found())
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestPoller_DirectoryHitBeatsLaterFileHit(t *testing.T) {
	root := t.TempDir()

	// Candidate 1 (root/late/late.mkv) materialized as a directory; the
	// later ancestor candidate would hit root/late.mkv as a file. Probing is
	// candidate-major, so the earlier directory hit wins.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "late", "late.mkv"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "late.mkv"), []byte("x"), 0o644))

	p := NewPoller(3, time.Millisecond, nil)
	res, err := p.Poll(context.Background(), Candidates("late.mkv", root), "late.mkv")
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, filepath.Join(root, "late", "late.mkv"), res.Path)
	assert.Equal(t, KindDirectory, res.Kind)
}

func TestPoller_ContainerGuessHitsFirst(t *testing.T) {
	root := t.TempDir()

	// The file landed inside a directory named after its stem — the most
	// specific guess, probed before any ancestor fallback.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "S01E01"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "S01E01", "S01E01.mkv"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "S01E01.mkv"), []byte("decoy"), 0o644))

	p := NewPoller(3, time.Millisecond, nil)
	res, err := p.Poll(context.Background(), Candidates("S01E01.mkv", root), "S01E01.mkv")
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, filepath.Join(root, "S01E01", "S01E01.mkv"), res.Path)
	assert.Equal(t, KindFile, res.Kind)
}
