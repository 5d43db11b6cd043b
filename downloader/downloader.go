// Package downloader defines the capability contract implemented by every
// download strategy, the event payloads they report, and the shared error
// taxonomy. The symlink resolver is one strategy; direct-HTTP or peer-to-peer
// variants plug into the same surface.
package downloader

import "context"

// Downloader is the capability surface of a single download invocation.
type Downloader interface {
	// Download runs the strategy to completion and returns the resolved
	// absolute path. Zero or more progress events are reported, then exactly
	// one completion event — except on cancellation, where the completion
	// event is best-effort.
	Download(ctx context.Context) (string, error)

	// Cancel requests cooperative cancellation and returns immediately.
	// Requesting it twice is harmless.
	Cancel()

	// Pause and Resume are accepted by every strategy; variants for which
	// they are meaningless treat them as no-ops.
	Pause()
	Resume()
}

// Target describes one download. Immutable once created.
type Target struct {
	// SourceURI identifies the originating remote item. Diagnostics only.
	SourceURI string

	// RelPath is the path, relative to the mount root, the item is expected
	// to occupy once the remote backend materializes it. Never empty.
	RelPath string

	// DestPath is where the symlink (or downloaded payload, for other
	// strategies) must end up.
	DestPath string
}
