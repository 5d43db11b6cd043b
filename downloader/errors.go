package downloader

import "errors"

// Error taxonomy shared by all strategies. Strategies wrap these with
// operation detail via fmt.Errorf("...: %w", ...); callers branch with
// errors.Is.
var (
	// ErrNotFoundAfterRetries: polling exhausted without the target
	// materializing under the mount root.
	ErrNotFoundAfterRetries = errors.New("target not found after retries")

	// ErrLinkCreate: the underlying filesystem refused the symlink
	// (permissions, unsupported filesystem, conflicting existing path).
	ErrLinkCreate = errors.New("symlink creation failed")

	// ErrLinkVerify: the link was created but does not resolve to an
	// existing file.
	ErrLinkVerify = errors.New("symlink verification failed")

	// ErrSourceMissing: the source vanished between discovery and link
	// creation.
	ErrSourceMissing = errors.New("source path missing")
)
