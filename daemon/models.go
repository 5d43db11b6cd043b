// Package daemon is the service shell around the symlink resolver: it keeps
// download records, schedules resolutions, watches the mount for late
// materialization, and broadcasts events to API clients.
package daemon

import "time"

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// Status is the lifecycle state of a download record.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusResolving Status = "resolving"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Download is one persisted download request.
type Download struct {
	ID         int64   `json:"id"`
	SourceURI  string  `json:"sourceUri"`
	RelPath    string  `json:"relPath"`
	DestPath   string  `json:"destPath"`
	Status     Status  `json:"status"`
	LinkedPath *string `json:"linkedPath"`
	Error      *string `json:"error"`
	CreatedAt  int64   `json:"createdAt"` // nanoseconds
	UpdatedAt  int64   `json:"updatedAt"` // nanoseconds
}

func nowNano() int64 {
	return nowFunc().UnixNano()
}
