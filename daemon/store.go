package daemon

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/mountlink/mountlink/logging"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Store provides CRUD operations on download records.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert persists a new download in the queued state and returns its id.
func (s *Store) Insert(sourceURI, relPath, destPath string) (int64, error) {
	now := nowNano()
	res, err := s.db.Exec(`
		INSERT INTO downloads (source_uri, rel_path, dest_path, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sourceURI, relPath, destPath, StatusQueued, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert download: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	logging.Sub("store").Debug("Insert", "id", id, "relPath", relPath)
	return id, nil
}

// Get retrieves a download by id, or nil when absent.
func (s *Store) Get(id int64) (*Download, error) {
	d := &Download{}
	err := s.db.QueryRow(`
		SELECT id, source_uri, rel_path, dest_path, status, linked_path, error, created_at, updated_at
		FROM downloads WHERE id = ?
	`, id).Scan(&d.ID, &d.SourceURI, &d.RelPath, &d.DestPath, &d.Status, &d.LinkedPath, &d.Error, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get download: %w", err)
	}
	return d, nil
}

// List returns all downloads, newest first.
func (s *Store) List() ([]Download, error) {
	rows, err := s.db.Query(`
		SELECT id, source_uri, rel_path, dest_path, status, linked_path, error, created_at, updated_at
		FROM downloads ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	defer rows.Close()

	var out []Download
	for rows.Next() {
		var d Download
		if err := rows.Scan(&d.ID, &d.SourceURI, &d.RelPath, &d.DestPath, &d.Status, &d.LinkedPath, &d.Error, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetStatus updates only the status of an existing download.
func (s *Store) SetStatus(id int64, status Status) error {
	logging.Sub("store").Debug("SetStatus", "id", id, "status", status)
	_, err := s.db.Exec(`UPDATE downloads SET status = ?, updated_at = ? WHERE id = ?`,
		status, nowNano(), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// MarkCompleted records the resolved path and flips the status to completed.
func (s *Store) MarkCompleted(id int64, linkedPath string) error {
	logging.Sub("store").Debug("MarkCompleted", "id", id, "linkedPath", linkedPath)
	_, err := s.db.Exec(`
		UPDATE downloads SET status = ?, linked_path = ?, error = NULL, updated_at = ? WHERE id = ?
	`, StatusCompleted, linkedPath, nowNano(), id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed records the error message and flips the status to failed.
func (s *Store) MarkFailed(id int64, errMsg string) error {
	logging.Sub("store").Debug("MarkFailed", "id", id, "err", errMsg)
	_, err := s.db.Exec(`
		UPDATE downloads SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, StatusFailed, errMsg, nowNano(), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// UnfinishedIDs returns downloads that were queued or mid-resolution when the
// process last stopped, oldest first, for boot-time requeueing.
func (s *Store) UnfinishedIDs() ([]int64, error) {
	rows, err := s.db.Query(`
		SELECT id FROM downloads WHERE status IN (?, ?) ORDER BY created_at ASC, id ASC
	`, StatusQueued, StatusResolving)
	if err != nil {
		return nil, fmt.Errorf("unfinished ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FailedMatching returns failed downloads whose expected filename matches the
// given base name. Used by the mount watcher for late-materialization
// recovery.
func (s *Store) FailedMatching(baseName string) ([]int64, error) {
	// LIKE treats % and _ as wildcards; escape them so literal filename
	// characters never over-match.
	escaped := likeEscaper.Replace(baseName)
	rows, err := s.db.Query(`
		SELECT id FROM downloads
		WHERE status = ?1 AND (rel_path = ?2 OR rel_path LIKE '%/' || ?3 ESCAPE '\')
	`, StatusFailed, baseName, escaped)
	if err != nil {
		return nil, fmt.Errorf("failed matching: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StatusCounts returns the number of downloads per status.
func (s *Store) StatusCounts() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM downloads GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}
