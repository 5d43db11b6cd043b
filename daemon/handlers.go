package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"github.com/mountlink/mountlink/logging"
)

// DownloadResponse is a single download record in API responses.
type DownloadResponse struct {
	ID         int64   `json:"id"`
	SourceURI  string  `json:"sourceUri"`
	RelPath    string  `json:"relPath"`
	DestPath   string  `json:"destPath"`
	Status     string  `json:"status"`
	LinkedPath *string `json:"linkedPath,omitempty"`
	Error      *string `json:"error,omitempty"`
	CreatedAt  int64   `json:"createdAt"`
	UpdatedAt  int64   `json:"updatedAt"`
}

// StatsResponse holds aggregate daemon statistics.
type StatsResponse struct {
	QueueLen     int             `json:"queueLen"`
	StatusCounts map[string]int  `json:"statusCounts"`
	RecentErrors []logging.Entry `json:"recentErrors"`
}

// Handlers holds the HTTP handlers for the download API.
type Handlers struct {
	store  *Store
	daemon *Daemon
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(store *Store, daemon *Daemon) *Handlers {
	return &Handlers{store: store, daemon: daemon}
}

// Register mounts all routes on the router.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/api/downloads", h.HandleCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/downloads", h.HandleList).Methods(http.MethodGet)
	r.HandleFunc("/api/downloads/{id}", h.HandleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/downloads/{id}/cancel", h.HandleCancel).Methods(http.MethodPost)
	r.HandleFunc("/api/downloads/{id}/pause", h.HandlePause).Methods(http.MethodPost)
	r.HandleFunc("/api/downloads/{id}/resume", h.HandleResume).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", h.HandleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/events", h.HandleSSE).Methods(http.MethodGet)
}

// CreateRequest is the request body for starting a download.
type CreateRequest struct {
	SourceURI string `json:"sourceUri"`
	RelPath   string `json:"relPath"`
	DestPath  string `json:"destPath"`
}

// HandleCreate handles POST /api/downloads
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.Warn("create: bad body", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RelPath == "" || req.DestPath == "" {
		http.Error(w, "relPath and destPath are required", http.StatusBadRequest)
		return
	}

	id, err := h.daemon.Enqueue(req.SourceURI, req.RelPath, req.DestPath)
	if errors.Is(err, ErrBadRelPath) {
		l.Warn("create: bad relPath", "relPath", req.RelPath)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		l.Error("create failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	l.Info("HTTP download created", "id", id, "relPath", req.RelPath)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]int64{"id": id}) //nolint:errcheck
}

// HandleList handles GET /api/downloads
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	records, err := h.store.List()
	if err != nil {
		l.Error("list failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	items := lo.Map(records, func(rec Download, _ int) DownloadResponse {
		return toResponse(&rec)
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
		"items": items,
	})
}

// HandleGet handles GET /api/downloads/{id}
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toResponse(rec)) //nolint:errcheck
}

// HandleCancel handles POST /api/downloads/{id}/cancel
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	if err := h.daemon.Cancel(rec.ID); err != nil {
		l.Error("cancel failed", "id", rec.ID, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	l.Info("HTTP cancel", "id", rec.ID)
	writeOK(w)
}

// HandlePause handles POST /api/downloads/{id}/pause
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	h.daemon.Pause(rec.ID)
	writeOK(w)
}

// HandleResume handles POST /api/downloads/{id}/resume
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	h.daemon.Resume(rec.ID)
	writeOK(w)
}

// HandleStats handles GET /api/stats
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	counts, err := h.store.StatusCounts()
	if err != nil {
		l.Error("stats failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatsResponse{ //nolint:errcheck
		QueueLen:     h.daemon.Queue().Len(),
		StatusCounts: byStatus,
		RecentErrors: logging.RecentErrors(),
	})
}

// HandleSSE handles GET /api/events (Server-Sent Events stream).
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.daemon.Bus().Subscribe()
	defer h.daemon.Bus().Unsubscribe(ch)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n") //nolint:errcheck
			flusher.Flush()
		}
	}
}

// loadRecord parses the {id} path variable and loads the record, writing the
// error response itself when that fails.
func (h *Handlers) loadRecord(w http.ResponseWriter, r *http.Request) (*Download, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return nil, false
	}

	rec, err := h.store.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	if rec == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return rec, true
}

func toResponse(rec *Download) DownloadResponse {
	return DownloadResponse{
		ID:         rec.ID,
		SourceURI:  rec.SourceURI,
		RelPath:    rec.RelPath,
		DestPath:   rec.DestPath,
		Status:     string(rec.Status),
		LinkedPath: rec.LinkedPath,
		Error:      rec.Error,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"}) //nolint:errcheck
}
