package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/mod_downloader/internal/download"
	"github.com/italolelis/mod_downloader/internal/logctx"
	"github.com/italolelis/mod_downloader/internal/storage"
)

// DownloadManager is the subset of download.Manager the handler drives.
type DownloadManager interface {
	StartDownload(ctx context.Context, modID, fileID int64, targetPath string) *download.Record
	GetActiveDownload(modID, fileID int64) (*download.Record, bool)
	ActiveDownloads() []*download.Record
	CancelDownload(ctx context.Context, modID, fileID int64) bool
	CancelAllDownloads(ctx context.Context, modID int64) int
}

type StartDownloadRequest struct {
	ModID  int64 `json:"mod_id"`
	FileID int64 `json:"file_id"`
	// TargetPath is relative to the download directory. Defaults to
	// "<mod_id>/<file_id>".
	TargetPath string `json:"target_path,omitempty"`
}

type DownloadResponse struct {
	ModID          int64     `json:"mod_id"`
	FileID         int64     `json:"file_id"`
	TargetPath     string    `json:"target_path"`
	ExpectedBytes  int64     `json:"expected_bytes"`
	BytesReceived  int64     `json:"bytes_received"`
	Progress       float64   `json:"progress"`
	BytesPerSecond int64     `json:"bytes_per_second"`
	StartedAt      time.Time `json:"started_at"`
	Complete       bool      `json:"complete"`
	Aborted        bool      `json:"aborted"`
	Error          string    `json:"error,omitempty"`
}

type HistoryResponse struct {
	ModID      int64  `json:"mod_id"`
	FileID     int64  `json:"file_id"`
	FilePath   string `json:"file_path"`
	Size       int64  `json:"size"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	FinishedAt string `json:"finished_at"`
}

type DownloadsHandler struct {
	username    string
	password    string
	manager     DownloadManager
	history     storage.DownloadReadRepository
	downloadDir string
}

// NewDownloadsHandler creates a new downloads handler. Basic auth is enforced
// when username is not empty.
func NewDownloadsHandler(username, password string, manager DownloadManager, history storage.DownloadReadRepository, downloadDir string) *DownloadsHandler {
	return &DownloadsHandler{
		username:    username,
		password:    password,
		manager:     manager,
		history:     history,
		downloadDir: downloadDir,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Post("/downloads", h.HandleStart)
	r.Get("/downloads", h.HandleList)
	r.Get("/downloads/{modID}/{fileID}", h.HandleGet)
	r.Delete("/downloads/{modID}/{fileID}", h.HandleCancel)
	r.Delete("/downloads/{modID}", h.HandleCancelAll)
	r.Get("/history", h.HandleHistory)

	return r
}

// HandleStart starts a download, or returns the one already running for the same file.
func (h *DownloadsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req StartDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.ModID <= 0 || req.FileID <= 0 {
		http.Error(w, "mod_id and file_id must be positive", http.StatusBadRequest)

		return
	}

	target, err := h.resolveTarget(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	// Downloads outlive the request.
	ctx := context.WithoutCancel(r.Context())

	rec := h.manager.StartDownload(ctx, req.ModID, req.FileID, target)

	writeJSON(w, r, http.StatusAccepted, toDownloadResponse(rec))
}

func (h *DownloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	active := h.manager.ActiveDownloads()

	resp := make([]DownloadResponse, 0, len(active))
	for _, rec := range active {
		resp = append(resp, toDownloadResponse(rec))
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *DownloadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	modID, fileID, ok := parseKey(w, r)
	if !ok {
		return
	}

	rec, found := h.manager.GetActiveDownload(modID, fileID)
	if !found {
		http.Error(w, "no active download", http.StatusNotFound)

		return
	}

	writeJSON(w, r, http.StatusOK, toDownloadResponse(rec))
}

// HandleCancel cancels a single download. Cancellation completes asynchronously.
func (h *DownloadsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	modID, fileID, ok := parseKey(w, r)
	if !ok {
		return
	}

	if !h.manager.CancelDownload(r.Context(), modID, fileID) {
		http.Error(w, "no active download", http.StatusNotFound)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *DownloadsHandler) HandleCancelAll(w http.ResponseWriter, r *http.Request) {
	modID, err := strconv.ParseInt(chi.URLParam(r, "modID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid mod id", http.StatusBadRequest)

		return
	}

	cancelled := h.manager.CancelAllDownloads(r.Context(), modID)

	writeJSON(w, r, http.StatusAccepted, map[string]int{"cancelled": cancelled})
}

// HandleHistory lists finished downloads, optionally filtered by ?status=.
func (h *DownloadsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var (
		records []storage.DownloadRecord
		err     error
	)

	if status := r.URL.Query().Get("status"); status != "" {
		records, err = h.history.GetDownloadsByStatus(r.Context(), status)
	} else {
		records, err = h.history.GetDownloads(r.Context())
	}

	if err != nil {
		logger.Error("failed to load download history", "err", err)
		http.Error(w, "failed to load download history", http.StatusInternalServerError)

		return
	}

	resp := make([]HistoryResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, HistoryResponse(rec))
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *DownloadsHandler) resolveTarget(req StartDownloadRequest) (string, error) {
	target := req.TargetPath
	if target == "" {
		target = filepath.Join(strconv.FormatInt(req.ModID, 10), strconv.FormatInt(req.FileID, 10))
	}

	if !filepath.IsLocal(target) {
		return "", errors.New("target_path must be a relative path inside the download directory")
	}

	return filepath.Join(h.downloadDir, target), nil
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return basicAuth(h.username, h.password)(next)
}

// basicAuth rejects requests without matching credentials. It lets every
// request through when wantUser is empty.
func basicAuth(wantUser, wantPass string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wantUser == "" {
				next.ServeHTTP(w, r)

				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				http.Error(w, "invalid authorization format", http.StatusUnauthorized)

				return
			}

			if username != wantUser || password != wantPass {
				http.Error(w, "invalid username or password", http.StatusUnauthorized)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func parseKey(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	modID, err := strconv.ParseInt(chi.URLParam(r, "modID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid mod id", http.StatusBadRequest)

		return 0, 0, false
	}

	fileID, err := strconv.ParseInt(chi.URLParam(r, "fileID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid file id", http.StatusBadRequest)

		return 0, 0, false
	}

	return modID, fileID, true
}

func toDownloadResponse(rec *download.Record) DownloadResponse {
	resp := DownloadResponse{
		ModID:          rec.Key().ModID,
		FileID:         rec.Key().FileID,
		TargetPath:     rec.TargetPath(),
		ExpectedBytes:  rec.ExpectedBytes(),
		BytesReceived:  rec.BytesReceived(),
		Progress:       rec.Progress(),
		BytesPerSecond: rec.BytesPerSecond(),
		StartedAt:      rec.StartedAt(),
		Complete:       rec.IsComplete(),
		Aborted:        rec.WasAborted(),
	}

	if err := rec.Err(); err != nil {
		resp.Error = fmt.Sprintf("%s: %v", download.FailureKind(err), err)
	}

	return resp
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
