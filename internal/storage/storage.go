package storage

import (
	"context"
	"errors"
)

// Download statuses stored in the history.
const (
	StatusDownloaded = "downloaded"
	StatusFailed     = "failed"
)

var ErrNotFound = errors.New("download not found")

// DownloadRecord is one finished download in the history.
type DownloadRecord struct {
	ModID      int64
	FileID     int64
	FilePath   string
	Size       int64
	Status     string
	Error      string
	FinishedAt string
}

type DownloadReadRepository interface {
	GetDownloads(ctx context.Context) ([]DownloadRecord, error)
	GetDownloadsByStatus(ctx context.Context, status string) ([]DownloadRecord, error)
	GetDownload(ctx context.Context, modID, fileID int64) (DownloadRecord, error)
}

type DownloadWriteRepository interface {
	// TrackDownload records the outcome of a download, replacing any earlier
	// outcome for the same file.
	TrackDownload(ctx context.Context, record DownloadRecord) error
}

type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
