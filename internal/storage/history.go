package storage

import (
	"context"
	"time"

	"github.com/italolelis/mod_downloader/internal/download"
	"github.com/italolelis/mod_downloader/internal/logctx"
)

// HistoryListener returns a download.Listener that records every terminal
// download event in repo. Started events are ignored.
func HistoryListener(ctx context.Context, repo DownloadWriteRepository) download.Listener {
	logger := logctx.LoggerFromContext(ctx)

	return func(e download.Event) {
		record := DownloadRecord{
			ModID:      e.Key.ModID,
			FileID:     e.Key.FileID,
			FinishedAt: time.Now().UTC().Format(time.RFC3339),
		}

		if e.Record != nil {
			record.FilePath = e.Record.TargetPath()
			record.Size = e.Record.BytesReceived()
		}

		switch e.Type {
		case download.EventSucceeded:
			record.Status = StatusDownloaded
		case download.EventFailed:
			record.Status = StatusFailed
			if e.Err != nil {
				record.Error = e.Err.Error()
			}
		default:
			return
		}

		if err := repo.TrackDownload(ctx, record); err != nil {
			logger.ErrorContext(ctx, "failed to track download", "mod_id", e.Key.ModID, "file_id", e.Key.FileID, "err", err)
		}
	}
}
