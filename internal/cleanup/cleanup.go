package cleanup

import (
	"context"
	"os"
	"time"

	"github.com/italolelis/mod_downloader/internal/download"
	"github.com/italolelis/mod_downloader/internal/logctx"
	"github.com/italolelis/mod_downloader/internal/storage"
	"github.com/spf13/afero"
)

// ActiveDownloads reports downloads that are still in flight.
type ActiveDownloads interface {
	GetActiveDownload(modID, fileID int64) (*download.Record, bool)
}

// DeleteStaleStagingFiles deletes the staging files left behind by failed
// downloads once both the failure and the file's last write are older than
// keepDuration. Files of downloads reported by active are never touched; active
// may be nil. It returns the number of files deleted.
func DeleteStaleStagingFiles(ctx context.Context, fs afero.Fs, active ActiveDownloads, dr []storage.DownloadRecord, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	var deleted int

	for _, rec := range dr {
		if rec.Status != storage.StatusFailed || rec.FilePath == "" {
			continue
		}

		if active != nil {
			if _, ok := active.GetActiveDownload(rec.ModID, rec.FileID); ok {
				continue // retried, staging file is being written
			}
		}

		stagingPath := rec.FilePath + download.StagingSuffix

		info, err := fs.Stat(stagingPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.ErrorContext(ctx, "failed to stat staging file", "file", stagingPath, "err", err)

			return deleted, err
		}

		finishedAt, err := time.Parse(time.RFC3339, rec.FinishedAt)
		if err != nil {
			logger.WarnContext(ctx, "failed to parse finish time, using file mod time", "file", stagingPath, "err", err)

			finishedAt = info.ModTime()
		}

		lastTouched := finishedAt
		if info.ModTime().After(lastTouched) {
			lastTouched = info.ModTime()
		}

		if now.Sub(lastTouched) <= keepDuration {
			continue
		}

		if err := fs.Remove(stagingPath); err != nil && !os.IsNotExist(err) {
			logger.ErrorContext(ctx, "failed to delete stale staging file", "file", stagingPath, "err", err)

			return deleted, err
		}

		deleted++

		logger.InfoContext(ctx, "deleted stale staging file", "file", stagingPath)
	}

	return deleted, nil
}
