package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/italolelis/mod_downloader/internal/storage"
	"github.com/italolelis/mod_downloader/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepository(t *testing.T) *sqlite.InstrumentedDownloadRepository {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlite.NewInstrumentedDownloadRepository(db, nil)
}

func TestTrackDownload(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	require.NoError(t, repo.TrackDownload(ctx, storage.DownloadRecord{
		ModID:      42,
		FileID:     7,
		FilePath:   "/mods/out.bin",
		Size:       1000,
		Status:     storage.StatusDownloaded,
		FinishedAt: "2026-01-02T10:00:00Z",
	}))

	record, err := repo.GetDownload(ctx, 42, 7)
	require.NoError(t, err)
	assert.Equal(t, "/mods/out.bin", record.FilePath)
	assert.Equal(t, int64(1000), record.Size)
	assert.Equal(t, storage.StatusDownloaded, record.Status)
	assert.Empty(t, record.Error)
	assert.Equal(t, "2026-01-02T10:00:00Z", record.FinishedAt)
}

func TestTrackDownload_ReplacesEarlierOutcome(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	require.NoError(t, repo.TrackDownload(ctx, storage.DownloadRecord{
		ModID: 1, FileID: 2, FilePath: "/mods/a", Status: storage.StatusFailed, Error: "boom", FinishedAt: "2026-01-01T00:00:00Z",
	}))
	require.NoError(t, repo.TrackDownload(ctx, storage.DownloadRecord{
		ModID: 1, FileID: 2, FilePath: "/mods/a", Size: 5, Status: storage.StatusDownloaded, FinishedAt: "2026-01-01T00:01:00Z",
	}))

	all, err := repo.GetDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, storage.StatusDownloaded, all[0].Status)
	assert.Empty(t, all[0].Error)
	assert.Equal(t, int64(5), all[0].Size)
}

func TestGetDownloadsByStatus(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	records := []storage.DownloadRecord{
		{ModID: 1, FileID: 1, Status: storage.StatusDownloaded, FinishedAt: "2026-01-01T00:00:00Z"},
		{ModID: 1, FileID: 2, Status: storage.StatusFailed, Error: "404", FinishedAt: "2026-01-01T00:00:01Z"},
		{ModID: 2, FileID: 1, Status: storage.StatusFailed, Error: "timeout", FinishedAt: "2026-01-01T00:00:02Z"},
	}
	for _, r := range records {
		require.NoError(t, repo.TrackDownload(ctx, r))
	}

	failed, err := repo.GetDownloadsByStatus(ctx, storage.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, int64(2), failed[0].ModID)
	assert.Equal(t, "timeout", failed[0].Error)
	assert.Equal(t, int64(1), failed[1].ModID)

	all, err := repo.GetDownloads(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetDownload_NotFound(t *testing.T) {
	repo := newRepository(t)

	_, err := repo.GetDownload(context.Background(), 9, 9)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
