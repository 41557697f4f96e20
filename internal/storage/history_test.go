package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/italolelis/mod_downloader/internal/download"
	"github.com/italolelis/mod_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepository struct {
	records []storage.DownloadRecord
}

func (m *memoryRepository) TrackDownload(_ context.Context, record storage.DownloadRecord) error {
	m.records = append(m.records, record)

	return nil
}

func TestHistoryListener(t *testing.T) {
	repo := &memoryRepository{}
	listen := storage.HistoryListener(context.Background(), repo)

	key := download.Key{ModID: 42, FileID: 7}

	listen(download.Event{Type: download.EventStarted, Key: key})
	listen(download.Event{Type: download.EventSucceeded, Key: key})
	listen(download.Event{Type: download.EventFailed, Key: key, Err: errors.New("connection reset")})

	require.Len(t, repo.records, 2)

	assert.Equal(t, storage.StatusDownloaded, repo.records[0].Status)
	assert.Equal(t, int64(42), repo.records[0].ModID)
	assert.Equal(t, int64(7), repo.records[0].FileID)
	assert.NotEmpty(t, repo.records[0].FinishedAt)

	assert.Equal(t, storage.StatusFailed, repo.records[1].Status)
	assert.Equal(t, "connection reset", repo.records[1].Error)
}
