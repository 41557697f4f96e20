package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/italolelis/mod_downloader/internal/storage"
)

const selectDownloads = `SELECT mod_id, file_id, file_path, size, status, error, finished_at FROM downloads`

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

func (r *DownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	return r.query(ctx, selectDownloads+` ORDER BY finished_at DESC, id DESC`)
}

// GetDownloadsByStatus returns the downloads with the given status, most recent first.
func (r *DownloadRepository) GetDownloadsByStatus(ctx context.Context, status string) ([]storage.DownloadRecord, error) {
	return r.query(ctx, selectDownloads+` WHERE status = ? ORDER BY finished_at DESC, id DESC`, status)
}

func (r *DownloadRepository) GetDownload(ctx context.Context, modID, fileID int64) (storage.DownloadRecord, error) {
	row := r.db.QueryRowContext(ctx, selectDownloads+` WHERE mod_id = ? AND file_id = ?`, modID, fileID)

	record, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DownloadRecord{}, storage.ErrNotFound
	}

	return record, err
}

// TrackDownload upserts the outcome of a download keyed by mod and file id.
func (r *DownloadRepository) TrackDownload(ctx context.Context, record storage.DownloadRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (mod_id, file_id, file_path, size, status, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mod_id, file_id) DO UPDATE SET
			file_path = excluded.file_path,
			size = excluded.size,
			status = excluded.status,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, record.ModID, record.FileID, record.FilePath, record.Size, record.Status, nullString(record.Error), record.FinishedAt)

	return err
}

func (r *DownloadRepository) query(ctx context.Context, query string, args ...any) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		record, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDownload(s scanner) (storage.DownloadRecord, error) {
	var record storage.DownloadRecord

	var filePath, errMsg, finishedAt sql.NullString

	err := s.Scan(&record.ModID, &record.FileID, &filePath, &record.Size, &record.Status, &errMsg, &finishedAt)
	if err != nil {
		return storage.DownloadRecord{}, err
	}

	record.FilePath = filePath.String
	record.Error = errMsg.String
	record.FinishedAt = finishedAt.String

	return record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
