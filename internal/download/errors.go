package download

import (
	"errors"
	"fmt"

	"github.com/italolelis/mod_downloader/internal/transfer"
)

// Failure kinds reported in metrics and download history.
const (
	KindMetadataFetchFailed     = "metadata_fetch_failed"
	KindStagingFileCreateFailed = "staging_file_create_failed"
	KindTransferNetworkError    = "transfer_network_error"
	KindTransferHTTPError       = "transfer_http_error"
	KindLocalPersistFailed      = "local_persist_failed"
)

// MetadataFetchError means the download location of a file could not be resolved.
type MetadataFetchError struct {
	Key Key
	Err error
}

func (e *MetadataFetchError) Error() string {
	return fmt.Sprintf("failed to resolve file %s: %v", e.Key, e.Err)
}

func (e *MetadataFetchError) Unwrap() error {
	return e.Err
}

// StagingFileError means the staging file could not be created. No transfer was started.
type StagingFileError struct {
	Key  Key
	Path string
	Err  error
}

func (e *StagingFileError) Error() string {
	return fmt.Sprintf("failed to create staging file %s for %s: %v", e.Path, e.Key, e.Err)
}

func (e *StagingFileError) Unwrap() error {
	return e.Err
}

// PersistError means the received bytes could not be written or promoted to
// the target path. The staging file is left in place.
type PersistError struct {
	Key  Key
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist %s to %s: %v", e.Key, e.Path, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// FailureKind classifies a failure delivered through a Failed event.
func FailureKind(err error) string {
	var (
		metaErr    *MetadataFetchError
		stagingErr *StagingFileError
		persistErr *PersistError
		httpErr    *transfer.HTTPError
		netErr     *transfer.NetworkError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &metaErr):
		return KindMetadataFetchFailed
	case errors.As(err, &stagingErr):
		return KindStagingFileCreateFailed
	case errors.As(err, &persistErr):
		return KindLocalPersistFailed
	case errors.As(err, &httpErr):
		return KindTransferHTTPError
	case errors.As(err, &netErr):
		return KindTransferNetworkError
	default:
		return "unknown"
	}
}
