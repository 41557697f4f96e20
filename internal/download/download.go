// Package download coordinates concurrent, cancellable downloads of mod files.
//
// A download is identified by its (mod id, file id) Key. Bytes are streamed
// into "<target>.download" and the staging file is promoted to the target
// path once the transfer completes. Subscribers observe the lifecycle through
// Started, Succeeded and Failed events.
package download

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/italolelis/mod_downloader/internal/download/progress"
	"github.com/italolelis/mod_downloader/internal/transfer"
)

// StagingSuffix is appended to the target path of a download while it is in flight.
const StagingSuffix = ".download"

// Key identifies a download by mod and file version.
type Key struct {
	ModID  int64
	FileID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.ModID, k.FileID)
}

// FileDescriptor is the resolved download location of a mod file.
type FileDescriptor struct {
	ModID     int64
	FileID    int64
	Filename  string
	Size      int64
	URL       string    // pre-signed, valid until ExpiresAt
	ExpiresAt time.Time // zero when the URL does not expire
}

// Key returns the download key of the described file.
func (d FileDescriptor) Key() Key {
	return Key{ModID: d.ModID, FileID: d.FileID}
}

// FileResolver looks up the download location of a mod file.
type FileResolver interface {
	GetFileDescriptor(ctx context.Context, modID, fileID int64) (*FileDescriptor, error)
}

// FileStore is the file I/O a download needs.
type FileStore interface {
	CreateFile(path string) (io.WriteCloser, error)
	DeleteFile(path string) error
	ReplaceFile(src, dst string) error
}

// Record is the live state of one download. Its fields are owned by the
// Manager; callers read them through the accessor methods.
type Record struct {
	key        Key
	targetPath string
	startedAt  time.Time

	mu             sync.RWMutex
	expectedBytes  int64
	handle         *transfer.Handle
	stopTransfer   context.CancelFunc
	finalBytes     int64
	started        bool
	complete       bool
	aborted        bool
	err            error
	bytesPerSecond int64
	speed          *progress.SpeedEstimator
}

func newRecord(key Key, targetPath string, samples int, now time.Time) *Record {
	return &Record{
		key:           key,
		targetPath:    targetPath,
		startedAt:     now,
		expectedBytes: -1,
		speed:         progress.NewSpeedEstimator(samples),
	}
}

// Key returns the mod and file the download belongs to.
func (r *Record) Key() Key {
	return r.key
}

// TargetPath is where the file is placed once the download succeeds.
func (r *Record) TargetPath() string {
	return r.targetPath
}

// StagingPath is the file the transfer writes into.
func (r *Record) StagingPath() string {
	return r.targetPath + StagingSuffix
}

// StartedAt returns when the download was requested.
func (r *Record) StartedAt() time.Time {
	return r.startedAt
}

// ExpectedBytes returns the file size, or -1 until metadata is resolved.
func (r *Record) ExpectedBytes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.expectedBytes
}

// BytesReceived returns the number of bytes written to the staging file so far.
func (r *Record) BytesReceived() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.handle == nil || r.complete {
		return r.finalBytes
	}

	return r.handle.BytesReceived()
}

// Progress returns the completed fraction in [0, 1], or 0 while the size is unknown.
func (r *Record) Progress() float64 {
	expected := r.ExpectedBytes()
	if expected <= 0 {
		return 0
	}

	return min(float64(r.BytesReceived())/float64(expected), 1)
}

// IsComplete reports whether the download reached a terminal state.
func (r *Record) IsComplete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.complete
}

// WasAborted reports whether the download was cancelled.
func (r *Record) WasAborted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.aborted
}

// Err returns the failure of a completed, non-cancelled download.
func (r *Record) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.err
}

// BytesPerSecond returns the latest smoothed throughput.
func (r *Record) BytesPerSecond() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.bytesPerSecond
}

func (r *Record) setExpectedBytes(n int64) {
	r.mu.Lock()
	r.expectedBytes = n
	r.mu.Unlock()
}

// reserveTransfer registers stop as the way to cancel a transfer that has no
// handle yet. It reports false when the download is already aborted.
func (r *Record) reserveTransfer(stop context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.aborted {
		return false
	}

	r.stopTransfer = stop

	return true
}

// markStarted lets the monitor sample the record.
func (r *Record) markStarted() {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
}

// sample feeds the transfer's byte count into the speed estimator.
func (r *Record) sample(timestamp float64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.complete || r.handle == nil || r.speed == nil {
		return r.bytesPerSecond
	}

	r.speed.AddSample(timestamp, r.handle.BytesReceived())
	r.bytesPerSecond = r.speed.AverageRate()

	return r.bytesPerSecond
}

// finish moves the record to its terminal state. The failure is only kept
// when the download was not cancelled.
func (r *Record) finish(received int64, failure error) (aborted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bytesPerSecond = 0
	r.finalBytes = received
	r.complete = true
	r.speed = nil

	if !r.aborted {
		r.err = failure
	}

	return r.aborted
}
