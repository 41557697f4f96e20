package download

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mod_downloader/internal/download/progress"
	"github.com/italolelis/mod_downloader/internal/logctx"
	"github.com/italolelis/mod_downloader/internal/telemetry"
	"github.com/italolelis/mod_downloader/internal/transfer"
)

// DefaultProgressInterval is how often the monitor refreshes download rates.
const DefaultProgressInterval = 500 * time.Millisecond

// Option configures a Manager.
type Option func(*Manager)

// WithProgressInterval sets the monitor tick interval.
func WithProgressInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSpeedSamples sets the number of samples each speed estimator retains.
func WithSpeedSamples(n int) Option {
	return func(m *Manager) {
		if n > 1 {
			m.samples = n
		}
	}
}

// WithTelemetry records download metrics on tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(m *Manager) {
		m.telemetry = tel
	}
}

// Manager owns the set of active downloads. At most one download exists per
// Key at any time.
type Manager struct {
	resolver  FileResolver
	files     FileStore
	transfers *transfer.Client
	telemetry *telemetry.Telemetry

	interval time.Duration
	samples  int
	epoch    time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex // guards the fields below; acquired before any Record.mu
	active     map[Key]*Record
	monitoring bool
	closed     bool

	listenersMu    sync.RWMutex
	listeners      map[int]Listener
	nextListenerID int
}

// NewManager creates a Manager. Downloads run until they finish, are
// cancelled, or Close is called; ctx only provides values such as the logger.
func NewManager(ctx context.Context, resolver FileResolver, files FileStore, transfers *transfer.Client, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m := &Manager{
		resolver:  resolver,
		files:     files,
		transfers: transfers,
		interval:  DefaultProgressInterval,
		samples:   progress.DefaultSampleCount,
		epoch:     time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[Key]*Record),
		listeners: make(map[int]Listener),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// StartDownload starts downloading the given mod file to targetPath, resolving
// its download location first. If a download for the same key is already
// active it is returned unchanged and targetPath is ignored.
//
// The returned record is live: its fields fill in as the download progresses.
func (m *Manager) StartDownload(ctx context.Context, modID, fileID int64, targetPath string) *Record {
	return m.start(ctx, Key{ModID: modID, FileID: fileID}, targetPath, nil)
}

// StartDownloadFile is StartDownload for a caller that already holds the
// file descriptor. The descriptor's URL must not have expired.
func (m *Manager) StartDownloadFile(ctx context.Context, desc FileDescriptor, targetPath string) *Record {
	if !desc.ExpiresAt.IsZero() && !desc.ExpiresAt.After(time.Now()) {
		panic(fmt.Sprintf("download: descriptor for %s expired at %s", desc.Key(), desc.ExpiresAt.Format(time.RFC3339)))
	}

	return m.start(ctx, desc.Key(), targetPath, &desc)
}

// GetActiveDownload returns the active download for the key, if any.
func (m *Manager) GetActiveDownload(modID, fileID int64) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.active[Key{ModID: modID, FileID: fileID}]

	return rec, ok
}

// ActiveDownloads returns all active downloads ordered by key.
func (m *Manager) ActiveDownloads() []*Record {
	m.mu.Lock()
	records := make([]*Record, 0, len(m.active))

	for _, rec := range m.active {
		records = append(records, rec)
	}
	m.mu.Unlock()

	slices.SortFunc(records, func(a, b *Record) int {
		if c := cmp.Compare(a.key.ModID, b.key.ModID); c != 0 {
			return c
		}

		return cmp.Compare(a.key.FileID, b.key.FileID)
	})

	return records
}

// CancelDownload cancels the active download for the key and reports whether
// there was one. A download whose transfer has started is aborted and leaves
// the active set once the transfer stops; one still resolving its location is
// removed immediately. Cancellation never produces a Failed event.
func (m *Manager) CancelDownload(ctx context.Context, modID, fileID int64) bool {
	key := Key{ModID: modID, FileID: fileID}

	m.mu.Lock()

	rec, ok := m.active[key]
	if !ok {
		m.mu.Unlock()

		return false
	}

	rec.mu.Lock()
	rec.aborted = true
	handle := rec.handle

	if handle == nil {
		rec.complete = true
		rec.speed = nil

		if rec.stopTransfer != nil {
			rec.stopTransfer()
		}
	}
	rec.mu.Unlock()

	if handle == nil {
		m.removeLocked(rec)
	}
	m.mu.Unlock()

	logger := logctx.LoggerFromContext(ctx)

	if handle != nil {
		logger.Info("aborting download", "mod_id", modID, "file_id", fileID)
		handle.Abort()

		return true
	}

	logger.Info("download cancelled before transfer started", "mod_id", modID, "file_id", fileID)
	m.telemetry.RecordDownload(ctx, "cancelled", time.Since(rec.startedAt))

	return true
}

// CancelAllDownloads cancels every active download of the mod and returns how
// many were cancelled.
func (m *Manager) CancelAllDownloads(ctx context.Context, modID int64) int {
	m.mu.Lock()
	keys := make([]Key, 0, len(m.active))

	for key := range m.active {
		if key.ModID == modID {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()

	var cancelled int

	for _, key := range keys {
		if m.CancelDownload(ctx, key.ModID, key.FileID) {
			cancelled++
		}
	}

	return cancelled
}

// Close cancels all downloads and waits for their goroutines to exit.
// Downloads requested after Close are returned already cancelled.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	keys := make([]Key, 0, len(m.active))

	for key := range m.active {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.CancelDownload(ctx, key.ModID, key.FileID)
	}

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) start(ctx context.Context, key Key, targetPath string, desc *FileDescriptor) *Record {
	logger := logctx.LoggerFromContext(ctx).With("mod_id", key.ModID, "file_id", key.FileID)

	m.mu.Lock()

	if rec, ok := m.active[key]; ok {
		m.mu.Unlock()

		if rec.targetPath != targetPath {
			logger.Warn("download already in progress, ignoring target path",
				"target", targetPath, "active_target", rec.targetPath)
		}

		return rec
	}

	rec := newRecord(key, targetPath, m.samples, time.Now())

	if m.closed {
		m.mu.Unlock()

		rec.aborted = true
		rec.complete = true
		rec.speed = nil

		logger.Warn("download requested after shutdown", "target", targetPath)

		return rec
	}

	m.active[key] = rec
	m.wg.Add(1)
	m.mu.Unlock()

	m.telemetry.IncrementActiveDownloads(ctx)
	logger.Debug("download requested", "target", targetPath)

	runCtx := logctx.WithLogger(m.ctx, logger)

	go func() {
		defer m.wg.Done()

		m.run(runCtx, rec, desc)
	}()

	return rec
}

func (m *Manager) run(ctx context.Context, rec *Record, desc *FileDescriptor) {
	logger := logctx.LoggerFromContext(ctx)

	if desc == nil {
		resolved, err := m.resolver.GetFileDescriptor(ctx, rec.key.ModID, rec.key.FileID)
		if err != nil {
			m.fail(ctx, rec, &MetadataFetchError{Key: rec.key, Err: err})

			return
		}

		desc = resolved
	}

	if !m.isActive(rec) {
		logger.Debug("download cancelled while resolving file")

		return
	}

	rec.setExpectedBytes(desc.Size)

	staging := rec.StagingPath()

	sink, err := m.files.CreateFile(staging)
	if err != nil {
		m.fail(ctx, rec, &StagingFileError{Key: rec.key, Path: staging, Err: err})

		return
	}

	// A cancel from here until attach stops the transfer context, so the
	// request is never sent.
	transferCtx, stopTransfer := context.WithCancel(ctx)
	defer stopTransfer()

	if !m.isActive(rec) || !rec.reserveTransfer(stopTransfer) {
		_ = sink.Close()

		m.discardStaging(ctx, staging)
		logger.Debug("download cancelled while creating staging file")

		return
	}

	handle := m.transfers.Start(transferCtx, desc.URL, sink)

	if !m.attach(rec, handle) {
		handle.Abort()
		_ = handle.Wait()
		_ = sink.Close()

		m.discardStaging(ctx, staging)
		logger.Info("download cancelled before transfer was attached")

		return
	}

	// The monitor skips the record until it is marked started, so no
	// progress tick precedes the Started event.
	if !rec.WasAborted() {
		m.emit(Event{Type: EventStarted, Key: rec.key, Record: rec})
	}

	rec.markStarted()

	logger.Info("downloading file",
		"target", rec.targetPath,
		"file_size", humanize.Bytes(uint64(max(desc.Size, 0))),
	)

	m.complete(ctx, rec, handle, sink)
}

// attach publishes the transfer handle on the record and makes sure the
// monitor is running. It fails when the download was cancelled meanwhile.
func (m *Manager) attach(rec *Record, handle *transfer.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active[rec.key] != rec {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.aborted {
		return false
	}

	rec.handle = handle

	if !m.monitoring {
		m.monitoring = true
		m.wg.Add(1)

		go m.monitor()
	}

	return true
}

// complete waits for the transfer to finish, promotes the staging file and
// notifies subscribers.
func (m *Manager) complete(ctx context.Context, rec *Record, handle *transfer.Handle, sink io.Closer) {
	logger := logctx.LoggerFromContext(ctx)

	transferErr := handle.Wait()
	closeErr := sink.Close()

	var failure error

	switch {
	case rec.WasAborted():
	case transferErr != nil:
		failure = classifyTransferError(rec, transferErr)
	case closeErr != nil:
		failure = &PersistError{Key: rec.key, Path: rec.StagingPath(), Err: closeErr}
	default:
		if err := m.files.ReplaceFile(rec.StagingPath(), rec.targetPath); err != nil {
			failure = &PersistError{Key: rec.key, Path: rec.targetPath, Err: err}
		}
	}

	received := handle.BytesReceived()
	aborted := rec.finish(received, failure)
	duration := time.Since(rec.startedAt)

	// Subscribers are notified before the key leaves the active set.
	switch {
	case aborted:
		m.discardStaging(ctx, rec.StagingPath())
		m.telemetry.RecordDownload(ctx, "cancelled", duration)
		logger.Info("download cancelled", "received", humanize.Bytes(uint64(received)))
	case failure != nil:
		kind := FailureKind(failure)

		m.telemetry.RecordDownload(ctx, kind, duration)
		logger.Error("download failed", "kind", kind, "err", failure)
		m.emit(Event{Type: EventFailed, Key: rec.key, Record: rec, Err: failure})
	default:
		if secs := duration.Seconds(); secs > 0 {
			m.telemetry.RecordThroughput(ctx, float64(received)/secs)
		}

		m.telemetry.RecordDownload(ctx, "success", duration)
		logger.Info("downloaded and saved file",
			"target", rec.targetPath,
			"file_size", humanize.Bytes(uint64(received)),
			"duration", duration.Round(time.Millisecond).String(),
		)
		m.emit(Event{Type: EventSucceeded, Key: rec.key, Record: rec})
	}

	m.remove(rec)
}

// fail ends a download that never got a transfer handle. Nothing is emitted
// when the download was cancelled in the meantime.
func (m *Manager) fail(ctx context.Context, rec *Record, failure error) {
	m.mu.Lock()

	if m.active[rec.key] != rec {
		m.mu.Unlock()

		return
	}

	aborted := rec.finish(0, failure)
	m.mu.Unlock()

	if !aborted {
		kind := FailureKind(failure)

		m.telemetry.RecordDownload(ctx, kind, time.Since(rec.startedAt))
		logctx.LoggerFromContext(ctx).Error("download failed", "kind", kind, "err", failure)
		m.emit(Event{Type: EventFailed, Key: rec.key, Record: rec, Err: failure})
	}

	m.remove(rec)
}

func (m *Manager) isActive(rec *Record) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.active[rec.key] == rec && !rec.WasAborted()
}

func (m *Manager) remove(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(rec)
}

// removeLocked deletes rec from the active set if it is still the entry for its key.
func (m *Manager) removeLocked(rec *Record) {
	if m.active[rec.key] != rec {
		return
	}

	delete(m.active, rec.key)
	m.telemetry.DecrementActiveDownloads(m.ctx)
}

func (m *Manager) discardStaging(ctx context.Context, path string) {
	if err := m.files.DeleteFile(path); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to delete staging file", "path", path, "err", err)
	}
}

func classifyTransferError(rec *Record, err error) error {
	var writeErr *transfer.WriteError
	if errors.As(err, &writeErr) {
		return &PersistError{Key: rec.key, Path: rec.StagingPath(), Err: writeErr.Err}
	}

	return err
}
