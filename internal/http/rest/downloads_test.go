package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/italolelis/mod_downloader/internal/download"
	"github.com/italolelis/mod_downloader/internal/http/rest"
	"github.com/italolelis/mod_downloader/internal/localfs"
	"github.com/italolelis/mod_downloader/internal/storage"
	"github.com/italolelis/mod_downloader/internal/transfer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingResolver struct {
	release chan struct{}
}

func (b *blockingResolver) GetFileDescriptor(ctx context.Context, modID, fileID int64) (*download.FileDescriptor, error) {
	select {
	case <-b.release:
		return nil, errors.New("released")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeHistory struct {
	records []storage.DownloadRecord
	err     error
}

func (f *fakeHistory) GetDownloads(context.Context) ([]storage.DownloadRecord, error) {
	return f.records, f.err
}

func (f *fakeHistory) GetDownloadsByStatus(_ context.Context, status string) ([]storage.DownloadRecord, error) {
	var out []storage.DownloadRecord

	for _, r := range f.records {
		if r.Status == status {
			out = append(out, r)
		}
	}

	return out, f.err
}

func (f *fakeHistory) GetDownload(context.Context, int64, int64) (storage.DownloadRecord, error) {
	return storage.DownloadRecord{}, storage.ErrNotFound
}

func newServer(t *testing.T, history *fakeHistory, username, password string) (*httptest.Server, *download.Manager) {
	t.Helper()

	resolver := &blockingResolver{release: make(chan struct{})}
	m := download.NewManager(context.Background(), resolver, localfs.New(afero.NewMemMapFs()), transfer.NewClient(nil))

	if history == nil {
		history = &fakeHistory{}
	}

	ts := httptest.NewServer(rest.NewDownloadsHandler(username, password, m, history, "/mods").Routes())

	t.Cleanup(func() {
		ts.Close()
		m.Close(context.Background())
	})

	return ts, m
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestHandleStart(t *testing.T) {
	ts, m := newServer(t, nil, "", "")

	resp := do(t, http.MethodPost, ts.URL+"/downloads", `{"mod_id": 42, "file_id": 7}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got rest.DownloadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, int64(42), got.ModID)
	assert.Equal(t, int64(7), got.FileID)
	assert.Equal(t, "/mods/42/7", got.TargetPath)
	assert.Equal(t, int64(-1), got.ExpectedBytes)
	assert.False(t, got.Complete)

	_, ok := m.GetActiveDownload(42, 7)
	assert.True(t, ok)
}

func TestHandleStart_Validation(t *testing.T) {
	ts, _ := newServer(t, nil, "", "")

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{`},
		{name: "missing ids", body: `{"mod_id": 1}`},
		{name: "escaping target", body: `{"mod_id": 1, "file_id": 2, "target_path": "../etc/passwd"}`},
		{name: "absolute target", body: `{"mod_id": 1, "file_id": 2, "target_path": "/etc/passwd"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, ts.URL+"/downloads", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHandleListGetCancel(t *testing.T) {
	ts, m := newServer(t, nil, "", "")

	m.StartDownload(context.Background(), 1, 2, "/mods/a")
	m.StartDownload(context.Background(), 1, 3, "/mods/b")

	resp := do(t, http.MethodGet, ts.URL+"/downloads", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []rest.DownloadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].FileID)
	assert.Equal(t, int64(3), list[1].FileID)

	resp = do(t, http.MethodGet, ts.URL+"/downloads/1/2", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodDelete, ts.URL+"/downloads/1/2", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/downloads/1/2", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodDelete, ts.URL+"/downloads/1/2", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/downloads/x/2", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleCancelAll(t *testing.T) {
	ts, m := newServer(t, nil, "", "")

	m.StartDownload(context.Background(), 1, 2, "/mods/a")
	m.StartDownload(context.Background(), 1, 3, "/mods/b")
	m.StartDownload(context.Background(), 2, 3, "/mods/c")

	resp := do(t, http.MethodDelete, ts.URL+"/downloads/1", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 2, got["cancelled"])
	assert.Len(t, m.ActiveDownloads(), 1)
}

func TestHandleHistory(t *testing.T) {
	history := &fakeHistory{records: []storage.DownloadRecord{
		{ModID: 1, FileID: 2, FilePath: "/mods/a", Size: 10, Status: storage.StatusDownloaded, FinishedAt: time.Now().Format(time.RFC3339)},
		{ModID: 1, FileID: 3, FilePath: "/mods/b", Status: storage.StatusFailed, Error: "boom"},
	}}
	ts, _ := newServer(t, history, "", "")

	resp := do(t, http.MethodGet, ts.URL+"/history?status=failed", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []rest.HistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].Error)

	resp = do(t, http.MethodGet, ts.URL+"/history", "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 2)
}

func TestHandleHistory_Error(t *testing.T) {
	ts, _ := newServer(t, &fakeHistory{err: errors.New("db closed")}, "", "")

	resp := do(t, http.MethodGet, ts.URL+"/history", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestBasicAuth(t *testing.T) {
	ts, _ := newServer(t, nil, "admin", "secret")

	resp := do(t, http.MethodGet, ts.URL+"/downloads", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/downloads", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "wrong")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("admin", "secret")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
