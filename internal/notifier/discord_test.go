package notifier_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/mod_downloader/internal/download"
	"github.com/italolelis/mod_downloader/internal/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var payload map[string]string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	n := notifier.NewDiscordNotifier(ts.URL)

	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, "hello", payload["content"])
}

func TestDiscordNotifier_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	err := notifier.NewDiscordNotifier(ts.URL).Notify(context.Background(), "hello")
	assert.ErrorContains(t, err, "status 400")

	err = notifier.NewDiscordNotifier("").Notify(context.Background(), "hello")
	assert.ErrorIs(t, err, notifier.ErrNoWebhook)
}

type recordingNotifier struct {
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, content string) error {
	r.messages = append(r.messages, content)

	return nil
}

func TestEventListener(t *testing.T) {
	n := &recordingNotifier{}
	listen := notifier.EventListener(context.Background(), n)

	key := download.Key{ModID: 42, FileID: 7}

	listen(download.Event{Type: download.EventStarted, Key: key})
	listen(download.Event{Type: download.EventSucceeded, Key: key})
	listen(download.Event{Type: download.EventFailed, Key: key, Err: &download.MetadataFetchError{Key: key, Err: errors.New("not found")}})

	require.Len(t, n.messages, 2)
	assert.Equal(t, "Download finished: mod 42 file 7", n.messages[0])
	assert.Contains(t, n.messages[1], "Download failed: mod 42 file 7 (metadata_fetch_failed)")
}
