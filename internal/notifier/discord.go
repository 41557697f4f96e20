package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mod_downloader/internal/download"
	"github.com/italolelis/mod_downloader/internal/logctx"
)

var ErrNoWebhook = errors.New("webhook URL is not set")

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return ErrNoWebhook
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// EventListener returns a download.Listener that posts a message for every
// finished download.
func EventListener(ctx context.Context, n Notifier) download.Listener {
	logger := logctx.LoggerFromContext(ctx)

	return func(e download.Event) {
		var content string

		switch e.Type {
		case download.EventSucceeded:
			content = fmt.Sprintf("Download finished: mod %d file %d", e.Key.ModID, e.Key.FileID)
			if e.Record != nil {
				content += fmt.Sprintf(" (%s) saved to %s", humanize.Bytes(uint64(max(e.Record.BytesReceived(), 0))), e.Record.TargetPath())
			}
		case download.EventFailed:
			content = fmt.Sprintf("Download failed: mod %d file %d (%s): %v", e.Key.ModID, e.Key.FileID, download.FailureKind(e.Err), e.Err)
		default:
			return
		}

		if err := n.Notify(ctx, content); err != nil {
			logger.ErrorContext(ctx, "failed to send notification", "mod_id", e.Key.ModID, "file_id", e.Key.FileID, "err", err)
		}
	}
}
