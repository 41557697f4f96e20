// Package modio resolves mod files to pre-signed download locations through
// the mod.io REST API.
package modio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/italolelis/mod_downloader/internal/download"
	"github.com/italolelis/mod_downloader/internal/logctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const DefaultBaseURL = "https://api.mod.io/v1"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mod.io api error: status %d", e.StatusCode)
	}

	return fmt.Sprintf("mod.io api error: status %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	BaseURL string
	APIKey  string
	// Token is an OAuth2 access token. When empty, requests are authenticated
	// with APIKey only.
	Token  string
	GameID int64
}

type Client struct {
	baseURL    string
	apiKey     string
	gameID     int64
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	transport := otelhttp.NewTransport(http.DefaultTransport)
	httpClient := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	if cfg.Token != "" {
		tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(ctx, tokenSource)
	}

	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		gameID:     cfg.GameID,
		httpClient: httpClient,
	}
}

type fileObject struct {
	ID       int64  `json:"id"`
	ModID    int64  `json:"mod_id"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Download struct {
		BinaryURL   string `json:"binary_url"`
		DateExpires int64  `json:"date_expires"`
	} `json:"download"`
}

type modObject struct {
	ID   int64 `json:"id"`
	Logo struct {
		Original string `json:"original"`
	} `json:"logo"`
}

type errorObject struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetFileDescriptor implements download.FileResolver.
func (c *Client) GetFileDescriptor(ctx context.Context, modID, fileID int64) (*download.FileDescriptor, error) {
	logger := logctx.LoggerFromContext(ctx).With("mod_id", modID, "file_id", fileID)

	endpoint := fmt.Sprintf("%s/games/%d/mods/%d/files/%d", c.baseURL, c.gameID, modID, fileID)

	var file fileObject
	if err := c.get(ctx, endpoint, &file); err != nil {
		logger.ErrorContext(ctx, "failed to get mod file", "err", err)

		return nil, fmt.Errorf("failed to get mod file %d/%d: %w", modID, fileID, err)
	}

	if file.Download.BinaryURL == "" {
		return nil, fmt.Errorf("mod file %d/%d has no download url", modID, fileID)
	}

	desc := &download.FileDescriptor{
		ModID:    modID,
		FileID:   fileID,
		Filename: file.Filename,
		Size:     file.Filesize,
		URL:      file.Download.BinaryURL,
	}

	if file.Download.DateExpires > 0 {
		desc.ExpiresAt = time.Unix(file.Download.DateExpires, 0)
	}

	logger.DebugContext(ctx, "resolved mod file", "filename", file.Filename, "size", file.Filesize)

	return desc, nil
}

// GetModLogoURL returns the URL of the full size logo of a mod.
func (c *Client) GetModLogoURL(ctx context.Context, modID int64) (string, error) {
	endpoint := fmt.Sprintf("%s/games/%d/mods/%d", c.baseURL, c.gameID, modID)

	var mod modObject
	if err := c.get(ctx, endpoint, &mod); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to get mod", "mod_id", modID, "err", err)

		return "", fmt.Errorf("failed to get mod %d: %w", modID, err)
	}

	if mod.Logo.Original == "" {
		return "", fmt.Errorf("mod %d has no logo", modID)
	}

	return mod.Logo.Original, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}

	if c.apiKey != "" {
		q := u.Query()
		q.Set("api_key", c.apiKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}

		var body errorObject
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err == nil {
			apiErr.Code = body.Error.Code
			apiErr.Message = body.Error.Message
		}

		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
