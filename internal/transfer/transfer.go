package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/italolelis/mod_downloader/internal/download/progress"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxDrainBytes bounds how much of an error response body is read before the
// connection is released.
const maxDrainBytes = 4 << 10

// Client starts HTTP GET transfers that stream a response body into a sink.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a Client using httpClient, or a traced default client when nil.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &Client{httpClient: httpClient}
}

// Handle tracks one running transfer. It is owned by whoever called Start.
type Handle struct {
	url    string
	cancel context.CancelFunc

	received      atomic.Int64
	contentLength atomic.Int64
	aborted       atomic.Bool

	done chan struct{}
	err  error
}

// Start issues the request in the background and returns immediately. The
// returned handle completes exactly once; Err is meaningful after Done closes.
func (c *Client) Start(ctx context.Context, rawURL string, dst io.Writer) *Handle {
	ctx, cancel := context.WithCancel(ctx)

	h := &Handle{
		url:    Redact(rawURL),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.contentLength.Store(-1)

	go func() {
		defer close(h.done)
		defer cancel()

		h.err = h.fetch(ctx, c.httpClient, rawURL, dst)
	}()

	return h
}

func (h *Handle) fetch(ctx context.Context, client *http.Client, rawURL string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &NetworkError{Operation: "build_request", URL: h.url, Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return h.networkError("request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        h.url,
			Header:     resp.Header.Clone(),
		}
	}

	h.contentLength.Store(resp.ContentLength)

	body := progress.NewReader(resp.Body, resp.ContentLength, func(read, _ int64) {
		h.received.Store(read)
	})
	sink := &sinkWriter{w: dst}

	if _, err := io.Copy(sink, body); err != nil {
		if sink.err != nil {
			return &WriteError{URL: h.url, Err: sink.err}
		}

		return h.networkError("read_body", err)
	}

	return nil
}

func (h *Handle) networkError(op string, err error) error {
	if h.aborted.Load() {
		err = ErrAborted
	}

	return &NetworkError{Operation: op, URL: h.url, Err: err}
}

// BytesReceived returns the number of body bytes received so far.
func (h *Handle) BytesReceived() int64 {
	return h.received.Load()
}

// ContentLength returns the response size announced by the server, or -1.
func (h *Handle) ContentLength() int64 {
	return h.contentLength.Load()
}

// IsDone reports whether the transfer reached a terminal state.
func (h *Handle) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done is closed once the transfer finishes, successfully or not.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal error, nil on success. Only valid after Done.
func (h *Handle) Err() error {
	if !h.IsDone() {
		return nil
	}

	return h.err
}

// Wait blocks until the transfer finishes and returns its terminal error.
func (h *Handle) Wait() error {
	<-h.done

	return h.err
}

// Abort asks the transfer to stop. Completion is still signalled through Done.
func (h *Handle) Abort() {
	h.aborted.Store(true)
	h.cancel()
}

// Aborted reports whether Abort was called.
func (h *Handle) Aborted() bool {
	return h.aborted.Load()
}

// WriteError reports that the sink rejected bytes received from the network.
type WriteError struct {
	URL string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write body of %s: %v", e.URL, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

type sinkWriter struct {
	w   io.Writer
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		s.err = err
	}

	return n, err
}

// Redact strips the query string, which carries the signature of pre-signed URLs.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}

	u.RawQuery = ""
	u.User = nil

	return u.String()
}

// IsAborted reports whether err came from an aborted transfer.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
