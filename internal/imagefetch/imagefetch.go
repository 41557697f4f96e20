// Package imagefetch downloads small images such as mod logos and avatars
// straight into memory.
package imagefetch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/italolelis/mod_downloader/internal/logctx"
	"github.com/italolelis/mod_downloader/internal/telemetry"
	"github.com/italolelis/mod_downloader/internal/transfer"
)

// DecodeError is returned when the fetched bytes are not a supported image.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type Fetcher struct {
	transfers *transfer.Client
	telemetry *telemetry.Telemetry
}

func NewFetcher(transfers *transfer.Client, tel *telemetry.Telemetry) *Fetcher {
	return &Fetcher{transfers: transfers, telemetry: tel}
}

// Request is a single in-flight image fetch. It is safe to drop a Request
// without waiting for it.
type Request struct {
	url  string
	done chan struct{}

	mu  sync.RWMutex
	img image.Image
	err error
}

// Done is closed once the fetch has finished.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the fetch finishes or ctx is done.
func (r *Request) Wait(ctx context.Context) (image.Image, error) {
	select {
	case <-r.done:
		return r.Image(), r.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Request) Image() image.Image {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.img
}

// Err returns the fetch failure. It is nil while the fetch is running.
func (r *Request) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.err
}

func (r *Request) URL() string {
	return r.url
}

// Fetch starts downloading and decoding the image at url. The image is
// rotated according to its EXIF orientation.
func (f *Fetcher) Fetch(ctx context.Context, url string) *Request {
	return f.start(ctx, url, "fetch_image", nil)
}

// FetchThumbnail is Fetch followed by scaling the image down to fit within
// width x height, preserving its aspect ratio.
func (f *Fetcher) FetchThumbnail(ctx context.Context, url string, width, height int) *Request {
	return f.start(ctx, url, "fetch_thumbnail", func(img image.Image) image.Image {
		return imaging.Fit(img, width, height, imaging.Lanczos)
	})
}

func (f *Fetcher) start(ctx context.Context, url, operation string, transform func(image.Image) image.Image) *Request {
	req := &Request{url: url, done: make(chan struct{})}

	go func() {
		defer close(req.done)

		var img image.Image

		err := f.telemetry.InstrumentClientOperation(ctx, "image", operation, func(ctx context.Context) error {
			var err error

			img, err = f.fetch(ctx, url)
			if err != nil {
				return err
			}

			if transform != nil {
				img = transform(img)
			}

			return nil
		})
		if err != nil {
			logctx.LoggerFromContext(ctx).DebugContext(ctx, "image fetch failed", "url", transfer.Redact(url), "err", err)
		}

		req.mu.Lock()
		req.img, req.err = img, err
		req.mu.Unlock()
	}()

	return req
}

func (f *Fetcher) fetch(ctx context.Context, url string) (image.Image, error) {
	var buf bytes.Buffer

	if err := f.transfers.Start(ctx, url, &buf).Wait(); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(&buf, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{URL: transfer.Redact(url), Err: err}
	}

	return img, nil
}
