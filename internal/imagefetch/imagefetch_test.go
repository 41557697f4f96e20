package imagefetch_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/italolelis/mod_downloader/internal/imagefetch"
	"github.com/italolelis/mod_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngServer(t *testing.T, w, h int) *httptest.Server {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func TestFetch(t *testing.T) {
	ts := pngServer(t, 40, 20)
	defer ts.Close()

	f := imagefetch.NewFetcher(transfer.NewClient(nil), nil)

	req := f.Fetch(context.Background(), ts.URL+"/logo.png")
	assert.Equal(t, ts.URL+"/logo.png", req.URL())

	img, err := req.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestFetchThumbnail(t *testing.T) {
	ts := pngServer(t, 40, 20)
	defer ts.Close()

	f := imagefetch.NewFetcher(transfer.NewClient(nil), nil)

	img, err := f.FetchThumbnail(context.Background(), ts.URL, 10, 10).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())
}

func TestFetch_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	f := imagefetch.NewFetcher(transfer.NewClient(nil), nil)

	req := f.Fetch(context.Background(), ts.URL)

	select {
	case <-req.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not finish")
	}

	var httpErr *transfer.HTTPError
	require.ErrorAs(t, req.Err(), &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Nil(t, req.Image())
}

func TestFetch_DecodeError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("definitely not an image"))
	}))
	defer ts.Close()

	f := imagefetch.NewFetcher(transfer.NewClient(nil), nil)

	_, err := f.Fetch(context.Background(), ts.URL).Wait(waitCtx(t))

	var decodeErr *imagefetch.DecodeError
	require.ErrorAs(t, err, &decodeErr)
}
