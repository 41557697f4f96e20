package rest_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/mod_downloader/internal/http/rest"
	"github.com/italolelis/mod_downloader/internal/imagefetch"
	"github.com/italolelis/mod_downloader/internal/modio"
	"github.com/italolelis/mod_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logoResolverFunc func(ctx context.Context, modID int64) (string, error)

func (f logoResolverFunc) GetModLogoURL(ctx context.Context, modID int64) (string, error) {
	return f(ctx, modID)
}

func logoServer(t *testing.T) *httptest.Server {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 64, 32))
	for x := 0; x < 64; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, color.NRGBA{B: 255, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	t.Cleanup(ts.Close)

	return ts
}

func newLogosServer(t *testing.T, logos rest.LogoResolver) *httptest.Server {
	t.Helper()

	fetcher := imagefetch.NewFetcher(transfer.NewClient(nil), nil)

	ts := httptest.NewServer(rest.NewLogosHandler("", "", logos, fetcher).Routes())
	t.Cleanup(ts.Close)

	return ts
}

func TestHandleLogo(t *testing.T) {
	cdn := logoServer(t)

	var gotModID int64

	ts := newLogosServer(t, logoResolverFunc(func(_ context.Context, modID int64) (string, error) {
		gotModID = modID

		return cdn.URL + "/logo.png", nil
	}))

	resp, err := http.Get(ts.URL + "/42/logo?width=16&height=16")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, int64(42), gotModID)

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())
}

func TestHandleLogo_InvalidDimensions(t *testing.T) {
	ts := newLogosServer(t, logoResolverFunc(func(context.Context, int64) (string, error) {
		t.Fatal("resolver must not be called")

		return "", nil
	}))

	for _, query := range []string{"?width=0", "?height=abc", "?width=5000"} {
		resp, err := http.Get(ts.URL + "/42/logo" + query)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestHandleLogo_ModNotFound(t *testing.T) {
	ts := newLogosServer(t, logoResolverFunc(func(context.Context, int64) (string, error) {
		return "", &modio.APIError{StatusCode: http.StatusNotFound}
	}))

	resp, err := http.Get(ts.URL + "/42/logo")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleLogo_ImageFetchFails(t *testing.T) {
	cdn := httptest.NewServer(http.NotFoundHandler())
	defer cdn.Close()

	ts := newLogosServer(t, logoResolverFunc(func(context.Context, int64) (string, error) {
		return cdn.URL, nil
	}))

	resp, err := http.Get(ts.URL + "/42/logo")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
