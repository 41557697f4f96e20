package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/mod_downloader/internal/imagefetch"
	"github.com/italolelis/mod_downloader/internal/logctx"
	"github.com/italolelis/mod_downloader/internal/modio"
)

const (
	defaultLogoWidth  = 320
	defaultLogoHeight = 180
	maxLogoSide       = 1024
)

// LogoResolver looks up where a mod's logo is hosted.
type LogoResolver interface {
	GetModLogoURL(ctx context.Context, modID int64) (string, error)
}

// ThumbnailFetcher downloads an image scaled to fit a bounding box.
type ThumbnailFetcher interface {
	FetchThumbnail(ctx context.Context, url string, width, height int) *imagefetch.Request
}

// LogosHandler serves mod logos as PNG thumbnails.
type LogosHandler struct {
	username string
	password string
	logos    LogoResolver
	images   ThumbnailFetcher
}

func NewLogosHandler(username, password string, logos LogoResolver, images ThumbnailFetcher) *LogosHandler {
	return &LogosHandler{
		username: username,
		password: password,
		logos:    logos,
		images:   images,
	}
}

func (h *LogosHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(basicAuth(h.username, h.password))

	r.Get("/{modID}/logo", h.HandleLogo)

	return r
}

// HandleLogo returns the mod logo scaled down to fit ?width= and ?height=,
// 320x180 by default.
func (h *LogosHandler) HandleLogo(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	modID, err := strconv.ParseInt(chi.URLParam(r, "modID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid mod id", http.StatusBadRequest)

		return
	}

	width, ok := dimension(w, r, "width", defaultLogoWidth)
	if !ok {
		return
	}

	height, ok := dimension(w, r, "height", defaultLogoHeight)
	if !ok {
		return
	}

	logoURL, err := h.logos.GetModLogoURL(r.Context(), modID)
	if err != nil {
		var apiErr *modio.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			http.Error(w, "mod not found", http.StatusNotFound)

			return
		}

		logger.Error("failed to resolve mod logo", "mod_id", modID, "err", err)
		http.Error(w, "failed to resolve mod logo", http.StatusBadGateway)

		return
	}

	img, err := h.images.FetchThumbnail(r.Context(), logoURL, width, height).Wait(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			return
		}

		logger.Error("failed to fetch mod logo", "mod_id", modID, "err", err)
		http.Error(w, "failed to fetch mod logo", http.StatusBadGateway)

		return
	}

	w.Header().Set("Content-Type", "image/png")

	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		logger.Error("failed to encode mod logo", "mod_id", modID, "err", err)
	}
}

func dimension(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > maxLogoSide {
		http.Error(w, name+" must be between 1 and 1024", http.StatusBadRequest)

		return 0, false
	}

	return v, true
}
