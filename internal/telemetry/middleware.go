package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware traces API requests and feeds the http_* metrics.
type HTTPMiddleware struct {
	telemetry *Telemetry
}

func NewHTTPMiddleware(telemetry *Telemetry) *HTTPMiddleware {
	return &HTTPMiddleware{telemetry: telemetry}
}

// Middleware must run inside the chi router so the matched route pattern is
// known once the handler returns.
func (m *HTTPMiddleware) Middleware(next http.Handler) http.Handler {
	if m.telemetry == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tel := m.telemetry
		start := time.Now()

		tel.IncrementHTTPInFlight(r.Context())
		defer tel.DecrementHTTPInFlight(r.Context())

		ctx, span := tel.Tracer().Start(r.Context(), r.Method+" request", trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.user_agent", r.UserAgent()),
		))
		defer span.End()

		rw := wrapResponseWriter(w)
		r = r.WithContext(ctx)

		next.ServeHTTP(rw, r)

		route := routePattern(r)

		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", rw.status),
			attribute.Int64("http.response_size", rw.bytesWritten),
		)

		if rw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, strconv.Itoa(rw.status))
		}

		tel.RecordHTTPRequest(ctx, r.Method, route, getStatusClass(rw.status), time.Since(start))
	})
}

// routePattern is the chi pattern the request matched, e.g.
// "/downloads/{modID}/{fileID}", or the raw path outside a router.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return r.URL.Path
	}

	return rctx.RoutePattern()
}

func getStatusClass(statusCode int) string {
	if statusCode < http.StatusOK || statusCode > 599 {
		return "unknown"
	}

	return strconv.Itoa(statusCode/100) + "xx"
}
