package httptransport

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"idcollect/internal/platform/metrics"
	"idcollect/internal/platform/middleware"
	"idcollect/internal/ratelimit"
	dErrors "idcollect/pkg/domain-errors"
)

// Deps collects everything the router mounts.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Lists    *ListsHandler
	Dispatch *DispatchHandler
	Bulk     *BulkHandler
	Public   *PublicHandler
	Activity *ActivityHandler

	JWTValidator middleware.JWTValidator

	// PublicLimitStore throttles the unauthenticated verification endpoints
	// per client IP. Nil disables throttling.
	PublicLimitStore     ratelimit.Store
	PublicLimitPerMinute int
}

// NewRouter assembles the full HTTP surface: operational endpoints, the
// authenticated admin API under /api/v1, and the public verification pages.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.LatencyMiddleware(deps.Metrics))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(public chi.Router) {
		if deps.PublicLimitStore != nil {
			public.Use(publicRateLimit(deps.PublicLimitStore, deps.PublicLimitPerMinute, deps.Logger))
		}
		deps.Public.Register(public)
	})

	r.Route("/api/v1", func(admin chi.Router) {
		admin.Use(middleware.RequireAuth(deps.JWTValidator, deps.Logger))
		deps.Lists.Register(admin)
		deps.Dispatch.Register(admin)
		deps.Bulk.Register(admin)
		deps.Activity.Register(admin)
	})

	return r
}

// publicRateLimit throttles per client IP over a one-minute sliding window.
func publicRateLimit(store ratelimit.Store, perMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = ratelimit.DefaultPerMinute
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := store.Allow(r.Context(), "public:"+clientIP(r), perMinute, time.Minute)
			if err != nil {
				logger.ErrorContext(r.Context(), "public rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				w.Header().Set("Retry-After", res.ResetAt.UTC().Format(http.TimeFormat))
				WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests; slow down and try again"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// Only the first hop identifies the client; later entries are
		// proxies and vary per route.
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
