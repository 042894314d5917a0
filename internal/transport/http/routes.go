package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
)

type RouterConfig struct {
	// BodyLimit bounds every request body.
	BodyLimit   int64
	RateLimit   int
	RateWindow  time.Duration
	CORSOrigins []string

	// TrustProxy lets X-Forwarded-For/X-Real-IP replace the peer address,
	// which the rate limiter keys on.
	TrustProxy bool
}

func Routes(h *Handler, cfg RouterConfig, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestIDHeader)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
			AllowCredentials: false,
		}).Handler)
	}

	r.Use(BodyLimit(cfg.BodyLimit))
	if cfg.RateLimit > 0 {
		r.Use(NewRateLimiter(cfg.RateLimit, cfg.RateWindow).Middleware)
	}

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/pdf", func(r chi.Router) {
			r.Post("/merge", h.Merge)
			r.Post("/split", h.Split)
			r.Post("/compress", h.Compress)
			r.Post("/to-images", h.ToImages)
		})

		r.Post("/ocr", h.OCR)
		r.Get("/ocr/download/{id}", h.OCRDownload)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.CreateJob)
			r.Get("/{id}", h.GetJob)
			r.Get("/{id}/download", h.DownloadJob)
		})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
