package proxybot

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/proxy-access-bot/internal/cache"
	"github.com/magabrotheeeer/proxy-access-bot/internal/config"
	_ "github.com/magabrotheeeer/proxy-access-bot/internal/docs"
	"github.com/magabrotheeeer/proxy-access-bot/internal/http/handlers/endpoints/status"
	"github.com/magabrotheeeer/proxy-access-bot/internal/http/handlers/healthz"
	"github.com/magabrotheeeer/proxy-access-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/metrics"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage/endpoints"
)

// RegisterRoutes служебные маршруты: живость, метрики, статус точек и документация.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg config.HTTPServer, m *metrics.Metrics, hc cache.HealthCache, pool *endpoints.Pool) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/healthz", healthz.New(logger, hc, pool).ServeHTTP)
	r.Handle("/metrics", m.Handler())
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.RateLimit(logger, cfg.APIRate, cfg.APIBurst))
		r.Get("/endpoints/status", status.New(logger, pool, hc).ServeHTTP)
	})
}
