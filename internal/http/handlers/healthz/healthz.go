// Package healthz проверка живости процесса для оркестратора.
package healthz

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/proxy-access-bot/internal/http/response"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

// HealthReader кэш статусов точек.
type HealthReader interface {
	All(ctx context.Context) (map[string]models.HealthRecord, error)
}

// Counter размер пула точек.
type Counter interface {
	Len() int
}

type Handler struct {
	log   *slog.Logger
	cache HealthReader
	pool  Counter
}

func New(log *slog.Logger, cache HealthReader, pool Counter) *Handler {
	return &Handler{
		log:   log,
		cache: cache,
		pool:  pool,
	}
}

// ServeHTTP отвечает 503, если кэш статусов недоступен.
//
// @Summary Проверка живости
// @Tags ops
// @Produce json
// @Success 200 {object} response.Response "status, endpoints: размер пула, checked: точек в кэше"
// @Failure 503 {object} response.Response "Кэш проверок недоступен"
// @Router /healthz [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.healthz"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	records, err := h.cache.All(r.Context())
	if err != nil {
		log.Error("health cache unavailable", sl.Err(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("health cache unavailable"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"status":    "ok",
		"endpoints": h.pool.Len(),
		"checked":   len(records),
	}))
}
