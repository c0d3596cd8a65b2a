// Package status отдаёт снимок кэша проверок по всем точкам пула.
//
// Дескрипторы с учётными данными наружу не выходят, только host:port.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/proxy-access-bot/internal/http/response"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

// statusUnknown точка ещё не проверялась.
const statusUnknown = "unknown"

type HealthReader interface {
	All(ctx context.Context) (map[string]models.HealthRecord, error)
}

type Pool interface {
	List() []models.Endpoint
}

// Query фильтр по статусу.
type Query struct {
	Status string `validate:"omitempty,oneof=online offline error unknown"`
}

// Item одна точка в ответе.
type Item struct {
	Position  int        `json:"position"`
	Name      string     `json:"name"`
	Host      string     `json:"host"`
	Status    string     `json:"status"`
	Detail    string     `json:"detail,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

type Handler struct {
	log      *slog.Logger
	pool     Pool
	cache    HealthReader
	validate *validator.Validate
}

func New(log *slog.Logger, pool Pool, cache HealthReader) *Handler {
	return &Handler{
		log:      log,
		pool:     pool,
		cache:    cache,
		validate: validator.New(),
	}
}

// @Summary Статус прокси-точек
// @Description Последний результат проверки по каждой точке пула и сводка по статусам
// @Tags endpoints
// @Produce json
// @Param status query string false "Фильтр по статусу" Enums(online, offline, error, unknown)
// @Success 200 {object} response.Response "endpoints: массив точек, summary: число точек по статусам"
// @Failure 400 {object} response.Response "Неверный фильтр"
// @Failure 429 {object} response.Response "Слишком много запросов"
// @Failure 503 {object} response.Response "Кэш проверок недоступен"
// @Router /api/v1/endpoints/status [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.endpoints.status"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	q := Query{Status: r.URL.Query().Get("status")}
	if err := h.validate.Struct(q); err != nil {
		var validateErr validator.ValidationErrors
		if errors.As(err, &validateErr) {
			log.Debug("invalid query", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.ValidationError(validateErr))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid query"))
		return
	}

	records, err := h.cache.All(r.Context())
	if err != nil {
		log.Error("failed to read health cache", sl.Err(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("health cache unavailable"))
		return
	}

	items := make([]Item, 0)
	counts := map[string]int{}
	for _, ep := range h.pool.List() {
		item := Item{Position: ep.Position, Name: ep.Name, Host: ep.Host(), Status: statusUnknown}
		if rec, ok := records[ep.Name]; ok {
			item.Status = string(rec.Status)
			item.Detail = rec.Detail
			if !rec.CheckedAt.IsZero() {
				checked := rec.CheckedAt
				item.CheckedAt = &checked
			}
		}
		counts[item.Status]++
		if q.Status != "" && item.Status != q.Status {
			continue
		}
		items = append(items, item)
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"endpoints": items,
		"summary":   counts,
	}))
}
