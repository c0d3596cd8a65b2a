// Package monitor периодически проверяет точки из пула через внешний сервис
// и целиком перезаписывает кэш статусов. С обработчиками чата общается
// только через кэш.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/magabrotheeeer/proxy-access-bot/internal/cache"
	"github.com/magabrotheeeer/proxy-access-bot/internal/checker"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/metrics"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

// ErrCycleRunning предыдущий цикл ещё не закончился.
var ErrCycleRunning = errors.New("monitor: cycle already running")

// Checker одна проверка дескриптора одним ключом.
type Checker interface {
	Check(ctx context.Context, credential, descriptor string) (checker.Result, error)
}

// EndpointSource источник текущего списка точек.
type EndpointSource interface {
	List() []models.Endpoint
}

// Report сводка одного цикла.
type Report struct {
	Total   int
	Online  int
	Offline int
	Errors  int
	Took    time.Duration
}

type Monitor struct {
	checker     Checker
	pool        EndpointSource
	cache       cache.HealthCache
	credentials []string
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time
	running     atomic.Bool
}

func New(c Checker, pool EndpointSource, hc cache.HealthCache, credentials []string, m *metrics.Metrics, log *slog.Logger) *Monitor {
	return &Monitor{
		checker:     c,
		pool:        pool,
		cache:       hc,
		credentials: credentials,
		metrics:     m,
		log:         log,
		now:         time.Now,
	}
}

// RunCycle проверяет все точки по очереди и заменяет кэш результатом.
// Ошибка одной точки не прерывает цикл. Если цикл уже идёт,
// возвращает ErrCycleRunning и ничего не делает.
func (m *Monitor) RunCycle(ctx context.Context) (Report, error) {
	const op = "monitor.RunCycle"
	log := m.log.With(slog.String("op", op))

	if !m.running.CompareAndSwap(false, true) {
		log.Warn("previous cycle still running, skipping")
		return Report{}, ErrCycleRunning
	}
	defer m.running.Store(false)

	start := m.now()
	endpoints := m.pool.List()
	records := make(map[string]models.HealthRecord, len(endpoints))
	report := Report{Total: len(endpoints)}

	log.Info("health cycle started", slog.Int("endpoints", len(endpoints)))
	for _, ep := range endpoints {
		select {
		case <-ctx.Done():
			return report, fmt.Errorf("%s: %w", op, ctx.Err())
		default:
		}

		rec := m.checkEndpoint(ctx, ep)
		records[ep.Name] = rec
		switch rec.Status {
		case models.HealthOnline:
			report.Online++
		case models.HealthOffline:
			report.Offline++
		default:
			report.Errors++
		}
		m.metrics.HealthCheck(string(rec.Status))
		log.Debug("endpoint checked",
			slog.String("endpoint", ep.Name),
			slog.String("host", ep.Host()),
			slog.String("status", string(rec.Status)),
			slog.String("detail", rec.Detail))
	}

	if err := m.cache.Replace(ctx, records); err != nil {
		log.Error("failed to replace health cache", sl.Err(err))
		return report, fmt.Errorf("%s: %w", op, err)
	}

	report.Took = m.now().Sub(start)
	m.metrics.HealthCycle(report.Took, report.Online)
	log.Info("health cycle finished",
		slog.Int("online", report.Online),
		slog.Int("offline", report.Offline),
		slog.Int("errors", report.Errors),
		slog.Duration("took", report.Took))
	return report, nil
}

// checkEndpoint перебирает ключи: 429, таймаут и сетевая ошибка переводят
// к следующему ключу, ответ API с другой ошибкой окончателен.
func (m *Monitor) checkEndpoint(ctx context.Context, ep models.Endpoint) models.HealthRecord {
	var lastErr error
	for i, cred := range m.credentials {
		res, err := m.checker.Check(ctx, cred, ep.Descriptor)
		if err == nil {
			return m.resultRecord(res)
		}

		var apiErr *checker.APIError
		if errors.As(err, &apiErr) {
			return models.HealthRecord{
				Status:    models.HealthOffline,
				Detail:    "API Error: " + apiErr.Message,
				CheckedAt: m.now(),
			}
		}
		if ctx.Err() != nil {
			lastErr = err
			break
		}
		m.log.Debug("credential failed, trying next",
			slog.String("endpoint", ep.Name),
			slog.Int("credential", i+1),
			sl.Err(err))
		lastErr = err
	}
	return models.HealthRecord{
		Status:    models.HealthError,
		Detail:    exhaustedDetail(lastErr),
		CheckedAt: m.now(),
	}
}

func (m *Monitor) resultRecord(res checker.Result) models.HealthRecord {
	rec := models.HealthRecord{CheckedAt: m.now()}
	switch {
	case res.Message != "":
		rec.Status = models.HealthOffline
		rec.Detail = res.Message
	case res.Working:
		rec.Status = models.HealthOnline
		rec.Detail = fmt.Sprintf("Online (%s)", res.Latency)
	default:
		rec.Status = models.HealthOffline
		rec.Detail = "Proxy offline"
	}
	return rec
}

func exhaustedDetail(err error) string {
	switch {
	case err == nil:
		return "no checker credentials configured"
	case errors.Is(err, checker.ErrRateLimited):
		return "Rate limit (wait)"
	case errors.Is(err, checker.ErrTimeout):
		return "request timeout"
	default:
		return "network error"
	}
}
