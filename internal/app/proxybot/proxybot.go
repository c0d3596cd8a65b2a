// Package proxybot собирает бота: хранилища, пул точек, кэш проверок,
// движки, маршрутизатор чата, расписание и служебный HTTP.
package proxybot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/proxy-access-bot/internal/cache"
	"github.com/magabrotheeeer/proxy-access-bot/internal/checker"
	"github.com/magabrotheeeer/proxy-access-bot/internal/config"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/cooldown"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/metrics"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
	"github.com/magabrotheeeer/proxy-access-bot/internal/migrations"
	"github.com/magabrotheeeer/proxy-access-bot/internal/router"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/ledger"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/lifecycle"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/monitor"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/notify"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/scheduler"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/session"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage/endpoints"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage/filestore"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage/repository"
	"github.com/magabrotheeeer/proxy-access-bot/internal/telegram"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	server    *http.Server
	telegram  *telegram.Client
	router    *router.Router
	scheduler *scheduler.Scheduler
	accounts  *storage.Accounts
	closers   []io.Closer
}

// New поднимает все зависимости. При ошибке уже открытые ресурсы закрываются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	m := metrics.New()

	backend, err := a.accountBackend(ctx)
	if err != nil {
		return nil, err
	}
	a.accounts = storage.NewAccounts(backend, logger)
	if err := a.accounts.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	pool, err := endpoints.New(ctx, cfg.Storage.EndpointsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoint pool: %w", err)
	}

	hc, err := a.healthCache(ctx)
	if err != nil {
		return nil, err
	}

	a.telegram = telegram.New(cfg.Telegram.APIURL, cfg.Telegram.BotToken, cfg.Telegram.RequestTimeout, logger)

	notifier, err := a.notifier(m)
	if err != nil {
		return nil, err
	}

	defaults := ledger.Defaults{
		Rate:    cfg.Policy.DefaultRate,
		Due:     cfg.Policy.DefaultDue,
		DueRate: cfg.Policy.DefaultDueRate,
	}
	life := lifecycle.New(a.accounts, lifecycle.Policy{
		SubscriptionDays: cfg.Policy.SubscriptionDays,
		ReminderDays:     cfg.Policy.ReminderDays,
		Defaults:         defaults,
	}, logger)
	led := ledger.New(a.accounts, defaults, logger)

	if len(cfg.Health.Credentials) == 0 {
		logger.Warn("no checker credentials configured, every endpoint will be reported as error")
	}
	mon := monitor.New(
		checker.NewClient(cfg.Health.CheckerURL, cfg.Health.RequestTimeout, cfg.Health.RequestsPerSecond),
		pool, hc, cfg.Health.Credentials, m, logger)

	broadcaster := notify.NewBroadcaster(life, notifier, logger)
	sess := session.New(session.Deps{
		Ledger:      led,
		Lifecycle:   life,
		Endpoints:   pool,
		Broadcaster: broadcaster,
		Chat:        router.NewPrompter(a.telegram),
		Display:     router.NewDisplay(a.telegram, cfg.Policy.Currency),
	}, m, logger)

	limiter := cooldown.New(cfg.Policy.Cooldown)
	a.router = router.New(router.Deps{
		Channel:     a.telegram,
		Lifecycle:   life,
		Ledger:      led,
		Session:     sess,
		Pool:        pool,
		Health:      hc,
		Monitor:     mon,
		Broadcaster: broadcaster,
		Cooldown:    limiter,
	}, router.Options{
		AdminID:          cfg.Telegram.AdminID,
		SubscriptionDays: cfg.Policy.SubscriptionDays,
		AutoDeleteAfter:  cfg.Policy.AutoDeleteAfter,
		Currency:         cfg.Policy.Currency,
	}, m, logger)

	a.scheduler, err = scheduler.New(mon, life, notifier, limiter, scheduler.Options{
		HealthSchedule:   cfg.Health.Schedule,
		ReminderSchedule: cfg.Policy.ReminderSchedule,
		FirstRunDelay:    cfg.Health.FirstRunDelay,
		SubscriptionDays: cfg.Policy.SubscriptionDays,
	}, logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	RegisterRoutes(r, logger, cfg.HTTPServer, m, hc, pool)
	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      r,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return a, nil
}

func (a *App) accountBackend(ctx context.Context) (storage.Backend, error) {
	if a.cfg.Storage.Driver != "postgres" {
		a.logger.Info("using file account store", slog.String("path", a.cfg.Storage.AccountsPath))
		return filestore.New(a.cfg.Storage.AccountsPath), nil
	}

	db, err := repository.New(ctx, a.cfg.Storage.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	a.closers = append(a.closers, db)

	if err := migrations.Run(db.DB, a.cfg.Storage.MigrationsPath); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := db.CheckDatabaseReady(ctx); err != nil {
		return nil, err
	}
	a.logger.Info("using postgres account store")
	return db, nil
}

func (a *App) healthCache(ctx context.Context) (cache.HealthCache, error) {
	if a.cfg.Health.CacheDriver != "redis" {
		hc, err := cache.NewFileCache(a.cfg.Health.CachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open health cache: %w", err)
		}
		return hc, nil
	}

	hc, err := cache.InitServer(ctx, a.cfg.RedisConnection, a.cfg.Health.CacheKey)
	if err != nil {
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}
	a.closers = append(a.closers, hc)
	return hc, nil
}

// notifier рассылки идут через очередь, если она включена, иначе напрямую.
func (a *App) notifier(m *metrics.Metrics) (notify.Notifier, error) {
	if !a.cfg.RabbitMQ.Enabled {
		return notify.NewDirect(a.telegram, m), nil
	}

	conn, err := rabbitmq.Connect(a.cfg.RabbitMQ.URL, a.cfg.RabbitMQ.MaxRetries, a.cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.closers = append(a.closers, conn)

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.NotificationQueues())
	if err != nil {
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	a.closers = append(a.closers, channelCloser{ch})
	return notify.NewQueue(ch, m), nil
}

type channelCloser struct{ ch *amqp.Channel }

func (c channelCloser) Close() error { return c.ch.Close() }

// Run работает до отмены ctx или падения HTTP-сервера.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.scheduler.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("telegram polling started", slog.Int64("admin_id", a.cfg.Telegram.AdminID))
		a.telegram.Poll(ctx, a.cfg.Telegram.PollTimeout, a.cfg.Telegram.Workers, a.router.HandleUpdate)
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case runErr = <-errCh:
		if runErr != nil {
			a.logger.Error("HTTP server failed", sl.Err(runErr))
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down gracefully")
	cancel()

	timeoutCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := a.server.Shutdown(timeoutCtx); err != nil {
		a.logger.Error("failed to shutdown HTTP server", sl.Err(err))
	}
	if err := a.scheduler.Stop(timeoutCtx); err != nil {
		a.logger.Error("failed to stop scheduler", sl.Err(err))
	}
	wg.Wait()

	if err := a.accounts.PersistAll(timeoutCtx); err != nil {
		a.logger.Error("failed to persist accounts", sl.Err(err))
	}
	a.close()
	return runErr
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("failed to close resource", sl.Err(err))
		}
	}
	a.closers = nil
}
