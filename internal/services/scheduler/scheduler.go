// Package scheduler фоновые задачи бота по расписанию cron: цикл проверки
// точек, ежедневные напоминания об окончании подписки и чистка лимитов.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/lifecycle"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/monitor"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/notify"
)

const pruneSchedule = "@every 10m"

type HealthCycle interface {
	RunCycle(ctx context.Context) (monitor.Report, error)
}

// ReminderSource отбирает и отмечает записи, которым пора напомнить.
type ReminderSource interface {
	DueReminders(ctx context.Context) ([]lifecycle.Reminder, error)
}

type Pruner interface {
	Prune() int
}

type Options struct {
	HealthSchedule   string
	ReminderSchedule string
	FirstRunDelay    time.Duration
	SubscriptionDays int
}

type Scheduler struct {
	cron      *cron.Cron
	health    HealthCycle
	reminders ReminderSource
	notifier  notify.Notifier
	pruner    Pruner
	opts      Options
	log       *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	first   *time.Timer
	started bool
}

// New регистрирует задачи. Ошибка означает неверное выражение расписания.
// pruner может быть nil.
func New(health HealthCycle, reminders ReminderSource, notifier notify.Notifier, pruner Pruner, opts Options, log *slog.Logger) (*Scheduler, error) {
	const op = "scheduler.New"

	cronLog := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelWarn))
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		health:    health,
		reminders: reminders,
		notifier:  notifier,
		pruner:    pruner,
		opts:      opts,
		log:       log,
		ctx:       context.Background(),
	}

	if _, err := s.cron.AddFunc(opts.HealthSchedule, s.healthJob); err != nil {
		return nil, fmt.Errorf("%s: health schedule %q: %w", op, opts.HealthSchedule, err)
	}
	if _, err := s.cron.AddFunc(opts.ReminderSchedule, s.reminderJob); err != nil {
		return nil, fmt.Errorf("%s: reminder schedule %q: %w", op, opts.ReminderSchedule, err)
	}
	if pruner != nil {
		if _, err := s.cron.AddFunc(pruneSchedule, s.pruneJob); err != nil {
			return nil, fmt.Errorf("%s: prune schedule: %w", op, err)
		}
	}
	return s, nil
}

// Start запускает расписание. Первый цикл проверки идёт через FirstRunDelay,
// не дожидаясь расписания. Задачи получают ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx = ctx

	s.cron.Start()
	if s.opts.FirstRunDelay >= 0 {
		s.first = time.AfterFunc(s.opts.FirstRunDelay, s.healthJob)
	}
	s.log.Info("scheduler started",
		slog.String("health", s.opts.HealthSchedule),
		slog.String("reminders", s.opts.ReminderSchedule))
}

// Stop останавливает расписание и ждёт завершения идущих задач, но не дольше ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.first != nil {
		s.first.Stop()
	}
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler.Stop: %w", ctx.Err())
	}
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) healthJob() {
	ctx := s.jobContext()
	if ctx.Err() != nil {
		return
	}
	if _, err := s.CheckHealth(ctx); err != nil {
		s.log.Error("scheduled health check failed", sl.Err(err))
	}
}

func (s *Scheduler) reminderJob() {
	ctx := s.jobContext()
	if ctx.Err() != nil {
		return
	}
	if _, err := s.SendReminders(ctx); err != nil {
		s.log.Error("scheduled reminders failed", sl.Err(err))
	}
}

func (s *Scheduler) pruneJob() {
	if n := s.pruner.Prune(); n > 0 {
		s.log.Debug("cooldown entries pruned", slog.Int("count", n))
	}
}

// CheckHealth один цикл монитора. Пересечение с уже идущим циклом не ошибка.
func (s *Scheduler) CheckHealth(ctx context.Context) (monitor.Report, error) {
	report, err := s.health.RunCycle(ctx)
	if errors.Is(err, monitor.ErrCycleRunning) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("scheduler.CheckHealth: %w", err)
	}
	return report, nil
}

// SendReminders отправляет напоминания и возвращает число отправленных.
// Отметка о напоминании ставится при отборе, поэтому сбой доставки
// не приводит к повтору в тот же день.
func (s *Scheduler) SendReminders(ctx context.Context) (int, error) {
	const op = "scheduler.SendReminders"
	log := s.log.With(slog.String("op", op))

	due, err := s.reminders.DueReminders(ctx)
	if err != nil && len(due) == 0 {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		log.Warn("reminder selection stopped early", sl.Err(err))
	}

	sent := 0
	for _, r := range due {
		chatID, cerr := notify.ChatID(r.Account)
		if cerr != nil {
			log.Warn("skipping account with non-numeric id", slog.String("user_id", r.Account.UserID))
			continue
		}
		msg := notify.Message{
			Kind:   notify.KindReminder,
			ChatID: chatID,
			Text:   notify.ReminderText(r.DaysLeft, s.opts.SubscriptionDays),
		}
		if nerr := s.notifier.Notify(ctx, msg); nerr != nil {
			log.Warn("failed to send reminder", slog.String("user_id", r.Account.UserID), sl.Err(nerr))
			continue
		}
		sent++
	}
	log.Info("reminders processed", slog.Int("due", len(due)), slog.Int("sent", sent))
	if err != nil {
		return sent, fmt.Errorf("%s: %w", op, err)
	}
	return sent, nil
}
