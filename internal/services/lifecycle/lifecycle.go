// Package lifecycle машина состояний учётной записи:
// регистрация, одобрение, истечение срока и продление.
// Активность подписки не хранится, а вычисляется при каждом обращении.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/ledger"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage"
)

// maxDays верхняя граница для продления и сокращения за один раз.
const maxDays = 3650

// Policy параметры подписки.
type Policy struct {
	SubscriptionDays int
	ReminderDays     int
	Defaults         ledger.Defaults
}

// Reminder учётная запись, которой пора напомнить об окончании срока.
type Reminder struct {
	Account  *models.Account
	DaysLeft int
}

// Engine переходы статусов учётных записей.
type Engine struct {
	store  storage.AccountStore
	policy Policy
	log    *slog.Logger
	now    func() time.Time
}

// New создаёт движок поверх хранилища записей.
func New(store storage.AccountStore, policy Policy, log *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
}

// Register создаёт запись в статусе pending.
func (e *Engine) Register(ctx context.Context, userID, username string) (*models.Account, error) {
	const op = "lifecycle.Register"

	d := e.policy.Defaults
	acc := models.NewAccount(userID, strings.TrimPrefix(username, "@"), e.now(), d.Rate, d.Due, d.DueRate)
	if err := e.store.Create(ctx, acc); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrAlreadyRegistered)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.log.Info("account registered", slog.String("user_id", userID), slog.String("username", acc.Username))
	return acc, nil
}

// Approve pending -> approved, срок now + SubscriptionDays.
func (e *Engine) Approve(ctx context.Context, userID string) (*models.Account, error) {
	return e.transition(ctx, "lifecycle.Approve", userID, func(acc *models.Account, today models.Date) error {
		if acc.Status != models.StatusPending {
			return models.TransitionError("approve", acc.Status)
		}
		expiry := today.AddDays(e.policy.SubscriptionDays)
		acc.Status = models.StatusApproved
		acc.ExpiryDate = &expiry
		return nil
	})
}

// Decline pending -> unregistered, запись удаляется.
func (e *Engine) Decline(ctx context.Context, userID string) (*models.Account, error) {
	const op = "lifecycle.Decline"

	acc, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if acc.Status != models.StatusPending {
		return nil, fmt.Errorf("%s: %w", op, models.TransitionError("decline", acc.Status))
	}
	if err := e.store.Delete(ctx, userID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.log.Info("registration declined", slog.String("user_id", userID))
	return acc, nil
}

// RequestRenewal approved (активная или истёкшая) или expired -> renewal_requested.
func (e *Engine) RequestRenewal(ctx context.Context, userID string) (*models.Account, error) {
	acc, err := e.transition(ctx, "lifecycle.RequestRenewal", userID, func(acc *models.Account, _ models.Date) error {
		switch acc.Status {
		// Из expired тоже можно попросить продление, иначе из него нет выхода.
		case models.StatusApproved, models.StatusExpired:
			acc.Status = models.StatusRenewalRequested
			return nil
		}
		return models.TransitionError("request renewal", acc.Status)
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("lifecycle.RequestRenewal: %w", models.ErrNotRegistered)
	}
	return acc, err
}

// ApproveRenewal renewal_requested -> approved. Новый срок считается от
// max(текущий срок, сегодня), долг растёт на ставку продления.
func (e *Engine) ApproveRenewal(ctx context.Context, userID string) (*models.Account, error) {
	return e.transition(ctx, "lifecycle.ApproveRenewal", userID, func(acc *models.Account, today models.Date) error {
		if acc.Status != models.StatusRenewalRequested {
			return models.TransitionError("approve renewal", acc.Status)
		}
		base := today
		if acc.ExpiryDate != nil {
			base = models.MaxDate(*acc.ExpiryDate, today)
		}
		expiry := base.AddDays(e.policy.SubscriptionDays)
		acc.Status = models.StatusApproved
		acc.ExpiryDate = &expiry
		acc.LastNotification = nil
		ledger.ApplyRenewalDue(acc, e.now())
		return nil
	})
}

// DeclineRenewal renewal_requested -> expired.
func (e *Engine) DeclineRenewal(ctx context.Context, userID string) (*models.Account, error) {
	return e.transition(ctx, "lifecycle.DeclineRenewal", userID, func(acc *models.Account, _ models.Date) error {
		if acc.Status != models.StatusRenewalRequested {
			return models.TransitionError("decline renewal", acc.Status)
		}
		acc.Status = models.StatusExpired
		return nil
	})
}

// Extend прибавляет дни к max(срок, сегодня).
func (e *Engine) Extend(ctx context.Context, userID string, days int) (*models.Account, error) {
	const op = "lifecycle.Extend"
	if err := validDays(days); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e.transition(ctx, op, userID, func(acc *models.Account, today models.Date) error {
		if acc.Status != models.StatusApproved {
			return models.TransitionError("extend", acc.Status)
		}
		base := today
		if acc.ExpiryDate != nil {
			base = models.MaxDate(*acc.ExpiryDate, today)
		}
		expiry := base.AddDays(days)
		acc.ExpiryDate = &expiry
		acc.Status = models.StatusApproved
		return nil
	})
}

// Reduce отнимает дни. Для активной подписки срок не уходит раньше сегодняшнего дня,
// для уже истёкшей может уйти дальше в прошлое, но не раньше даты создания.
func (e *Engine) Reduce(ctx context.Context, userID string, days int) (*models.Account, error) {
	const op = "lifecycle.Reduce"
	if err := validDays(days); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e.transition(ctx, op, userID, func(acc *models.Account, today models.Date) error {
		if acc.Status != models.StatusApproved {
			return models.TransitionError("reduce", acc.Status)
		}
		current := today
		if acc.ExpiryDate != nil {
			current = *acc.ExpiryDate
		}
		wasActive := acc.IsActive(e.now())

		expiry := current.AddDays(-days)
		if wasActive && expiry.Before(today) {
			expiry = today
		}
		if created := models.DateOf(acc.CreatedAt); expiry.Before(created) {
			expiry = created
		}
		acc.ExpiryDate = &expiry
		acc.Status = models.StatusApproved
		return nil
	})
}

// Remove удаляет запись администратором независимо от статуса.
func (e *Engine) Remove(ctx context.Context, userID string) (*models.Account, error) {
	const op = "lifecycle.Remove"

	acc, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := e.store.Delete(ctx, userID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.log.Info("account removed", slog.String("user_id", userID))
	return acc, nil
}

// RemoveByUsername то же, что Remove, но по имени пользователя (с @ или без).
func (e *Engine) RemoveByUsername(ctx context.Context, username string) (*models.Account, error) {
	const op = "lifecycle.RemoveByUsername"

	acc, err := e.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e.Remove(ctx, acc.UserID)
}

// FindByUsername ищет запись по имени без учёта регистра и ведущего @.
func (e *Engine) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	const op = "lifecycle.FindByUsername"

	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if name == "" {
		return nil, fmt.Errorf("%s: %w", op, models.NewValidationError("username", "must not be empty"))
	}
	all, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, acc := range all {
		if strings.EqualFold(acc.Username, name) {
			return acc, nil
		}
	}
	return nil, fmt.Errorf("%s: @%s: %w", op, name, models.ErrNotFound)
}

// Get копия записи по идентификатору.
func (e *Engine) Get(ctx context.Context, userID string) (*models.Account, error) {
	acc, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.Get: %w", err)
	}
	return acc, nil
}

// List копии всех записей.
func (e *Engine) List(ctx context.Context) ([]*models.Account, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.List: %w", err)
	}
	return all, nil
}

// DueReminders отбирает одобренные записи, у которых осталось от 0 до
// ReminderDays дней и которым сегодня ещё не напоминали, и отмечает их.
func (e *Engine) DueReminders(ctx context.Context) ([]Reminder, error) {
	const op = "lifecycle.DueReminders"

	all, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	today := models.DateOf(e.now())
	var reminders []Reminder
	for _, candidate := range all {
		if !e.needsReminder(candidate, today) {
			continue
		}
		acc, err := e.store.Update(ctx, candidate.UserID, func(acc *models.Account) error {
			if !e.needsReminder(acc, today) {
				return errSkip
			}
			stamp := today
			acc.LastNotification = &stamp
			return nil
		})
		switch {
		case errors.Is(err, errSkip), errors.Is(err, models.ErrNotFound):
			continue
		case err != nil:
			return reminders, fmt.Errorf("%s: %w", op, err)
		}
		days, _ := acc.DaysLeft(e.now())
		reminders = append(reminders, Reminder{Account: acc, DaysLeft: days})
	}
	return reminders, nil
}

var errSkip = errors.New("skip")

func (e *Engine) needsReminder(acc *models.Account, today models.Date) bool {
	if acc.Status != models.StatusApproved || acc.ExpiryDate == nil {
		return false
	}
	if acc.LastNotification != nil && acc.LastNotification.Equal(today) {
		return false
	}
	days := today.DaysUntil(*acc.ExpiryDate)
	return days >= 0 && days <= e.policy.ReminderDays
}

// AddFavorite добавляет точку в избранное, только для активной подписки.
func (e *Engine) AddFavorite(ctx context.Context, userID, endpoint string) (*models.Account, error) {
	return e.active(ctx, "lifecycle.AddFavorite", userID, func(acc *models.Account) {
		if !acc.HasFavorite(endpoint) {
			acc.Favorites = append(acc.Favorites, endpoint)
		}
	})
}

func (e *Engine) RemoveFavorite(ctx context.Context, userID, endpoint string) (*models.Account, error) {
	return e.active(ctx, "lifecycle.RemoveFavorite", userID, func(acc *models.Account) {
		acc.Favorites = slices.DeleteFunc(acc.Favorites, func(s string) bool { return s == endpoint })
	})
}

func (e *Engine) ClearFavorites(ctx context.Context, userID string) (*models.Account, error) {
	return e.active(ctx, "lifecycle.ClearFavorites", userID, func(acc *models.Account) {
		acc.Favorites = nil
	})
}

// RecordProxyRequest пишет выдачу точки в журнал пользователя.
func (e *Engine) RecordProxyRequest(ctx context.Context, userID, endpoint string) (*models.Account, error) {
	return e.active(ctx, "lifecycle.RecordProxyRequest", userID, func(acc *models.Account) {
		acc.ProxyRequests = append(acc.ProxyRequests, models.ProxyRequest{Timestamp: e.now(), Endpoint: endpoint})
	})
}

func (e *Engine) active(ctx context.Context, op, userID string, fn func(acc *models.Account)) (*models.Account, error) {
	acc, err := e.store.Update(ctx, userID, func(acc *models.Account) error {
		if !acc.IsActive(e.now()) {
			return models.ErrInactive
		}
		fn(acc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

func (e *Engine) transition(ctx context.Context, op, userID string, fn func(acc *models.Account, today models.Date) error) (*models.Account, error) {
	var from models.Status
	acc, err := e.store.Update(ctx, userID, func(acc *models.Account) error {
		from = acc.Status
		return fn(acc, models.DateOf(e.now()))
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.log.Info("account transition",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("from", string(from)),
		slog.String("to", string(acc.Status)),
		slog.String("expiry", expiryText(acc)))
	return acc, nil
}

func expiryText(acc *models.Account) string {
	if acc.ExpiryDate == nil {
		return "-"
	}
	return acc.ExpiryDate.String()
}

func validDays(days int) error {
	if days <= 0 || days > maxDays {
		return models.NewValidationError("days", fmt.Sprintf("must be between 1 and %d", maxDays))
	}
	return nil
}
