// Package ledger ведёт два независимых баланса учётной записи:
// заработок (долг сервиса пользователю) и долг за IP (долг пользователя).
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage"
)

// Defaults значения для записей, у которых нет раздела балансов.
type Defaults struct {
	Rate    float64
	Due     float64
	DueRate float64
}

// Preview расчёт выплаты до подтверждения.
type Preview struct {
	UserID     string
	TotalUSD   float64
	Rate       float64
	Gross      float64
	Deduction  float64
	Net        float64
	CurrentDue float64
	DueAfter   float64
}

// Engine начисления, выплаты и долг за IP.
type Engine struct {
	store    storage.AccountStore
	defaults Defaults
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New создаёт движок балансов со значениями по умолчанию defaults.
func New(store storage.AccountStore, defaults Defaults, log *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		defaults: defaults,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// AddEarning добавляет начисление в текущий платёжный цикл.
func (e *Engine) AddEarning(ctx context.Context, userID, label string, amount float64) (*models.Account, error) {
	const op = "ledger.AddEarning"

	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("%s: %w", op, models.NewValidationError("label", "must not be empty"))
	}
	if err := positive("amount", amount); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	acc, err := e.store.Update(ctx, userID, func(acc *models.Account) error {
		e.normalize(acc)
		acc.Earnings.TotalUSD += amount
		acc.Earnings.History = append(acc.Earnings.History, models.EarningEntry{
			Label:     label,
			AmountUSD: amount,
			Timestamp: e.now(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.log.Info("earning added", slog.String("user_id", userID), slog.String("label", label), slog.Float64("amount_usd", amount))
	return acc, nil
}

// SetRate меняет курс пересчёта USD в местную валюту.
func (e *Engine) SetRate(ctx context.Context, userID string, rate float64) (*models.Account, error) {
	const op = "ledger.SetRate"
	if err := positive("rate", rate); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	acc, err := e.store.Update(ctx, userID, func(acc *models.Account) error {
		e.normalize(acc)
		acc.Earnings.Rate = rate
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.log.Info("rate updated", slog.String("user_id", userID), slog.Float64("rate", rate))
	return acc, nil
}

// AdjustDue set заменяет долг, add увеличивает, reduce уменьшает с полом в нуле,
// rate заменяет сумму, добавляемую при продлении. Запись в историю пишется всегда.
func (e *Engine) AdjustDue(ctx context.Context, userID string, action models.DueAction, amount float64) (*models.Account, error) {
	const op = "ledger.AdjustDue"
	if !action.Valid() {
		return nil, fmt.Errorf("%s: %w", op, models.NewValidationError("action", fmt.Sprintf("unknown due action %q", action)))
	}
	if err := nonNegative("amount", amount); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	acc, err := e.store.Update(ctx, userID, func(acc *models.Account) error {
		e.normalize(acc)
		due := &acc.IPDue
		switch action {
		case models.DueSet:
			due.CurrentDue = amount
		case models.DueAdd:
			due.CurrentDue += amount
		case models.DueReduce:
			due.CurrentDue = math.Max(0, due.CurrentDue-amount)
		case models.DueRate:
			due.DueRate = amount
		}
		due.History = append(due.History, models.DueEntry{Action: action, Amount: amount, Timestamp: e.now()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.log.Info("due adjusted",
		slog.String("user_id", userID),
		slog.String("action", string(action)),
		slog.Float64("amount", amount),
		slog.Float64("current_due", acc.IPDue.CurrentDue))
	return acc, nil
}

// PreviewPayment считает выплату, ничего не меняя.
func (e *Engine) PreviewPayment(ctx context.Context, userID string, deduction float64) (Preview, error) {
	const op = "ledger.PreviewPayment"

	acc, err := e.store.Get(ctx, userID)
	if err != nil {
		return Preview{}, fmt.Errorf("%s: %w", op, err)
	}
	e.normalize(acc)
	p, err := preview(acc, deduction)
	if err != nil {
		return Preview{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// SettlePayment фиксирует выплату: пишет запись о платеже, обнуляет
// заработок и историю цикла, уменьшает долг на удержание.
// При удержании больше долга возвращает models.ErrExceedsDue, балансы не меняются.
func (e *Engine) SettlePayment(ctx context.Context, userID string, deduction float64) (models.Payment, *models.Account, error) {
	const op = "ledger.SettlePayment"

	var payment models.Payment
	acc, err := e.store.Update(ctx, userID, func(acc *models.Account) error {
		e.normalize(acc)
		p, err := preview(acc, deduction)
		if err != nil {
			return err
		}

		now := e.now()
		payment = models.Payment{
			ID:          e.newID(),
			AmountUSD:   p.TotalUSD,
			AmountLocal: p.Gross,
			Deducted:    p.Deduction,
			NetPaid:     p.Net,
			Rate:        p.Rate,
			Timestamp:   now,
		}
		acc.Earnings.Payments = append(acc.Earnings.Payments, payment)
		acc.Earnings.TotalUSD = 0
		acc.Earnings.History = []models.EarningEntry{}

		if deduction > 0 {
			acc.IPDue.CurrentDue = p.DueAfter
			acc.IPDue.History = append(acc.IPDue.History, models.DueEntry{
				Action:    models.DuePaymentDeduct,
				Amount:    deduction,
				Timestamp: now,
			})
		}
		return nil
	})
	if err != nil {
		return models.Payment{}, nil, fmt.Errorf("%s: %w", op, err)
	}

	e.log.Info("payment settled",
		slog.String("user_id", userID),
		slog.String("payment_id", payment.ID),
		slog.Float64("net_paid", payment.NetPaid),
		slog.Float64("deducted", payment.Deducted))
	return payment, acc, nil
}

func preview(acc *models.Account, deduction float64) (Preview, error) {
	if err := nonNegative("deduction", deduction); err != nil {
		return Preview{}, err
	}
	if deduction > acc.IPDue.CurrentDue {
		return Preview{}, fmt.Errorf("%w: %.2f > %.2f", models.ErrExceedsDue, deduction, acc.IPDue.CurrentDue)
	}
	if acc.Earnings.TotalUSD <= 0 {
		return Preview{}, models.NewValidationError("total_usd", "no earnings to pay")
	}
	gross := acc.Earnings.TotalUSD * acc.Earnings.Rate
	return Preview{
		UserID:     acc.UserID,
		TotalUSD:   acc.Earnings.TotalUSD,
		Rate:       acc.Earnings.Rate,
		Gross:      gross,
		Deduction:  deduction,
		Net:        gross - deduction,
		CurrentDue: acc.IPDue.CurrentDue,
		DueAfter:   acc.IPDue.CurrentDue - deduction,
	}, nil
}

// ApplyRenewalDue добавляет к долгу ставку продления. Вызывается
// движком жизненного цикла внутри его собственного Update.
func ApplyRenewalDue(acc *models.Account, now time.Time) {
	acc.IPDue.CurrentDue += acc.IPDue.DueRate
	acc.IPDue.History = append(acc.IPDue.History, models.DueEntry{
		Action:    models.DueRenewalAdd,
		Amount:    acc.IPDue.DueRate,
		Timestamp: now,
	})
}

// Normalize подставляет значения по умолчанию в записи старого формата.
func (e *Engine) Normalize(acc *models.Account) { e.normalize(acc) }

func (e *Engine) normalize(acc *models.Account) {
	if acc.Earnings.Rate <= 0 {
		acc.Earnings.Rate = e.defaults.Rate
	}
	if acc.Earnings.History == nil {
		acc.Earnings.History = []models.EarningEntry{}
	}
	if acc.Earnings.Payments == nil {
		acc.Earnings.Payments = []models.Payment{}
	}
	if acc.IPDue.History == nil {
		acc.IPDue.History = []models.DueEntry{}
		if acc.IPDue.CurrentDue == 0 && acc.IPDue.DueRate == 0 {
			acc.IPDue.CurrentDue = e.defaults.Due
			acc.IPDue.DueRate = e.defaults.DueRate
		}
	}
}

func positive(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return models.NewValidationError(field, "must be a positive number")
	}
	return nil
}

func nonNegative(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return models.NewValidationError(field, "must not be negative")
	}
	return nil
}
