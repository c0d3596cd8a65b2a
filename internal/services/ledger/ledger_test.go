package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage/filestore"
)

var fixedNow = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, accounts ...*models.Account) (*Engine, *storage.Accounts) {
	t.Helper()
	store := storage.NewAccounts(filestore.New(filepath.Join(t.TempDir(), "users.json")), newNoopLogger())
	for _, acc := range accounts {
		require.NoError(t, store.Create(context.Background(), acc))
	}
	e := New(store, Defaults{Rate: 120, Due: 1400, DueRate: 1400}, newNoopLogger())
	e.now = func() time.Time { return fixedNow }
	e.newID = func() string { return "pay-1" }
	return e, store
}

func account(total, rate, due float64) *models.Account {
	acc := models.NewAccount("42", "alice", fixedNow.AddDate(0, -1, 0), rate, due, 1400)
	acc.Status = models.StatusApproved
	acc.Earnings.TotalUSD = total
	return acc
}

func TestSettlePayment_PartialDeduction(t *testing.T) {
	e, store := setup(t, account(10, 120, 500))

	payment, acc, err := e.SettlePayment(context.Background(), "42", 300)
	require.NoError(t, err)

	assert.Equal(t, models.Payment{
		ID:          "pay-1",
		AmountUSD:   10,
		AmountLocal: 1200,
		Deducted:    300,
		NetPaid:     900,
		Rate:        120,
		Timestamp:   fixedNow,
	}, payment)
	assert.Equal(t, float64(0), acc.Earnings.TotalUSD)
	assert.Empty(t, acc.Earnings.History)
	assert.Equal(t, float64(200), acc.IPDue.CurrentDue)
	require.Len(t, acc.IPDue.History, 1)
	assert.Equal(t, models.DuePaymentDeduct, acc.IPDue.History[0].Action)

	stored, err := store.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, acc, stored)
}

func TestSettlePayment_NoDeductionSkipsDueHistory(t *testing.T) {
	e, _ := setup(t, account(5, 100, 50))

	payment, acc, err := e.SettlePayment(context.Background(), "42", 0)
	require.NoError(t, err)
	assert.Equal(t, float64(500), payment.NetPaid)
	assert.Equal(t, float64(50), acc.IPDue.CurrentDue)
	assert.Empty(t, acc.IPDue.History)
	assert.Len(t, acc.Earnings.Payments, 1)
}

func TestSettlePayment_Rejected(t *testing.T) {
	tests := []struct {
		name      string
		total     float64
		deduction float64
		wantErr   error
	}{
		{name: "exceeds due", total: 10, deduction: 501, wantErr: models.ErrExceedsDue},
		{name: "negative deduction", total: 10, deduction: -1, wantErr: models.ErrValidation},
		{name: "nothing to pay", total: 0, deduction: 0, wantErr: models.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := setup(t, account(tt.total, 120, 500))
			before, err := store.Get(context.Background(), "42")
			require.NoError(t, err)

			_, _, err = e.SettlePayment(context.Background(), "42", tt.deduction)
			assert.ErrorIs(t, err, tt.wantErr)

			after, err := store.Get(context.Background(), "42")
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestPreviewPayment(t *testing.T) {
	e, store := setup(t, account(10, 120, 500))

	p, err := e.PreviewPayment(context.Background(), "42", 300)
	require.NoError(t, err)
	assert.Equal(t, float64(1200), p.Gross)
	assert.Equal(t, float64(900), p.Net)
	assert.Equal(t, float64(200), p.DueAfter)

	acc, err := store.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, float64(10), acc.Earnings.TotalUSD)
	assert.Empty(t, acc.Earnings.Payments)
}

func TestAdjustDue(t *testing.T) {
	tests := []struct {
		name        string
		action      models.DueAction
		amount      float64
		wantDue     float64
		wantDueRate float64
		wantErr     error
	}{
		{name: "set", action: models.DueSet, amount: 700, wantDue: 700, wantDueRate: 1400},
		{name: "add", action: models.DueAdd, amount: 100, wantDue: 600, wantDueRate: 1400},
		{name: "reduce", action: models.DueReduce, amount: 200, wantDue: 300, wantDueRate: 1400},
		{name: "reduce floors at zero", action: models.DueReduce, amount: 9000, wantDue: 0, wantDueRate: 1400},
		{name: "rate", action: models.DueRate, amount: 1500, wantDue: 500, wantDueRate: 1500},
		{name: "engine-only action", action: models.DueRenewalAdd, amount: 1, wantErr: models.ErrValidation},
		{name: "negative", action: models.DueAdd, amount: -5, wantErr: models.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := setup(t, account(0, 120, 500))

			acc, err := e.AdjustDue(context.Background(), "42", tt.action, tt.amount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDue, acc.IPDue.CurrentDue)
			assert.Equal(t, tt.wantDueRate, acc.IPDue.DueRate)
			require.Len(t, acc.IPDue.History, 1)
			assert.Equal(t, models.DueEntry{Action: tt.action, Amount: tt.amount, Timestamp: fixedNow}, acc.IPDue.History[0])
		})
	}
}

func TestAddEarning(t *testing.T) {
	e, _ := setup(t, account(0, 120, 0))

	_, err := e.AddEarning(context.Background(), "42", "March panel", 7.5)
	require.NoError(t, err)
	acc, err := e.AddEarning(context.Background(), "42", "April panel", 2.5)
	require.NoError(t, err)

	assert.Equal(t, float64(10), acc.Earnings.TotalUSD)
	require.Len(t, acc.Earnings.History, 2)
	assert.Equal(t, "April panel", acc.Earnings.History[1].Label)

	_, err = e.AddEarning(context.Background(), "42", "  ", 1)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = e.AddEarning(context.Background(), "42", "x", 0)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = e.AddEarning(context.Background(), "missing", "x", 1)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSetRate(t *testing.T) {
	e, _ := setup(t, account(0, 120, 0))

	acc, err := e.SetRate(context.Background(), "42", 125)
	require.NoError(t, err)
	assert.Equal(t, float64(125), acc.Earnings.Rate)

	_, err = e.SetRate(context.Background(), "42", -1)
	var vErr *models.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "rate", vErr.Field)
}

func TestNormalize_LegacyRecord(t *testing.T) {
	e, _ := setup(t)
	acc := &models.Account{UserID: "1"}

	e.Normalize(acc)

	assert.Equal(t, float64(120), acc.Earnings.Rate)
	assert.Equal(t, float64(1400), acc.IPDue.CurrentDue)
	assert.Equal(t, float64(1400), acc.IPDue.DueRate)
	assert.NotNil(t, acc.Earnings.Payments)
}

func TestApplyRenewalDue(t *testing.T) {
	acc := account(0, 120, 200)
	ApplyRenewalDue(acc, fixedNow)

	assert.Equal(t, float64(1600), acc.IPDue.CurrentDue)
	assert.Equal(t, models.DueRenewalAdd, acc.IPDue.History[0].Action)
}

func TestBalancesNeverNegative(t *testing.T) {
	e, store := setup(t, account(3, 120, 100))
	ctx := context.Background()

	_, _ = e.AdjustDue(ctx, "42", models.DueReduce, 150)
	_, _, err := e.SettlePayment(ctx, "42", 50)
	assert.ErrorIs(t, err, models.ErrExceedsDue)
	_, _, err = e.SettlePayment(ctx, "42", 0)
	require.NoError(t, err)
	_, _, err = e.SettlePayment(ctx, "42", 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	acc, err := store.Get(ctx, "42")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc.Earnings.TotalUSD, float64(0))
	assert.GreaterOrEqual(t, acc.IPDue.CurrentDue, float64(0))
	assert.Len(t, acc.Earnings.Payments, 1)
}
