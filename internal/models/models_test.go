package models

import (
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_JSON(t *testing.T) {
	d := NewDate(2025, time.March, 9)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2025-03-09"`, string(data))

	var got Date
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, d.Equal(got))

	require.Error(t, json.Unmarshal([]byte(`"09-03-2025"`), &got))
}

func TestDate_AddDaysAcrossMonth(t *testing.T) {
	d := NewDate(2025, time.January, 30)
	assert.Equal(t, "2025-03-01", d.AddDays(30).String())
	assert.Equal(t, 30, d.DaysUntil(d.AddDays(30)))
	assert.Equal(t, -5, d.DaysUntil(d.AddDays(-5)))
}

func TestAccount_IsActive(t *testing.T) {
	now := time.Date(2025, time.May, 10, 15, 0, 0, 0, time.UTC)
	today := DateOf(now)
	yesterday := today.AddDays(-1)

	tests := []struct {
		name   string
		status Status
		expiry *Date
		want   bool
	}{
		{"approved, expires later", StatusApproved, ptr(today.AddDays(3)), true},
		{"approved, expires today", StatusApproved, ptr(today), true},
		{"approved, lapsed", StatusApproved, ptr(yesterday), false},
		{"approved, no expiry", StatusApproved, nil, false},
		{"renewal requested", StatusRenewalRequested, ptr(today.AddDays(3)), false},
		{"pending", StatusPending, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := &Account{Status: tt.status, ExpiryDate: tt.expiry}
			assert.Equal(t, tt.want, acc.IsActive(now))
		})
	}
}

func TestAccount_Clone(t *testing.T) {
	now := time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC)
	acc := NewAccount("42", "alice", now, 120, 1400, 1400)
	exp := DateOf(now).AddDays(30)
	acc.ExpiryDate = &exp
	acc.Favorites = []string{"Panel Ip 1"}
	acc.Earnings.History = append(acc.Earnings.History, EarningEntry{Label: "a", AmountUSD: 1, Timestamp: now})

	c := acc.Clone()
	require.Equal(t, acc, c)

	*c.ExpiryDate = c.ExpiryDate.AddDays(1)
	c.Favorites[0] = "Panel Ip 2"
	c.Earnings.History[0].AmountUSD = 99

	assert.Equal(t, exp, *acc.ExpiryDate)
	assert.Equal(t, "Panel Ip 1", acc.Favorites[0])
	assert.Equal(t, float64(1), acc.Earnings.History[0].AmountUSD)
}

func TestErrors_Unwrap(t *testing.T) {
	var verr error = NewValidationError("amount", "must be positive")
	assert.ErrorIs(t, verr, ErrValidation)
	assert.Equal(t, "invalid amount: must be positive", verr.Error())

	cause := io.ErrShortWrite
	var perr error = &PersistenceError{Op: "storage.Put", Err: cause}
	assert.ErrorIs(t, perr, ErrPersistence)
	assert.ErrorIs(t, perr, cause)

	terr := TransitionError("approve", StatusApproved)
	assert.True(t, errors.Is(terr, ErrInvalidTransition))
	assert.Contains(t, terr.Error(), "approve from approved")
}

func TestEndpoint_Host(t *testing.T) {
	e := Endpoint{Descriptor: "10.0.0.1:1080:user:secret"}
	assert.Equal(t, "10.0.0.1:1080", e.Host())
	assert.Equal(t, "Panel Ip 3", EndpointName(3))
}

func ptr(d Date) *Date { return &d }
