package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

type BackendMock struct{ mock.Mock }

func (m *BackendMock) ReadAll(ctx context.Context) (map[string]*models.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*models.Account), args.Error(1)
}

func (m *BackendMock) WriteAll(ctx context.Context, accounts map[string]*models.Account) error {
	return m.Called(ctx, accounts).Error(0)
}

func (m *BackendMock) WriteOne(ctx context.Context, next map[string]*models.Account, acc *models.Account) error {
	return m.Called(ctx, next, acc).Error(0)
}

func (m *BackendMock) Remove(ctx context.Context, next map[string]*models.Account, userID string) error {
	return m.Called(ctx, next, userID).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func seeded(t *testing.T, b *BackendMock) *Accounts {
	t.Helper()
	now := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	b.On("ReadAll", mock.Anything).Return(map[string]*models.Account{
		"1": models.NewAccount("", "alice", now, 120, 1400, 1400),
		"2": models.NewAccount("", "bob", now.Add(time.Hour), 120, 1400, 1400),
	}, nil).Once()

	s := NewAccounts(b, newNoopLogger())
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestAccounts_LoadAssignsKeys(t *testing.T) {
	b := &BackendMock{}
	s := seeded(t, b)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "1", list[0].UserID)
	assert.Equal(t, "bob", list[1].Username)
	b.AssertExpectations(t)
}

func TestAccounts_GetReturnsCopy(t *testing.T) {
	b := &BackendMock{}
	s := seeded(t, b)
	ctx := context.Background()

	acc, err := s.Get(ctx, "1")
	require.NoError(t, err)
	acc.Earnings.TotalUSD = 500

	again, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Zero(t, again.Earnings.TotalUSD)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccounts_Update(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		fn         func(acc *models.Account) error
		setupMocks func(b *BackendMock)
		wantErr    error
		wantTotal  float64
	}{
		{
			name: "commit after successful write",
			id:   "1",
			fn: func(acc *models.Account) error {
				acc.Earnings.TotalUSD = 10
				return nil
			},
			setupMocks: func(b *BackendMock) {
				b.On("WriteOne", mock.Anything, mock.Anything, mock.MatchedBy(func(a *models.Account) bool {
					return a.UserID == "1" && a.Earnings.TotalUSD == 10
				})).Return(nil).Once()
			},
			wantTotal: 10,
		},
		{
			name: "write failure keeps mirror",
			id:   "1",
			fn: func(acc *models.Account) error {
				acc.Earnings.TotalUSD = 10
				return nil
			},
			setupMocks: func(b *BackendMock) {
				b.On("WriteOne", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
			},
			wantErr:   models.ErrPersistence,
			wantTotal: 0,
		},
		{
			name: "mutator error aborts without write",
			id:   "1",
			fn: func(acc *models.Account) error {
				acc.Earnings.TotalUSD = 10
				return models.ErrExceedsDue
			},
			setupMocks: func(_ *BackendMock) {},
			wantErr:    models.ErrExceedsDue,
			wantTotal:  0,
		},
		{
			name:       "unknown account",
			id:         "404",
			fn:         func(_ *models.Account) error { return nil },
			setupMocks: func(_ *BackendMock) {},
			wantErr:    models.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &BackendMock{}
			s := seeded(t, b)
			tt.setupMocks(b)
			ctx := context.Background()

			_, err := s.Update(ctx, tt.id, tt.fn)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			if tt.id == "1" {
				acc, err := s.Get(ctx, "1")
				require.NoError(t, err)
				assert.Equal(t, tt.wantTotal, acc.Earnings.TotalUSD)
			}
			b.AssertExpectations(t)
		})
	}
}

func TestAccounts_CreateRejectsDuplicate(t *testing.T) {
	b := &BackendMock{}
	s := seeded(t, b)
	ctx := context.Background()

	err := s.Create(ctx, models.NewAccount("1", "alice", time.Now(), 120, 0, 0))
	assert.ErrorIs(t, err, models.ErrAlreadyExists)

	b.On("WriteOne", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, s.Create(ctx, models.NewAccount("3", "carol", time.Now(), 120, 0, 0)))

	acc, err := s.Get(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, "carol", acc.Username)
	b.AssertExpectations(t)
}

func TestAccounts_Delete(t *testing.T) {
	b := &BackendMock{}
	s := seeded(t, b)
	ctx := context.Background()

	b.On("Remove", mock.Anything, mock.MatchedBy(func(next map[string]*models.Account) bool {
		_, still := next["2"]
		return !still && len(next) == 1
	}), "2").Return(nil).Once()

	require.NoError(t, s.Delete(ctx, "2"))
	_, err := s.Get(ctx, "2")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "2"), models.ErrNotFound)
	b.AssertExpectations(t)
}

func TestAccounts_CancelledContext(t *testing.T) {
	b := &BackendMock{}
	s := seeded(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "1")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Update(ctx, "1", func(_ *models.Account) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
