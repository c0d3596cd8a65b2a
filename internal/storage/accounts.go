// Package storage содержит репозиторий учётных записей: авторитетное
// зеркало в памяти поверх сменного бэкенда (JSON-файл или PostgreSQL).
// Зеркало меняется только после успешной записи в бэкенд.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

// AccountStore контракт хранилища учётных записей, бизнес-правил не содержит.
type AccountStore interface {
	Load(ctx context.Context) error
	Get(ctx context.Context, userID string) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	Put(ctx context.Context, acc *models.Account) error
	Create(ctx context.Context, acc *models.Account) error
	Update(ctx context.Context, userID string, fn func(acc *models.Account) error) (*models.Account, error)
	Delete(ctx context.Context, userID string) error
	PersistAll(ctx context.Context) error
}

// Backend долговременная часть хранилища.
// WriteOne и Remove получают следующее полное состояние, чтобы файловый
// бэкенд мог переписать набор целиком, а табличный тронуть одну строку.
type Backend interface {
	ReadAll(ctx context.Context) (map[string]*models.Account, error)
	WriteAll(ctx context.Context, accounts map[string]*models.Account) error
	WriteOne(ctx context.Context, next map[string]*models.Account, acc *models.Account) error
	Remove(ctx context.Context, next map[string]*models.Account, userID string) error
}

// Accounts реализует AccountStore. Все чтения отдают копии,
// все изменения проходят цикл прочитать-изменить-записать под мьютексом.
type Accounts struct {
	mu       sync.Mutex
	backend  Backend
	accounts map[string]*models.Account
	log      *slog.Logger
}

var _ AccountStore = (*Accounts)(nil)

func NewAccounts(backend Backend, log *slog.Logger) *Accounts {
	return &Accounts{
		backend:  backend,
		accounts: make(map[string]*models.Account),
		log:      log,
	}
}

// Load читает весь набор из бэкенда и заменяет зеркало.
func (s *Accounts) Load(ctx context.Context) error {
	const op = "storage.Load"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	loaded, err := s.backend.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if loaded == nil {
		loaded = make(map[string]*models.Account)
	}
	for id, acc := range loaded {
		acc.UserID = id
	}

	s.mu.Lock()
	s.accounts = loaded
	s.mu.Unlock()

	s.log.Info("accounts loaded", slog.Int("count", len(loaded)))
	return nil
}

func (s *Accounts) Get(ctx context.Context, userID string) (*models.Account, error) {
	const op = "storage.Get"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", op, userID, models.ErrNotFound)
	}
	return acc.Clone(), nil
}

// List возвращает копии всех записей в порядке регистрации.
func (s *Accounts) List(ctx context.Context) ([]*models.Account, error) {
	const op = "storage.List"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	s.mu.Lock()
	result := make([]*models.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		result = append(result, acc.Clone())
	}
	s.mu.Unlock()

	slices.SortFunc(result, func(a, b *models.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return result, nil
}

// Put вставляет или заменяет запись целиком.
func (s *Accounts) Put(ctx context.Context, acc *models.Account) error {
	const op = "storage.Put"
	return s.write(ctx, op, acc, false)
}

// Create вставляет запись, если её ещё нет, иначе models.ErrAlreadyExists.
func (s *Accounts) Create(ctx context.Context, acc *models.Account) error {
	const op = "storage.Create"
	return s.write(ctx, op, acc, true)
}

func (s *Accounts) write(ctx context.Context, op string, acc *models.Account, mustBeNew bool) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	if acc == nil || acc.UserID == "" {
		return fmt.Errorf("%s: %w", op, models.NewValidationError("user_id", "must not be empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acc.UserID]; exists && mustBeNew {
		return fmt.Errorf("%s: %s: %w", op, acc.UserID, models.ErrAlreadyExists)
	}

	stored := acc.Clone()
	next := maps.Clone(s.accounts)
	next[stored.UserID] = stored
	if err := s.backend.WriteOne(ctx, next, stored); err != nil {
		return &models.PersistenceError{Op: op, Err: err}
	}
	s.accounts = next
	return nil
}

// Update единица чтения-изменения-записи: fn получает копию записи,
// и только после успешной записи копия заменяет оригинал в зеркале.
// Ошибка fn отменяет изменение целиком.
func (s *Accounts) Update(ctx context.Context, userID string, fn func(acc *models.Account) error) (*models.Account, error) {
	const op = "storage.Update"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", op, userID, models.ErrNotFound)
	}

	draft := current.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	draft.UserID = userID

	next := maps.Clone(s.accounts)
	next[userID] = draft
	if err := s.backend.WriteOne(ctx, next, draft); err != nil {
		s.log.Error("failed to persist account", slog.String("op", op), slog.String("user_id", userID), sl.Err(err))
		return nil, &models.PersistenceError{Op: op, Err: err}
	}
	s.accounts = next
	return draft.Clone(), nil
}

func (s *Accounts) Delete(ctx context.Context, userID string) error {
	const op = "storage.Delete"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[userID]; !ok {
		return fmt.Errorf("%s: %s: %w", op, userID, models.ErrNotFound)
	}
	next := maps.Clone(s.accounts)
	delete(next, userID)
	if err := s.backend.Remove(ctx, next, userID); err != nil {
		return &models.PersistenceError{Op: op, Err: err}
	}
	s.accounts = next
	return nil
}

// PersistAll переписывает весь набор в бэкенде.
func (s *Accounts) PersistAll(ctx context.Context) error {
	const op = "storage.PersistAll"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.WriteAll(ctx, s.accounts); err != nil {
		return &models.PersistenceError{Op: op, Err: err}
	}
	return nil
}
