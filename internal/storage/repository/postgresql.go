// Package repository реализует бэкенд учётных записей на PostgreSQL.
// Каждая запись хранится одной строкой: ключ, пара колонок для выборок
// администратора и полный документ в jsonb.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage"
)

// Storage инкапсулирует соединение с PostgreSQL.
type Storage struct {
	DB *sql.DB
}

var _ storage.Backend = (*Storage)(nil)

// New открывает соединение и проверяет его пингом.
func New(ctx context.Context, storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет, что миграции применены.
func (s *Storage) CheckDatabaseReady(ctx context.Context) error {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (
        SELECT FROM information_schema.tables 
        WHERE table_name = 'accounts'
    )`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("storage.CheckDatabaseReady: %w", err)
	}
	if !exists {
		return fmt.Errorf("storage.CheckDatabaseReady: required table accounts missing")
	}
	return nil
}

// ReadAll загружает все учётные записи.
func (s *Storage) ReadAll(ctx context.Context) (map[string]*models.Account, error) {
	const op = "storage.ReadAll"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT user_id, data FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make(map[string]*models.Account)
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err = rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		var acc models.Account
		if err = json.Unmarshal(data, &acc); err != nil {
			return nil, fmt.Errorf("%s: account %s: %w", op, id, err)
		}
		result[id] = &acc
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

const upsertQuery = `INSERT INTO accounts (user_id, username, status, data, updated_at)
			  VALUES ($1, $2, $3, $4, NOW())
			  ON CONFLICT (user_id) DO UPDATE
			  SET username = EXCLUDED.username,
			      status = EXCLUDED.status,
			      data = EXCLUDED.data,
			      updated_at = NOW()`

// WriteOne сохраняет одну изменённую запись, остальные строки не трогает.
func (s *Storage) WriteOne(ctx context.Context, _ map[string]*models.Account, acc *models.Account) error {
	const op = "storage.WriteOne"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err = s.DB.ExecContext(ctx, upsertQuery, acc.UserID, acc.Username, string(acc.Status), data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remove удаляет строку пользователя.
func (s *Storage) Remove(ctx context.Context, _ map[string]*models.Account, userID string) error {
	const op = "storage.Remove"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM accounts WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %s: %w", op, userID, models.ErrNotFound)
	}
	return nil
}

// WriteAll заменяет весь набор в одной транзакции.
func (s *Storage) WriteAll(ctx context.Context, accounts map[string]*models.Account) error {
	const op = "storage.WriteAll"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for id, acc := range accounts {
		data, err := json.Marshal(acc)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err = tx.ExecContext(ctx, upsertQuery, id, acc.Username, string(acc.Status), data); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}
