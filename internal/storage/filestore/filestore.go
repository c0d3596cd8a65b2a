// Package filestore хранит набор учётных записей одним JSON-объектом,
// ключ которого идентификатор пользователя. Каждое изменение переписывает
// файл целиком через временный файл и rename.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage"
)

// Backend файловый бэкенд для storage.Accounts.
type Backend struct {
	path string
}

var _ storage.Backend = (*Backend)(nil)

func New(path string) *Backend {
	return &Backend{path: path}
}

// ReadAll читает файл; отсутствующий файл означает пустой набор.
func (b *Backend) ReadAll(ctx context.Context) (map[string]*models.Account, error) {
	const op = "filestore.ReadAll"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]*models.Account{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(data) == 0 {
		return map[string]*models.Account{}, nil
	}

	accounts := make(map[string]*models.Account)
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return accounts, nil
}

func (b *Backend) WriteAll(ctx context.Context, accounts map[string]*models.Account) error {
	const op = "filestore.WriteAll"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := WriteFileAtomic(b.path, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (b *Backend) WriteOne(ctx context.Context, next map[string]*models.Account, _ *models.Account) error {
	return b.WriteAll(ctx, next)
}

func (b *Backend) Remove(ctx context.Context, next map[string]*models.Account, _ string) error {
	return b.WriteAll(ctx, next)
}

// WriteFileAtomic пишет data во временный файл рядом с path и переименовывает его.
// Читатель видит либо старое, либо новое содержимое целиком.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
