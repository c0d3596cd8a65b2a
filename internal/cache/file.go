package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"sync"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage/filestore"
)

// FileCache кэш статусов в JSON-файле с зеркалом в памяти.
type FileCache struct {
	mu      sync.RWMutex
	path    string
	records map[string]models.HealthRecord
}

var _ HealthCache = (*FileCache)(nil)

// NewFileCache читает прошлый снимок, если он есть.
func NewFileCache(path string) (*FileCache, error) {
	const op = "cache.NewFileCache"

	c := &FileCache{path: path, records: map[string]models.HealthRecord{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(data, &c.records); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (c *FileCache) Replace(ctx context.Context, records map[string]models.HealthRecord) error {
	const op = "cache.FileCache.Replace"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	next := maps.Clone(records)
	if next == nil {
		next = map[string]models.HealthRecord{}
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := filestore.WriteFileAtomic(c.path, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.records = next
	return nil
}

func (c *FileCache) All(_ context.Context) (map[string]models.HealthRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.records), nil
}

func (c *FileCache) Get(_ context.Context, name string) (models.HealthRecord, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[name]
	return rec, ok, nil
}
