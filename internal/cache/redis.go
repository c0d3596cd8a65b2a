package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/proxy-access-bot/internal/config"
	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

// Cache кэш статусов в одном redis-хэше: поле имя точки, значение JSON записи.
type Cache struct {
	Db  *redis.Client
	key string
}

var _ HealthCache = (*Cache)(nil)

// InitServer подключается к redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection, key string) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Cache{Db: db, key: key}, nil
}

// Replace атомарно заменяет хэш: DEL и HSET в одной транзакции.
func (c *Cache) Replace(ctx context.Context, records map[string]models.HealthRecord) error {
	const op = "cache.Replace"

	values := make(map[string]any, len(records))
	for name, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		values[name] = data
	}

	_, err := c.Db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key)
		if len(values) > 0 {
			pipe.HSet(ctx, c.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Cache) All(ctx context.Context) (map[string]models.HealthRecord, error) {
	const op = "cache.All"

	raw, err := c.Db.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result := make(map[string]models.HealthRecord, len(raw))
	for name, val := range raw {
		var rec models.HealthRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, name, err)
		}
		result[name] = rec
	}
	return result, nil
}

func (c *Cache) Get(ctx context.Context, name string) (models.HealthRecord, bool, error) {
	const op = "cache.Get"

	val, err := c.Db.HGet(ctx, c.key, name).Result()
	if errors.Is(err, redis.Nil) {
		return models.HealthRecord{}, false, nil
	}
	if err != nil {
		return models.HealthRecord{}, false, fmt.Errorf("%s: %w", op, err)
	}
	var rec models.HealthRecord
	if err = json.Unmarshal([]byte(val), &rec); err != nil {
		return models.HealthRecord{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return rec, true, nil
}

func (c *Cache) Close() error {
	return c.Db.Close()
}
