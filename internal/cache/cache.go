// Package cache хранит последние результаты проверки точек подключения.
// Кэш целиком заменяется каждым циклом монитора, остальная система его только читает.
package cache

import (
	"context"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

// HealthCache контракт кэша статусов по имени точки.
type HealthCache interface {
	Replace(ctx context.Context, records map[string]models.HealthRecord) error
	All(ctx context.Context) (map[string]models.HealthRecord, error)
	Get(ctx context.Context, name string) (models.HealthRecord, bool, error)
}
