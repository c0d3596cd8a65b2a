package models

import (
	"fmt"
	"strings"
	"time"
)

// Endpoint точка подключения из пула. Имя выводится из позиции
// и стабильно только в пределах одной загрузки пула.
type Endpoint struct {
	Position   int
	Name       string
	Descriptor string
}

// EndpointName имя точки на позиции i (с единицы).
func EndpointName(i int) string {
	return fmt.Sprintf("Panel Ip %d", i)
}

// Host возвращает host:port без учётных данных, для логов и списков.
func (e Endpoint) Host() string {
	parts := strings.SplitN(e.Descriptor, ":", 3)
	if len(parts) < 2 {
		return "****"
	}
	return parts[0] + ":" + parts[1]
}

// HealthStatus результат проверки точки.
type HealthStatus string

const (
	HealthOnline  HealthStatus = "online"
	HealthOffline HealthStatus = "offline"
	HealthError   HealthStatus = "error"
)

// HealthRecord последний результат проверки, пересобирается каждый цикл.
type HealthRecord struct {
	Status    HealthStatus `json:"status"`
	Detail    string       `json:"detail"`
	CheckedAt time.Time    `json:"checked_at"`
}
