// Package sl вспомогательные атрибуты для slog: ошибки и секреты.
package sl

import "log/slog"

// Err атрибут "error" с текстом ошибки. nil не допускается.
//
//	log.Error("failed to persist account", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Secret атрибут, в котором видно только начало значения.
// Используется для токенов бота и ключей сервиса проверки.
func Secret(key, value string) slog.Attr {
	const visible = 4
	if len(value) <= visible {
		return slog.String(key, "****")
	}
	return slog.String(key, value[:visible]+"****")
}
