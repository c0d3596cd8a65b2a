package telegram

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
)

// UpdateHandler обрабатывает одно обновление.
type UpdateHandler func(ctx context.Context, u Update)

// retryDelay пауза после неудачного getUpdates.
var retryDelay = 5 * time.Second

// Poll забирает обновления до отмены ctx. Каждое обновление обрабатывается
// в своей горутине, одновременно не больше workers. Перед выходом
// дожидается обработчиков, которые уже запущены.
func (c *Client) Poll(ctx context.Context, timeout time.Duration, workers int, handle UpdateHandler) {
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	offset := 0
	for {
		select {
		case <-ctx.Done():
			c.log.Info("telegram polling stopped")
			return
		default:
		}

		updates, err := c.GetUpdates(ctx, offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := retryDelay
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				delay = apiErr.RetryAfter
			}
			c.log.Warn("polling request failed", sl.Err(err), slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(u Update) {
				defer wg.Done()
				defer func() { <-sem }()
				defer func() {
					if r := recover(); r != nil {
						c.log.Error("update handler panicked", slog.Int("update_id", u.UpdateID), slog.Any("panic", r))
					}
				}()
				handle(ctx, u)
			}(u)
		}
	}
}
