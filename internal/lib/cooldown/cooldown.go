// Package cooldown ограничение частоты действий пользователя: не чаще
// одного раза за интервал. Состояние только в памяти и сбрасывается при рестарте.
package cooldown

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Cooldown struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	every    time.Duration
	now      func() time.Time
}

func New(every time.Duration) *Cooldown {
	return &Cooldown{
		limiters: make(map[int64]*rate.Limiter),
		every:    every,
		now:      time.Now,
	}
}

func (c *Cooldown) limiter(userID int64) *rate.Limiter {
	lim, ok := c.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(c.every), 1)
		c.limiters[userID] = lim
	}
	return lim
}

// Allow разрешает действие либо сообщает, сколько ещё ждать.
func (c *Cooldown) Allow(userID int64) (bool, time.Duration) {
	if c.every <= 0 {
		return true, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	lim := c.limiter(userID)
	if lim.AllowN(now, 1) {
		return true, 0
	}
	missing := 1 - lim.TokensAt(now)
	return false, time.Duration(missing * float64(c.every))
}

// Prune забывает пользователей, у которых интервал уже истёк.
func (c *Cooldown) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, lim := range c.limiters {
		if lim.TokensAt(now) >= 1 {
			delete(c.limiters, id)
			removed++
		}
	}
	return removed
}
