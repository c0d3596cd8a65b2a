// Package analytics сводки для администратора по учётным записям и выдаче точек.
package analytics

import (
	"cmp"
	"slices"
	"time"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

type Summary struct {
	Users           int
	Active          int
	Inactive        int
	Pending         int
	RenewalRequests int
	Endpoints       int
	TotalUSD        float64
	TotalLocal      float64
	TotalDue        float64
	NetPayable      float64
}

// Summarize считает сводку. Активность вычисляется на момент now.
func Summarize(accounts []*models.Account, endpoints int, now time.Time) Summary {
	s := Summary{Users: len(accounts), Endpoints: endpoints}
	for _, acc := range accounts {
		switch {
		case acc.Status == models.StatusPending:
			s.Pending++
		case acc.IsActive(now):
			s.Active++
		default:
			s.Inactive++
		}
		if acc.Status == models.StatusRenewalRequested {
			s.RenewalRequests++
		}
		s.TotalUSD += acc.Earnings.TotalUSD
		s.TotalLocal += acc.Earnings.TotalUSD * acc.Earnings.Rate
		s.TotalDue += acc.IPDue.CurrentDue
	}
	s.NetPayable = s.TotalLocal - s.TotalDue
	return s
}

type UserUsage struct {
	UserID   string
	Name     string
	Requests int
	Last     time.Time
}

type Usage struct {
	TotalRequests int
	ActiveUsers   int
	Top           []UserUsage
}

// TopN размер рейтинга по умолчанию.
const TopN = 5

// UsageReport журнал выдачи: всего запросов, сколько пользователей
// хоть раз брали точку, и top самых активных.
func UsageReport(accounts []*models.Account, top int) Usage {
	var u Usage
	users := make([]UserUsage, 0, len(accounts))
	for _, acc := range accounts {
		n := len(acc.ProxyRequests)
		if n == 0 {
			continue
		}
		u.TotalRequests += n
		u.ActiveUsers++

		last := acc.ProxyRequests[0].Timestamp
		for _, r := range acc.ProxyRequests[1:] {
			if r.Timestamp.After(last) {
				last = r.Timestamp
			}
		}
		users = append(users, UserUsage{UserID: acc.UserID, Name: acc.DisplayName(), Requests: n, Last: last})
	}

	slices.SortFunc(users, func(a, b UserUsage) int {
		if c := cmp.Compare(b.Requests, a.Requests); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	if len(users) > top {
		users = users[:top]
	}
	u.Top = users
	return u
}
