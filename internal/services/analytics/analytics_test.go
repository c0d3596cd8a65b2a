package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func acc(id string, status models.Status, expiryOffset int, total, rate, due float64, requests int) *models.Account {
	a := models.NewAccount(id, "user"+id, now.AddDate(0, -1, 0), rate, due, 0)
	a.Status = status
	if status != models.StatusPending {
		d := models.DateOf(now).AddDays(expiryOffset)
		a.ExpiryDate = &d
	}
	a.Earnings.TotalUSD = total
	for i := range requests {
		a.ProxyRequests = append(a.ProxyRequests, models.ProxyRequest{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Endpoint:  "Panel Ip 1",
		})
	}
	return a
}

func TestSummarize(t *testing.T) {
	accounts := []*models.Account{
		acc("1", models.StatusApproved, 5, 10, 120, 500, 0),
		acc("2", models.StatusApproved, -1, 2, 100, 100, 0),
		acc("3", models.StatusPending, 0, 0, 120, 1400, 0),
		acc("4", models.StatusRenewalRequested, -3, 0, 120, 0, 0),
	}

	s := Summarize(accounts, 7, now)

	assert.Equal(t, Summary{
		Users:           4,
		Active:          1,
		Inactive:        2,
		Pending:         1,
		RenewalRequests: 1,
		Endpoints:       7,
		TotalUSD:        12,
		TotalLocal:      1400,
		TotalDue:        2000,
		NetPayable:      -600,
	}, s)
}

func TestUsageReport(t *testing.T) {
	accounts := []*models.Account{
		acc("1", models.StatusApproved, 5, 0, 120, 0, 2),
		acc("2", models.StatusApproved, 5, 0, 120, 0, 0),
		acc("3", models.StatusApproved, 5, 0, 120, 0, 4),
		acc("4", models.StatusApproved, 5, 0, 120, 0, 2),
	}

	u := UsageReport(accounts, 2)

	assert.Equal(t, 8, u.TotalRequests)
	assert.Equal(t, 3, u.ActiveUsers)
	require.Len(t, u.Top, 2)
	assert.Equal(t, "3", u.Top[0].UserID)
	assert.Equal(t, now.Add(3*time.Minute), u.Top[0].Last)
	assert.Equal(t, "1", u.Top[1].UserID)
	assert.Equal(t, "@user1", u.Top[1].Name)
}
