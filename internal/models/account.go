// Package models содержит доменные типы сервиса выдачи прокси:
// учётную запись пользователя с двумя балансами (заработок и долг за IP),
// точку подключения из пула и результат проверки её доступности.
package models

import (
	"slices"
	"time"
)

// Status состояние учётной записи в жизненном цикле подписки.
type Status string

const (
	StatusUnregistered     Status = "unregistered"
	StatusPending          Status = "pending"
	StatusApproved         Status = "approved"
	StatusRenewalRequested Status = "renewal_requested"
	StatusExpired          Status = "expired"
)

// DueAction вид записи в истории долга.
type DueAction string

const (
	DueSet           DueAction = "set"
	DueAdd           DueAction = "add"
	DueReduce        DueAction = "reduce"
	DueRate          DueAction = "rate"
	DueRenewalAdd    DueAction = "renewal_add"
	DuePaymentDeduct DueAction = "payment_deduct"
)

// Valid сообщает, может ли действие прийти от администратора.
// renewal_add и payment_deduct пишутся только самим движком.
func (a DueAction) Valid() bool {
	switch a {
	case DueSet, DueAdd, DueReduce, DueRate:
		return true
	}
	return false
}

// Account полная запись пользователя, ключ хранилища UserID.
type Account struct {
	UserID           string         `json:"user_id"`
	Username         string         `json:"username"`
	Status           Status         `json:"status"`
	ExpiryDate       *Date          `json:"expiry_date,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	Favorites        []string       `json:"favorites,omitempty"`
	Earnings         Earnings       `json:"earnings"`
	IPDue            IPDue          `json:"ip_due"`
	ProxyRequests    []ProxyRequest `json:"proxy_requests,omitempty"`
	LastNotification *Date          `json:"last_notification,omitempty"`
}

// Earnings деньги, которые сервис должен пользователю.
type Earnings struct {
	TotalUSD float64        `json:"total_usd"`
	Rate     float64        `json:"rate"`
	History  []EarningEntry `json:"history"`
	Payments []Payment      `json:"payments"`
}

// EarningEntry одно начисление в текущем платёжном цикле.
type EarningEntry struct {
	Label     string    `json:"label"`
	AmountUSD float64   `json:"amount_usd"`
	Timestamp time.Time `json:"timestamp"`
}

// Payment запись о выплате с полной раскладкой суммы.
type Payment struct {
	ID          string    `json:"id"`
	AmountUSD   float64   `json:"amount_usd"`
	AmountLocal float64   `json:"amount_local"`
	Deducted    float64   `json:"deducted"`
	NetPaid     float64   `json:"net_paid"`
	Rate        float64   `json:"rate"`
	Timestamp   time.Time `json:"timestamp"`
}

// IPDue периодический долг пользователя за выданные IP.
type IPDue struct {
	CurrentDue float64    `json:"current_due"`
	DueRate    float64    `json:"due_rate"`
	History    []DueEntry `json:"history"`
}

type DueEntry struct {
	Action    DueAction `json:"action"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// ProxyRequest запись журнала выдачи прокси.
type ProxyRequest struct {
	Timestamp time.Time `json:"timestamp"`
	Endpoint  string    `json:"endpoint"`
}

// NewAccount создаёт запись в статусе pending с начальными значениями балансов.
func NewAccount(userID, username string, now time.Time, rate, initialDue, dueRate float64) *Account {
	return &Account{
		UserID:    userID,
		Username:  username,
		Status:    StatusPending,
		CreatedAt: now,
		Earnings: Earnings{
			Rate:     rate,
			History:  []EarningEntry{},
			Payments: []Payment{},
		},
		IPDue: IPDue{
			CurrentDue: initialDue,
			DueRate:    dueRate,
			History:    []DueEntry{},
		},
	}
}

// IsActive вычисляется при каждом обращении: одобрена и срок не истёк.
func (a *Account) IsActive(now time.Time) bool {
	if a.Status != StatusApproved || a.ExpiryDate == nil {
		return false
	}
	return !DateOf(now).After(*a.ExpiryDate)
}

// DaysLeft сколько дней осталось до конца подписки, ok=false если даты нет.
func (a *Account) DaysLeft(now time.Time) (int, bool) {
	if a.ExpiryDate == nil {
		return 0, false
	}
	return DateOf(now).DaysUntil(*a.ExpiryDate), true
}

// HasFavorite проверяет наличие имени точки в избранном.
func (a *Account) HasFavorite(name string) bool {
	return slices.Contains(a.Favorites, name)
}

// Clone глубокая копия, изменения копии не видны в оригинале.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.ExpiryDate != nil {
		d := *a.ExpiryDate
		c.ExpiryDate = &d
	}
	if a.LastNotification != nil {
		d := *a.LastNotification
		c.LastNotification = &d
	}
	c.Favorites = slices.Clone(a.Favorites)
	c.Earnings.History = slices.Clone(a.Earnings.History)
	c.Earnings.Payments = slices.Clone(a.Earnings.Payments)
	c.IPDue.History = slices.Clone(a.IPDue.History)
	c.ProxyRequests = slices.Clone(a.ProxyRequests)
	return &c
}

// DisplayName имя для сообщений: @username либо идентификатор.
func (a *Account) DisplayName() string {
	if a.Username != "" {
		return "@" + a.Username
	}
	return a.UserID
}
