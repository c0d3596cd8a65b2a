// Package notify доставка уведомлений пользователям: напрямую через чат
// или через очередь RabbitMQ, которую разбирает отдельный рассыльщик.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/metrics"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

const (
	KindBroadcast = "broadcast"
	KindReminder  = "reminder"
)

// Message одно уведомление.
type Message struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Sender канал чата.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Direct отправляет сразу через чат.
type Direct struct {
	sender  Sender
	metrics *metrics.Metrics
}

func NewDirect(sender Sender, m *metrics.Metrics) *Direct {
	return &Direct{sender: sender, metrics: m}
}

func (d *Direct) Notify(ctx context.Context, msg Message) error {
	const op = "notify.Direct"
	if err := d.sender.SendText(ctx, msg.ChatID, msg.Text); err != nil {
		d.metrics.Notification(msg.Kind, "failed")
		return fmt.Errorf("%s: %w", op, err)
	}
	d.metrics.Notification(msg.Kind, "sent")
	return nil
}

// Queue публикует уведомления в обменник, ключ маршрутизации равен виду сообщения.
type Queue struct {
	ch      rabbitmq.Publisher
	metrics *metrics.Metrics
}

func NewQueue(ch rabbitmq.Publisher, m *metrics.Metrics) *Queue {
	return &Queue{ch: ch, metrics: m}
}

func (q *Queue) Notify(ctx context.Context, msg Message) error {
	const op = "notify.Queue"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := rabbitmq.PublishMessage(q.ch, rabbitmq.Exchange, msg.Kind, msg); err != nil {
		q.metrics.Notification(msg.Kind, "failed")
		return fmt.Errorf("%s: %w", op, err)
	}
	q.metrics.Notification(msg.Kind, "queued")
	return nil
}

// Deliver обработчик сообщений очереди для рассыльщика.
// Ошибка возвращает сообщение в очередь, битое сообщение отбрасывается.
func Deliver(ctx context.Context, sender Sender, log *slog.Logger) func([]byte) error {
	return func(body []byte) error {
		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			log.Error("dropping malformed notification", sl.Err(err))
			return nil
		}
		if err := sender.SendText(ctx, msg.ChatID, msg.Text); err != nil {
			return fmt.Errorf("notify.Deliver: %s: %w", msg.ID, err)
		}
		log.Debug("notification delivered", slog.String("id", msg.ID), slog.String("kind", msg.Kind))
		return nil
	}
}

// AccountLister источник получателей рассылки.
type AccountLister interface {
	List(ctx context.Context) ([]*models.Account, error)
}

// Broadcaster рассылает текст всем зарегистрированным пользователям.
type Broadcaster struct {
	accounts AccountLister
	notifier Notifier
	log      *slog.Logger
}

func NewBroadcaster(accounts AccountLister, notifier Notifier, log *slog.Logger) *Broadcaster {
	return &Broadcaster{accounts: accounts, notifier: notifier, log: log}
}

// Broadcast возвращает число доставленных (или поставленных в очередь) сообщений.
// Ошибки отдельных получателей логируются и пропускаются.
func (b *Broadcaster) Broadcast(ctx context.Context, text string) (int, error) {
	const op = "notify.Broadcast"
	log := b.log.With(slog.String("op", op))

	all, err := b.accounts.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id := uuid.NewString()
	sent := 0
	for _, acc := range all {
		chatID, err := ChatID(acc)
		if err != nil {
			log.Warn("skipping account with non-numeric id", slog.String("user_id", acc.UserID))
			continue
		}
		err = b.notifier.Notify(ctx, Message{ID: id, Kind: KindBroadcast, ChatID: chatID, Text: text})
		if err != nil {
			if ctx.Err() != nil {
				return sent, fmt.Errorf("%s: %w", op, ctx.Err())
			}
			log.Warn("broadcast delivery failed", slog.String("user_id", acc.UserID), sl.Err(err))
			continue
		}
		sent++
	}
	log.Info("broadcast finished", slog.String("id", id), slog.Int("sent", sent), slog.Int("recipients", len(all)))
	return sent, nil
}

// ChatID идентификатор чата пользователя в Telegram.
func ChatID(acc *models.Account) (int64, error) {
	return strconv.ParseInt(acc.UserID, 10, 64)
}
