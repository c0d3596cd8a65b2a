// Package sender отдельный процесс, который разбирает очередь уведомлений
// и доставляет их через Bot API.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/proxy-access-bot/internal/config"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/notify"
	"github.com/magabrotheeeer/proxy-access-bot/internal/telegram"
)

type App struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	sender notify.Sender
	logger *slog.Logger
}

func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.RabbitMQ.URL == "" {
		return nil, errors.New("rabbitmq url is not set")
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.NotificationQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	return &App{
		conn:   conn,
		ch:     ch,
		sender: telegram.New(cfg.Telegram.APIURL, cfg.Telegram.BotToken, cfg.Telegram.RequestTimeout, logger),
		logger: logger,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	deliver := notify.Deliver(ctx, a.sender, a.logger)

	for _, q := range rabbitmq.NotificationQueues() {
		if err := rabbitmq.ConsumerMessage(ctx, a.ch, q.QueueName, a.logger, deliver); err != nil {
			a.logger.Error("failed to start consumer", slog.String("queue", q.QueueName), sl.Err(err))
			a.close()
			return err
		}
		a.logger.Info("consumer started", slog.String("queue", q.QueueName))
	}

	<-ctx.Done()
	a.logger.Info("sender service shutting down gracefully")
	a.close()
	return nil
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
}
