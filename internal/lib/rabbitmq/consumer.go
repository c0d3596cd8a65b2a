package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
)

// maxInFlight сколько сообщений обрабатывается одновременно.
const maxInFlight = 10

// ConsumerMessage запускает потребителя очереди queueName.
// Успешно обработанное сообщение подтверждается, при ошибке возвращается в очередь.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, log *slog.Logger, handler func([]byte) error) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	go Serve(ctx, delivery, log, handler)
	return nil
}

// Acknowledger подтверждение одной доставки.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Serve обрабатывает доставки до закрытия канала или отмены ctx.
func Serve(ctx context.Context, delivery <-chan amqp.Delivery, log *slog.Logger, handler func([]byte) error) {
	sem := make(chan struct{}, maxInFlight)
	for {
		select {
		case d, ok := <-delivery:
			if !ok {
				return
			}
			sem <- struct{}{}
			go func(d amqp.Delivery) {
				defer func() { <-sem }()
				handle(d, d.Body, log, handler)
			}(d)
		case <-ctx.Done():
			return
		}
	}
}

func handle(ack Acknowledger, body []byte, log *slog.Logger, handler func([]byte) error) {
	if err := handler(body); err != nil {
		log.Warn("handler failed, requeueing message", sl.Err(err))
		if nackErr := ack.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
		return
	}
	if ackErr := ack.Ack(false); ackErr != nil {
		log.Error("failed to ack message", sl.Err(ackErr))
	}
}
