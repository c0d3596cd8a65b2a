package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendText(ctx context.Context, chatID int64, text string) error {
	return m.Called(ctx, chatID, text).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, mandatory, immediate, msg).Error(0)
}

type staticAccounts []*models.Account

func (s staticAccounts) List(context.Context) ([]*models.Account, error) { return s, nil }

func TestBroadcaster_SkipsFailures(t *testing.T) {
	sender := new(MockSender)
	sender.On("SendText", mock.Anything, int64(1), "news").Return(nil).Once()
	sender.On("SendText", mock.Anything, int64(2), "news").Return(errors.New("bot was blocked")).Once()
	sender.On("SendText", mock.Anything, int64(3), "news").Return(nil).Once()

	accounts := staticAccounts{
		{UserID: "1"}, {UserID: "2"}, {UserID: "not-a-chat"}, {UserID: "3"},
	}
	b := NewBroadcaster(accounts, NewDirect(sender, nil), newNoopLogger())

	n, err := b.Broadcast(context.Background(), "news")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	sender.AssertExpectations(t)
}

func TestQueue_PublishesByKind(t *testing.T) {
	p := new(MockPublisher)
	p.On("Publish", rabbitmq.Exchange, KindReminder, false, false, mock.MatchedBy(func(pub amqp.Publishing) bool {
		var msg Message
		return json.Unmarshal(pub.Body, &msg) == nil && msg.ChatID == 9 && msg.ID != "" && msg.Text == "soon"
	})).Return(nil).Once()

	q := NewQueue(p, nil)
	require.NoError(t, q.Notify(context.Background(), Message{Kind: KindReminder, ChatID: 9, Text: "soon"}))
	p.AssertExpectations(t)
}

func TestDeliver(t *testing.T) {
	sender := new(MockSender)
	sender.On("SendText", mock.Anything, int64(5), "hello").Return(nil).Once()
	sender.On("SendText", mock.Anything, int64(6), "hello").Return(errors.New("timeout")).Once()
	h := Deliver(context.Background(), sender, newNoopLogger())

	assert.NoError(t, h([]byte(`{"id":"a","kind":"broadcast","chat_id":5,"text":"hello"}`)))
	assert.Error(t, h([]byte(`{"id":"b","kind":"broadcast","chat_id":6,"text":"hello"}`)))
	assert.NoError(t, h([]byte(`not json`)))
	sender.AssertExpectations(t)
}
