package router

import (
	"strings"
	"unicode"

	"github.com/magabrotheeeer/proxy-access-bot/internal/telegram"
)

// Sender автор события.
type Sender struct {
	ID       int64
	Username string
}

// CommandEvent сообщение вида /name args.
type CommandEvent struct {
	From   Sender
	ChatID int64
	Name   string
	Args   string
}

// CallbackEvent нажатие встроенной кнопки.
type CallbackEvent struct {
	From       Sender
	ChatID     int64
	MessageID  int
	CallbackID string
	Token      string
}

// TextEvent обычный текст, адресованный мастеру ввода.
type TextEvent struct {
	From      Sender
	ChatID    int64
	MessageID int
	Text      string
}

// Event одно из CommandEvent, CallbackEvent, TextEvent.
type Event interface {
	sender() Sender
}

func (e CommandEvent) sender() Sender  { return e.From }
func (e CallbackEvent) sender() Sender { return e.From }
func (e TextEvent) sender() Sender     { return e.From }

// FromUpdate переводит обновление Bot API в событие. ok=false для
// обновлений, которые бот не обрабатывает.
func FromUpdate(u telegram.Update) (Event, bool) {
	if q := u.CallbackQuery; q != nil {
		ev := CallbackEvent{
			From:       Sender{ID: q.From.ID, Username: q.From.Username},
			ChatID:     q.From.ID,
			CallbackID: q.ID,
			Token:      q.Data,
		}
		if q.Message != nil {
			ev.ChatID = q.Message.Chat.ID
			ev.MessageID = q.Message.MessageID
		}
		return ev, true
	}

	m := u.Message
	if m == nil || m.From == nil || m.Text == "" {
		return nil, false
	}
	from := Sender{ID: m.From.ID, Username: m.From.Username}

	if strings.HasPrefix(m.Text, "/") {
		name, args := m.Text[1:], ""
		if i := strings.IndexFunc(name, unicode.IsSpace); i >= 0 {
			name, args = name[:i], name[i:]
		}
		// /cmd@BotName в группах
		name, _, _ = strings.Cut(name, "@")
		return CommandEvent{
			From:   from,
			ChatID: m.Chat.ID,
			Name:   strings.ToLower(name),
			Args:   strings.TrimSpace(args),
		}, true
	}
	return TextEvent{From: from, ChatID: m.Chat.ID, MessageID: m.MessageID, Text: m.Text}, true
}
