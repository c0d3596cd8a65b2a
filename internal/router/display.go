package router

import (
	"context"

	"github.com/magabrotheeeer/proxy-access-bot/internal/services/session"
	"github.com/magabrotheeeer/proxy-access-bot/internal/telegram"
)

// Prompter подсказки мастеров: отдельное сообщение с кнопкой отмены.
type Prompter struct {
	ch Channel
}

var _ session.Chat = (*Prompter)(nil)

func NewPrompter(ch Channel) *Prompter {
	return &Prompter{ch: ch}
}

func (p *Prompter) Prompt(ctx context.Context, chatID int64, text string) (int, error) {
	return p.ch.Send(ctx, chatID, text, cancelKeyboard())
}

func (p *Prompter) Delete(ctx context.Context, chatID int64, messageID int) error {
	return p.ch.Delete(ctx, chatID, messageID)
}

// Display перерисовывает карточку, с которой начался мастер.
type Display struct {
	ch       Channel
	currency string
}

var _ session.Display = (*Display)(nil)

func NewDisplay(ch Channel, currency string) *Display {
	return &Display{ch: ch, currency: currency}
}

func (d *Display) Show(ctx context.Context, out session.Outcome) error {
	var text string
	var kb telegram.Keyboard
	switch {
	case out.Kind == session.OutcomeConfirm && out.Preview != nil:
		text, kb = paymentConfirmView(*out.Preview, d.currency)
	case out.Account != nil:
		text, kb = accountCard(out.Account, d.currency)
		text = out.Text + "\n\n" + text
	default:
		text, kb = out.Text, backToMenu()
	}

	if out.CardMessageID != 0 {
		if err := d.ch.Edit(ctx, out.ChatID, out.CardMessageID, text, kb); err == nil {
			return nil
		}
	}
	_, err := d.ch.Send(ctx, out.ChatID, text, kb)
	return err
}
