package session

import "github.com/magabrotheeeer/proxy-access-bot/internal/models"

// Artifacts служебные сообщения мастера: карточка, которую надо обновить
// после фиксации, и промежуточные подсказки, которые надо удалить.
type Artifacts struct {
	ChatID           int64
	CardMessageID    int
	PromptMessageIDs []int
}

// State единственный слот мастера администратора.
// Набор вариантов закрыт: реализации есть только в этом пакете.
type State interface {
	Workflow() string
	artifacts() *Artifacts
}

type Idle struct{}

type AwaitingBroadcast struct {
	Artifacts
}

type AwaitingEndpointAdd struct {
	Artifacts
}

type AwaitingEarningLabel struct {
	Artifacts
	Account string
}

type AwaitingEarningAmount struct {
	Artifacts
	Account string
	Label   string
}

type AwaitingRate struct {
	Artifacts
	Account string
}

type AwaitingDueInput struct {
	Artifacts
	Account string
	Action  models.DueAction
}

type AwaitingDeductAmount struct {
	Artifacts
	Account string
}

// DurationAction направление изменения срока подписки.
type DurationAction string

const (
	DurationExtend DurationAction = "extend"
	DurationReduce DurationAction = "reduce"
)

type AwaitingDurationDays struct {
	Artifacts
	Account string
	Action  DurationAction
}

func (Idle) Workflow() string { return "idle" }

func (*AwaitingBroadcast) Workflow() string { return "broadcast" }

func (*AwaitingEndpointAdd) Workflow() string { return "endpoint_add" }

func (*AwaitingEarningLabel) Workflow() string { return "earning" }

func (*AwaitingEarningAmount) Workflow() string { return "earning" }

func (*AwaitingRate) Workflow() string { return "rate" }

func (s *AwaitingDueInput) Workflow() string { return "due_" + string(s.Action) }

func (*AwaitingDeductAmount) Workflow() string { return "deduct" }

func (s *AwaitingDurationDays) Workflow() string { return string(s.Action) }

func (Idle) artifacts() *Artifacts { return nil }

func (s *AwaitingBroadcast) artifacts() *Artifacts { return &s.Artifacts }

func (s *AwaitingEndpointAdd) artifacts() *Artifacts { return &s.Artifacts }

func (s *AwaitingEarningLabel) artifacts() *Artifacts { return &s.Artifacts }

func (s *AwaitingEarningAmount) artifacts() *Artifacts { return &s.Artifacts }

func (s *AwaitingRate) artifacts() *Artifacts { return &s.Artifacts }

func (s *AwaitingDueInput) artifacts() *Artifacts { return &s.Artifacts }

func (s *AwaitingDeductAmount) artifacts() *Artifacts { return &s.Artifacts }

func (s *AwaitingDurationDays) artifacts() *Artifacts { return &s.Artifacts }

// prompt текст подсказки для состояния.
func prompt(s State) string {
	switch st := s.(type) {
	case *AwaitingBroadcast:
		return "📢 Send the broadcast message text:"
	case *AwaitingEndpointAdd:
		return "➕ Send IPs as host:port:username:password.\nSeveral can be separated by newlines, commas or spaces."
	case *AwaitingEarningLabel:
		return "💰 Enter a label for this earning:"
	case *AwaitingEarningAmount:
		return "💵 Enter the USD amount for \"" + st.Label + "\":"
	case *AwaitingRate:
		return "💱 Enter the new exchange rate (local currency per 1 USD):"
	case *AwaitingDueInput:
		switch st.Action {
		case models.DueSet:
			return "📝 Enter the new IP due amount:"
		case models.DueAdd:
			return "➕ Enter the amount to add to the IP due:"
		case models.DueReduce:
			return "➖ Enter the amount to reduce the IP due by:"
		default:
			return "🔁 Enter the new renewal due rate:"
		}
	case *AwaitingDeductAmount:
		return "✂️ Enter the amount to deduct from the IP due:"
	case *AwaitingDurationDays:
		if st.Action == DurationReduce {
			return "➖ Enter the number of days to reduce:"
		}
		return "➕ Enter the number of days to extend:"
	}
	return ""
}
