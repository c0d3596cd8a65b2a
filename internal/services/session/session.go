// Package session мастера ввода единственного администратора.
// Слот один на администратора: начало нового мастера молча вытесняет
// предыдущий, следующий текст всегда принадлежит текущему состоянию.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/metrics"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/ledger"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage/endpoints"
)

// Ledger операции балансов, которые фиксируют мастера.
type Ledger interface {
	AddEarning(ctx context.Context, userID, label string, amount float64) (*models.Account, error)
	SetRate(ctx context.Context, userID string, rate float64) (*models.Account, error)
	AdjustDue(ctx context.Context, userID string, action models.DueAction, amount float64) (*models.Account, error)
	PreviewPayment(ctx context.Context, userID string, deduction float64) (ledger.Preview, error)
}

// Lifecycle изменение срока подписки.
type Lifecycle interface {
	Extend(ctx context.Context, userID string, days int) (*models.Account, error)
	Reduce(ctx context.Context, userID string, days int) (*models.Account, error)
}

type EndpointAppender interface {
	Append(ctx context.Context, descriptors ...string) (int, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, text string) (int, error)
}

// Chat отправка и удаление служебных сообщений.
type Chat interface {
	Prompt(ctx context.Context, chatID int64, text string) (int, error)
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// Display показывает итог мастера на месте карточки.
type Display interface {
	Show(ctx context.Context, out Outcome) error
}

// Message входящий текст администратора.
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
}

type OutcomeKind int

const (
	// OutcomeAdvanced мастер перешёл к следующему шагу.
	OutcomeAdvanced OutcomeKind = iota
	// OutcomeCommitted изменение зафиксировано.
	OutcomeCommitted
	// OutcomeConfirm нужен явный шаг подтверждения, Preview заполнен.
	OutcomeConfirm
)

type Outcome struct {
	Kind          OutcomeKind
	Workflow      string
	ChatID        int64
	CardMessageID int
	Account       *models.Account
	Preview       *ledger.Preview
	Text          string
}

// ErrIdle текст пришёл, когда ни один мастер не ждёт ввода.
var ErrIdle = errors.New("session: no workflow in progress")

type Deps struct {
	Ledger      Ledger
	Lifecycle   Lifecycle
	Endpoints   EndpointAppender
	Broadcaster Broadcaster
	Chat        Chat
	Display     Display
}

type Engine struct {
	// handling держится на всё время шага мастера: от чтения слота до
	// фиксации и смены состояния. Обновления приходят параллельно.
	handling sync.Mutex

	mu    sync.Mutex
	state State
	gen   uint64

	deps    Deps
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(deps Deps, m *metrics.Metrics, log *slog.Logger) *Engine {
	return &Engine{
		state:   Idle{},
		deps:    deps,
		metrics: m,
		log:     log,
	}
}

// Current текущее состояние слота.
func (e *Engine) Current() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Begin занимает слот новым мастером и отправляет его подсказку.
// Подсказки вытесненного мастера удаляются.
func (e *Engine) Begin(ctx context.Context, s State) error {
	const op = "session.Begin"
	e.handling.Lock()
	defer e.handling.Unlock()

	a := s.artifacts()
	if a == nil {
		e.cancel(ctx)
		return nil
	}

	id, err := e.deps.Chat.Prompt(ctx, a.ChatID, prompt(s))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	a.PromptMessageIDs = append(a.PromptMessageIDs, id)

	e.mu.Lock()
	prev := e.state
	e.state = s
	e.gen++
	e.mu.Unlock()

	if _, idle := prev.(Idle); !idle {
		e.log.Debug("workflow replaced", slog.String("previous", prev.Workflow()), slog.String("next", s.Workflow()))
		e.cleanup(ctx, prev.artifacts(), 0)
	}
	e.log.Info("workflow started", slog.String("workflow", s.Workflow()))
	return nil
}

// Cancel возвращает слот в Idle и убирает подсказки. Возвращает прежнее состояние.
func (e *Engine) Cancel(ctx context.Context) (State, error) {
	e.handling.Lock()
	defer e.handling.Unlock()
	return e.cancel(ctx), nil
}

func (e *Engine) cancel(ctx context.Context) State {
	e.mu.Lock()
	prev := e.state
	e.state = Idle{}
	e.gen++
	e.mu.Unlock()

	e.cleanup(ctx, prev.artifacts(), 0)
	if _, idle := prev.(Idle); !idle {
		e.metrics.SessionCommit(prev.Workflow(), "cancelled")
		e.log.Info("workflow cancelled", slog.String("workflow", prev.Workflow()))
	}
	return prev
}

// HandleText передаёт текст текущему мастеру.
// Ошибка проверки ввода: повторная подсказка, состояние не меняется.
// Ошибка фиксации: состояние сохраняется, можно повторить или отменить.
func (e *Engine) HandleText(ctx context.Context, msg Message) (Outcome, error) {
	const op = "session.HandleText"
	e.handling.Lock()
	defer e.handling.Unlock()

	e.mu.Lock()
	current := e.state
	gen := e.gen
	e.mu.Unlock()

	a := current.artifacts()
	if a == nil {
		return Outcome{}, ErrIdle
	}
	log := e.log.With(slog.String("op", op), slog.String("workflow", current.Workflow()))

	next, out, err := e.step(ctx, current, strings.TrimSpace(msg.Text))
	if err != nil {
		if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrExceedsDue) {
			log.Debug("input rejected", sl.Err(err))
			e.reprompt(ctx, gen, current, msg, err)
			return Outcome{}, fmt.Errorf("%s: %w", op, err)
		}
		log.Error("workflow commit failed", sl.Err(err))
		e.metrics.SessionCommit(current.Workflow(), "failed")
		return Outcome{}, fmt.Errorf("%s: %w", op, err)
	}

	out.Workflow = current.Workflow()
	out.ChatID = a.ChatID
	out.CardMessageID = a.CardMessageID

	if next != nil {
		na := next.artifacts()
		na.ChatID, na.CardMessageID = a.ChatID, a.CardMessageID
		id, perr := e.deps.Chat.Prompt(ctx, a.ChatID, prompt(next))
		if perr != nil {
			return Outcome{}, fmt.Errorf("%s: %w", op, perr)
		}
		na.PromptMessageIDs = []int{id}
		if !e.swap(gen, next) {
			e.cleanup(ctx, na, 0)
			return Outcome{}, fmt.Errorf("%s: workflow changed concurrently", op)
		}
		e.cleanup(ctx, a, msg.MessageID)
		out.Kind = OutcomeAdvanced
		return out, nil
	}

	e.swap(gen, Idle{})
	e.cleanup(ctx, a, msg.MessageID)
	e.metrics.SessionCommit(current.Workflow(), "ok")
	log.Info("workflow completed")

	if err := e.deps.Display.Show(ctx, out); err != nil {
		log.Warn("failed to refresh display", sl.Err(err))
	}
	return out, nil
}

// step проверяет ввод и либо возвращает следующее состояние,
// либо фиксирует результат.
func (e *Engine) step(ctx context.Context, s State, text string) (State, Outcome, error) {
	switch st := s.(type) {
	case *AwaitingBroadcast:
		if text == "" {
			return nil, Outcome{}, models.NewValidationError("message", "must not be empty")
		}
		n, err := e.deps.Broadcaster.Broadcast(ctx, text)
		if err != nil {
			return nil, Outcome{}, err
		}
		return nil, Outcome{Kind: OutcomeCommitted, Text: fmt.Sprintf("✅ Broadcast sent to %d users.", n)}, nil

	case *AwaitingEndpointAdd:
		descriptors, err := endpoints.ParseDescriptors(text)
		if err != nil {
			return nil, Outcome{}, err
		}
		n, err := e.deps.Endpoints.Append(ctx, descriptors...)
		if err != nil {
			return nil, Outcome{}, err
		}
		return nil, Outcome{Kind: OutcomeCommitted, Text: fmt.Sprintf("✅ Added %d IP(s).", n)}, nil

	case *AwaitingEarningLabel:
		if text == "" {
			return nil, Outcome{}, models.NewValidationError("label", "must not be empty")
		}
		return &AwaitingEarningAmount{Account: st.Account, Label: text}, Outcome{}, nil

	case *AwaitingEarningAmount:
		amount, err := parseAmount(text, true)
		if err != nil {
			return nil, Outcome{}, err
		}
		acc, err := e.deps.Ledger.AddEarning(ctx, st.Account, st.Label, amount)
		if err != nil {
			return nil, Outcome{}, err
		}
		return nil, Outcome{Kind: OutcomeCommitted, Account: acc, Text: fmt.Sprintf("✅ Added $%.2f (%s).", amount, st.Label)}, nil

	case *AwaitingRate:
		rate, err := parseAmount(text, true)
		if err != nil {
			return nil, Outcome{}, err
		}
		acc, err := e.deps.Ledger.SetRate(ctx, st.Account, rate)
		if err != nil {
			return nil, Outcome{}, err
		}
		return nil, Outcome{Kind: OutcomeCommitted, Account: acc, Text: fmt.Sprintf("✅ Rate set to %.2f.", rate)}, nil

	case *AwaitingDueInput:
		amount, err := parseAmount(text, false)
		if err != nil {
			return nil, Outcome{}, err
		}
		acc, err := e.deps.Ledger.AdjustDue(ctx, st.Account, st.Action, amount)
		if err != nil {
			return nil, Outcome{}, err
		}
		return nil, Outcome{Kind: OutcomeCommitted, Account: acc, Text: "✅ IP due updated."}, nil

	case *AwaitingDeductAmount:
		amount, err := parseAmount(text, false)
		if err != nil {
			return nil, Outcome{}, err
		}
		p, err := e.deps.Ledger.PreviewPayment(ctx, st.Account, amount)
		if err != nil {
			return nil, Outcome{}, err
		}
		return nil, Outcome{Kind: OutcomeConfirm, Preview: &p}, nil

	case *AwaitingDurationDays:
		days, err := parseDays(text)
		if err != nil {
			return nil, Outcome{}, err
		}
		var acc *models.Account
		if st.Action == DurationReduce {
			acc, err = e.deps.Lifecycle.Reduce(ctx, st.Account, days)
		} else {
			acc, err = e.deps.Lifecycle.Extend(ctx, st.Account, days)
		}
		if err != nil {
			return nil, Outcome{}, err
		}
		return nil, Outcome{Kind: OutcomeCommitted, Account: acc, Text: fmt.Sprintf("✅ Subscription %s by %d days.", durationVerb[st.Action], days)}, nil
	}
	return nil, Outcome{}, ErrIdle
}

// reprompt сообщает об ошибке ввода и запоминает сообщения для последующей уборки.
func (e *Engine) reprompt(ctx context.Context, gen uint64, s State, msg Message, cause error) {
	a := s.artifacts()
	text := "❌ " + reason(cause) + "\n\n" + prompt(s)
	id, err := e.deps.Chat.Prompt(ctx, a.ChatID, text)
	if err != nil {
		e.log.Warn("failed to send reprompt", sl.Err(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return
	}
	if msg.MessageID != 0 {
		a.PromptMessageIDs = append(a.PromptMessageIDs, msg.MessageID)
	}
	a.PromptMessageIDs = append(a.PromptMessageIDs, id)
}

func (e *Engine) swap(gen uint64, next State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return false
	}
	e.state = next
	e.gen++
	return true
}

// cleanup удаляет подсказки и введённое сообщение, ошибки только логируются.
func (e *Engine) cleanup(ctx context.Context, a *Artifacts, inputID int) {
	if a == nil {
		return
	}
	ids := append([]int(nil), a.PromptMessageIDs...)
	if inputID != 0 {
		ids = append(ids, inputID)
	}
	for _, id := range ids {
		if err := e.deps.Chat.Delete(ctx, a.ChatID, id); err != nil {
			e.log.Debug("failed to delete prompt", slog.Int("message_id", id), sl.Err(err))
		}
	}
}

var durationVerb = map[DurationAction]string{
	DurationExtend: "extended",
	DurationReduce: "reduced",
}

func reason(err error) string {
	var vErr *models.ValidationError
	switch {
	case errors.As(err, &vErr) && vErr.Field != "":
		return strings.ToUpper(vErr.Field[:1]) + vErr.Field[1:] + " " + vErr.Reason + "."
	case errors.Is(err, models.ErrExceedsDue):
		return "Deduction exceeds the current IP due."
	}
	return "Invalid input."
}

// maxAmount верхняя граница суммы, введённой администратором.
const maxAmount = 1e9

func parseAmount(text string, strictlyPositive bool) (float64, error) {
	text = strings.TrimPrefix(strings.ReplaceAll(text, ",", ""), "$")
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, models.NewValidationError("amount", "must be a number")
	}
	if strictlyPositive && v <= 0 {
		return 0, models.NewValidationError("amount", "must be greater than zero")
	}
	if v < 0 {
		return 0, models.NewValidationError("amount", "must not be negative")
	}
	if v > maxAmount {
		return 0, models.NewValidationError("amount", "must not exceed 1,000,000,000")
	}
	return v, nil
}

func parseDays(text string) (int, error) {
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, models.NewValidationError("days", "must be a whole number")
	}
	if v <= 0 {
		return 0, models.NewValidationError("days", "must be greater than zero")
	}
	return v, nil
}
