// Package router разбирает события чата (команды, нажатия кнопок, текст)
// и вызывает движки жизненного цикла, балансов, мастеров и пула точек.
package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/metrics"
	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/analytics"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/ledger"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/monitor"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/notify"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/session"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage/endpoints"
	"github.com/magabrotheeeer/proxy-access-bot/internal/telegram"
)

// Channel транспорт чата.
type Channel interface {
	Send(ctx context.Context, chatID int64, text string, kb telegram.Keyboard) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, kb telegram.Keyboard) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

type Lifecycle interface {
	Register(ctx context.Context, userID, username string) (*models.Account, error)
	Approve(ctx context.Context, userID string) (*models.Account, error)
	Decline(ctx context.Context, userID string) (*models.Account, error)
	RequestRenewal(ctx context.Context, userID string) (*models.Account, error)
	ApproveRenewal(ctx context.Context, userID string) (*models.Account, error)
	DeclineRenewal(ctx context.Context, userID string) (*models.Account, error)
	Remove(ctx context.Context, userID string) (*models.Account, error)
	RemoveByUsername(ctx context.Context, username string) (*models.Account, error)
	Get(ctx context.Context, userID string) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	AddFavorite(ctx context.Context, userID, endpoint string) (*models.Account, error)
	RemoveFavorite(ctx context.Context, userID, endpoint string) (*models.Account, error)
	ClearFavorites(ctx context.Context, userID string) (*models.Account, error)
	RecordProxyRequest(ctx context.Context, userID, endpoint string) (*models.Account, error)
}

type Ledger interface {
	PreviewPayment(ctx context.Context, userID string, deduction float64) (ledger.Preview, error)
	SettlePayment(ctx context.Context, userID string, deduction float64) (models.Payment, *models.Account, error)
}

type Session interface {
	Begin(ctx context.Context, s session.State) error
	Cancel(ctx context.Context) (session.State, error)
	HandleText(ctx context.Context, msg session.Message) (session.Outcome, error)
}

// Pool пул точек подключения.
type Pool interface {
	Len() int
	List() []models.Endpoint
	At(pos int) (models.Endpoint, error)
	Names() map[string]struct{}
	Append(ctx context.Context, descriptors ...string) (int, error)
	RemoveAt(ctx context.Context, pos int) (models.Endpoint, error)
	Clear(ctx context.Context) (int, error)
}

type HealthReader interface {
	All(ctx context.Context) (map[string]models.HealthRecord, error)
}

type HealthChecker interface {
	RunCycle(ctx context.Context) (monitor.Report, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, text string) (int, error)
}

// Limiter частота выдачи точек одному пользователю.
type Limiter interface {
	Allow(userID int64) (bool, time.Duration)
}

type Deps struct {
	Channel     Channel
	Lifecycle   Lifecycle
	Ledger      Ledger
	Session     Session
	Pool        Pool
	Health      HealthReader
	Monitor     HealthChecker
	Broadcaster Broadcaster
	Cooldown    Limiter
}

type Options struct {
	AdminID          int64
	SubscriptionDays int
	AutoDeleteAfter  time.Duration
	Currency         string
}

type Router struct {
	Deps
	opts    Options
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func New(deps Deps, opts Options, m *metrics.Metrics, log *slog.Logger) *Router {
	return &Router{
		Deps:    deps,
		opts:    opts,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// HandleUpdate точка входа для telegram.Poll.
func (r *Router) HandleUpdate(ctx context.Context, u telegram.Update) {
	ev, ok := FromUpdate(u)
	if !ok {
		return
	}
	if err := r.Dispatch(ctx, ev); err != nil {
		r.log.Debug("event handled with error", slog.Int("update_id", u.UpdateID), sl.Err(err))
	}
}

// Dispatch обрабатывает одно событие. Ошибка уже показана пользователю
// коротким сообщением, вызывающему она нужна только для логов и тестов.
func (r *Router) Dispatch(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case CommandEvent:
		err := r.handleCommand(ctx, e)
		r.observe("command_"+e.Name, err)
		if err != nil {
			r.fail(ctx, e.ChatID, 0, err)
		}
		return err
	case CallbackEvent:
		return r.handleCallback(ctx, e)
	case TextEvent:
		err := r.handleText(ctx, e)
		r.observe("text", err)
		return err
	}
	return nil
}

func (r *Router) isAdmin(s Sender) bool {
	return s.ID == r.opts.AdminID
}

func (r *Router) observe(kind string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, models.ErrUnauthorized):
		outcome = "unauthorized"
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidAction):
		outcome = "rejected"
	default:
		outcome = "failed"
	}
	r.metrics.Event(kind, outcome)
}

func (r *Router) handleCommand(ctx context.Context, e CommandEvent) error {
	userID := strconv.FormatInt(e.From.ID, 10)

	switch e.Name {
	case "start":
		return r.sendMenu(ctx, e.ChatID, 0, e.From)
	case "register":
		return r.register(ctx, e.ChatID, 0, e.From)
	case "getip":
		return r.endpointList(ctx, e.ChatID, 0, userID)
	case "renew":
		return r.requestRenewal(ctx, e.ChatID, 0, e.From)
	}

	switch e.Name {
	case "listusers", "remove", "broadcast", "addproxy", "removeproxy", "cancel":
		if !r.isAdmin(e.From) {
			return models.ErrUnauthorized
		}
	default:
		_, err := r.Channel.Send(ctx, e.ChatID, "❓ Unknown command. Use /start to open the menu.", nil)
		return err
	}

	switch e.Name {
	case "listusers":
		return r.userList(ctx, e.ChatID, 0)

	case "remove":
		username := strings.TrimPrefix(e.Args, "@")
		if username == "" {
			return models.NewValidationError("username", "usage: /remove @username")
		}
		acc, err := r.Lifecycle.RemoveByUsername(ctx, username)
		if err != nil {
			return err
		}
		r.notifyUser(ctx, acc, "❌ Your access has been removed by the administrator.")
		_, err = r.Channel.Send(ctx, e.ChatID, fmt.Sprintf("✅ User %s removed.", displayName(acc)), backToMenu())
		return err

	case "broadcast":
		if e.Args == "" {
			return r.Session.Begin(ctx, &session.AwaitingBroadcast{Artifacts: session.Artifacts{ChatID: e.ChatID}})
		}
		n, err := r.Broadcaster.Broadcast(ctx, e.Args)
		if err != nil {
			return err
		}
		_, err = r.Channel.Send(ctx, e.ChatID, fmt.Sprintf("✅ Broadcast sent to %d users.", n), backToMenu())
		return err

	case "addproxy":
		if e.Args == "" {
			return r.Session.Begin(ctx, &session.AwaitingEndpointAdd{Artifacts: session.Artifacts{ChatID: e.ChatID}})
		}
		descriptors, err := endpoints.ParseDescriptors(e.Args)
		if err != nil {
			return err
		}
		n, err := r.Pool.Append(ctx, descriptors...)
		if err != nil {
			return err
		}
		_, err = r.Channel.Send(ctx, e.ChatID, fmt.Sprintf("✅ Added %d IP(s). Total: %d.", n, r.Pool.Len()), backToMenu())
		return err

	case "removeproxy":
		pos, err := strconv.Atoi(e.Args)
		if err != nil || pos < 1 {
			return models.NewValidationError("position", "usage: /removeproxy <number>")
		}
		ep, err := r.Pool.RemoveAt(ctx, pos)
		if err != nil {
			return err
		}
		_, err = r.Channel.Send(ctx, e.ChatID, fmt.Sprintf("✅ Removed %s (%s).", ep.Name, html.EscapeString(ep.Host())), backToMenu())
		return err

	case "cancel":
		return r.cancelWorkflow(ctx, e.ChatID)
	}
	return nil
}

// callback состояние обработки одного нажатия.
type callback struct {
	CallbackEvent
	action   Action
	answered bool
}

func (r *Router) answer(ctx context.Context, cb *callback, text string, alert bool) {
	if cb.answered {
		return
	}
	cb.answered = true
	if err := r.Channel.AnswerCallback(ctx, cb.CallbackID, text, alert); err != nil {
		r.log.Debug("failed to answer callback", sl.Err(err))
	}
}

func (r *Router) handleCallback(ctx context.Context, e CallbackEvent) error {
	cb := &callback{CallbackEvent: e}

	a, err := Interpret(e.Token)
	if err != nil {
		r.observe("callback_invalid", err)
		r.answer(ctx, cb, "❌ This button is no longer valid.", true)
		return err
	}
	cb.action = a

	if a.AdminOnly() && !r.isAdmin(e.From) {
		err := fmt.Errorf("%s: %w", a.Kind, models.ErrUnauthorized)
		r.observe("callback_"+string(a.Kind), err)
		r.answer(ctx, cb, "❌ Not authorized.", true)
		return err
	}

	err = r.route(ctx, cb)
	r.observe("callback_"+string(a.Kind), err)
	if err != nil {
		r.answer(ctx, cb, "", false)
		r.fail(ctx, e.ChatID, e.MessageID, err)
		return err
	}
	r.answer(ctx, cb, "", false)
	return nil
}

func (r *Router) route(ctx context.Context, cb *callback) error {
	a := cb.action
	chatID, msgID := cb.ChatID, cb.MessageID
	userID := strconv.FormatInt(cb.From.ID, 10)
	target := a.UserID()
	card := session.Artifacts{ChatID: chatID, CardMessageID: msgID}

	switch a.Kind {
	case KindNoop:
		return nil
	case KindClose:
		return r.Channel.Delete(ctx, chatID, msgID)
	case KindMenu:
		return r.sendMenu(ctx, chatID, msgID, cb.From)
	case KindRegister:
		return r.register(ctx, chatID, msgID, cb.From)
	case KindRenew:
		return r.requestRenewal(ctx, chatID, msgID, cb.From)
	case KindGetIP:
		return r.endpointList(ctx, chatID, msgID, userID)
	case KindPanel:
		return r.retrieve(ctx, cb, userID)
	case KindFav, KindUnfav:
		return r.toggleFavorite(ctx, cb, userID)
	case KindFavorites:
		return r.favorites(ctx, chatID, msgID, userID)
	case KindFavClear:
		if _, err := r.Lifecycle.ClearFavorites(ctx, userID); err != nil {
			return err
		}
		r.answer(ctx, cb, "🗑 Favorites cleared", false)
		text, kb := favoritesView(nil)
		return r.show(ctx, chatID, msgID, text, kb)

	case KindDashboard, KindEarnings, KindDue:
		acc, err := r.account(ctx, userID)
		if err != nil {
			return err
		}
		var text string
		var kb telegram.Keyboard
		switch a.Kind {
		case KindDashboard:
			text, kb = dashboardView(acc, len(r.validFavorites(acc)), r.opts.SubscriptionDays, r.now())
		case KindEarnings:
			text, kb = earningsView(acc, r.opts.Currency)
		default:
			text, kb = dueView(acc, r.opts.Currency)
		}
		return r.show(ctx, chatID, msgID, text, kb)

	case KindApprove:
		acc, err := r.Lifecycle.Approve(ctx, target)
		if err != nil {
			return err
		}
		r.notifyUser(ctx, acc, "✅ Your registration has been approved! Your subscription is valid until: "+expiryText(acc))
		return r.show(ctx, chatID, msgID, fmt.Sprintf("✅ User %s approved! Expires: %s", displayName(acc), expiryText(acc)), backToUsers())

	case KindDecline:
		acc, err := r.Lifecycle.Decline(ctx, target)
		if err != nil {
			return err
		}
		r.notifyUser(ctx, acc, "❌ Your registration has been declined.")
		return r.show(ctx, chatID, msgID, fmt.Sprintf("❌ User %s declined.", displayName(acc)), backToUsers())

	case KindApproveRenewal:
		acc, err := r.Lifecycle.ApproveRenewal(ctx, target)
		if err != nil {
			return err
		}
		due := money(acc.IPDue.DueRate) + " " + r.opts.Currency
		r.notifyUser(ctx, acc, fmt.Sprintf("✅ <b>Subscription Renewed!</b>\n\nYour subscription has been extended until %s.\n\n💳 IP Due Added: %s", expiryText(acc), due))
		return r.show(ctx, chatID, msgID,
			fmt.Sprintf("✅ Renewal approved for %s.\nNew expiry: %s\n💳 IP Due added: +%s", displayName(acc), expiryText(acc), due),
			backToUsers())

	case KindDeclineRenewal:
		acc, err := r.Lifecycle.DeclineRenewal(ctx, target)
		if err != nil {
			return err
		}
		r.notifyUser(ctx, acc, "❌ Your subscription renewal request has been declined.")
		return r.show(ctx, chatID, msgID, fmt.Sprintf("❌ Renewal for %s declined.", displayName(acc)), backToUsers())

	case KindRemove:
		acc, err := r.Lifecycle.Remove(ctx, target)
		if err != nil {
			return err
		}
		r.notifyUser(ctx, acc, "❌ Your access has been removed by the administrator.")
		return r.show(ctx, chatID, msgID, fmt.Sprintf("🗑 User %s removed.", displayName(acc)), backToUsers())

	case KindListUsers:
		return r.userList(ctx, chatID, msgID)

	case KindUserInfo:
		acc, err := r.Lifecycle.Get(ctx, target)
		if err != nil {
			return err
		}
		text, kb := accountCard(acc, r.opts.Currency)
		return r.show(ctx, chatID, msgID, text, kb)

	case KindDueMenu:
		acc, err := r.Lifecycle.Get(ctx, target)
		if err != nil {
			return err
		}
		text, kb := dueMenuView(acc, r.opts.Currency)
		return r.show(ctx, chatID, msgID, text, kb)

	case KindExtend, KindReduce:
		if _, err := r.Lifecycle.Get(ctx, target); err != nil {
			return err
		}
		action := session.DurationExtend
		if a.Kind == KindReduce {
			action = session.DurationReduce
		}
		return r.Session.Begin(ctx, &session.AwaitingDurationDays{Artifacts: card, Account: target, Action: action})

	case KindAddEarn:
		if _, err := r.Lifecycle.Get(ctx, target); err != nil {
			return err
		}
		return r.Session.Begin(ctx, &session.AwaitingEarningLabel{Artifacts: card, Account: target})

	case KindSetRate:
		if _, err := r.Lifecycle.Get(ctx, target); err != nil {
			return err
		}
		return r.Session.Begin(ctx, &session.AwaitingRate{Artifacts: card, Account: target})

	case KindDueSet, KindDueAdd, KindDueReduce, KindDueRate:
		if _, err := r.Lifecycle.Get(ctx, target); err != nil {
			return err
		}
		return r.Session.Begin(ctx, &session.AwaitingDueInput{Artifacts: card, Account: target, Action: dueActions[a.Kind]})

	case KindPay:
		p, err := r.Ledger.PreviewPayment(ctx, target, 0)
		if errors.Is(err, models.ErrValidation) {
			return r.show(ctx, chatID, msgID, "💰 No earnings to pay for this user.",
				telegram.Keyboard{row(btn("🔙 Back to User", OnUser(KindUserInfo, target)))})
		}
		if err != nil {
			return err
		}
		if p.CurrentDue > 0 {
			text, kb := paymentChoiceView(p, r.opts.Currency)
			return r.show(ctx, chatID, msgID, text, kb)
		}
		text, kb := paymentConfirmView(p, r.opts.Currency)
		return r.show(ctx, chatID, msgID, text, kb)

	case KindPayFull, KindPayNone:
		p, err := r.Ledger.PreviewPayment(ctx, target, 0)
		if err != nil {
			return err
		}
		if a.Kind == KindPayFull && p.CurrentDue > 0 {
			if p, err = r.Ledger.PreviewPayment(ctx, target, p.CurrentDue); err != nil {
				return err
			}
		}
		text, kb := paymentConfirmView(p, r.opts.Currency)
		return r.show(ctx, chatID, msgID, text, kb)

	case KindPayPartial:
		if _, err := r.Ledger.PreviewPayment(ctx, target, 0); err != nil {
			return err
		}
		return r.Session.Begin(ctx, &session.AwaitingDeductAmount{Artifacts: card, Account: target})

	case KindConfirmPay:
		pay, acc, err := r.Ledger.SettlePayment(ctx, target, a.Param)
		if err != nil {
			return err
		}
		r.notifyUser(ctx, acc, paymentNoticeText(pay, r.opts.Currency))
		text, kb := paymentDoneView(acc, pay, r.opts.Currency)
		return r.show(ctx, chatID, msgID, text, kb)

	case KindBroadcast:
		return r.Session.Begin(ctx, &session.AwaitingBroadcast{Artifacts: card})
	case KindAddIP:
		return r.Session.Begin(ctx, &session.AwaitingEndpointAdd{Artifacts: card})
	case KindCancel:
		return r.cancelWorkflow(ctx, chatID)

	case KindEditIPs:
		return r.ipAdmin(ctx, chatID, msgID)
	case KindDelIP:
		ep, err := r.Pool.RemoveAt(ctx, a.Position())
		if err != nil {
			return err
		}
		r.answer(ctx, cb, "🗑 Removed "+ep.Name, false)
		return r.ipAdmin(ctx, chatID, msgID)
	case KindDelAllIPs:
		text, kb := confirmDeleteAllView(r.Pool.Len())
		return r.show(ctx, chatID, msgID, text, kb)
	case KindConfirmDelAll:
		n, err := r.Pool.Clear(ctx)
		if err != nil {
			return err
		}
		r.answer(ctx, cb, fmt.Sprintf("🗑 Removed %d IPs", n), false)
		return r.ipAdmin(ctx, chatID, msgID)

	case KindCheckProxies:
		r.answer(ctx, cb, "🔍 Checking proxies...", false)
		if err := r.show(ctx, chatID, msgID, fmt.Sprintf("🔍 Checking %d proxies, please wait...", r.Pool.Len()), nil); err != nil {
			r.log.Debug("failed to show progress", sl.Err(err))
		}
		report, err := r.Monitor.RunCycle(ctx)
		if errors.Is(err, monitor.ErrCycleRunning) {
			return r.show(ctx, chatID, msgID, "⏳ A proxy check is already running. Try again later.", backToMenu())
		}
		if err != nil {
			return err
		}
		text, kb := checkReportView(report)
		return r.show(ctx, chatID, msgID, text, kb)

	case KindAnalytics, KindUsage:
		accounts, err := r.Lifecycle.List(ctx)
		if err != nil {
			return err
		}
		var text string
		var kb telegram.Keyboard
		if a.Kind == KindAnalytics {
			text, kb = analyticsView(analytics.Summarize(accounts, r.Pool.Len(), r.now()), r.opts.Currency)
		} else {
			text, kb = usageView(analytics.UsageReport(accounts, analytics.TopN))
		}
		return r.show(ctx, chatID, msgID, text, kb)
	}
	return fmt.Errorf("%w: %s", models.ErrInvalidAction, a.Kind)
}

var dueActions = map[Kind]models.DueAction{
	KindDueSet:    models.DueSet,
	KindDueAdd:    models.DueAdd,
	KindDueReduce: models.DueReduce,
	KindDueRate:   models.DueRate,
}

func backToUsers() telegram.Keyboard {
	return telegram.Keyboard{row(btn("🔙 Back to Users", On(KindListUsers, 0)))}
}

// handleText текст администратора уходит в текущий мастер, остальной игнорируется.
func (r *Router) handleText(ctx context.Context, e TextEvent) error {
	if !r.isAdmin(e.From) {
		return nil
	}
	_, err := r.Session.HandleText(ctx, session.Message{ChatID: e.ChatID, MessageID: e.MessageID, Text: e.Text})
	switch {
	case err == nil, errors.Is(err, session.ErrIdle):
		return nil
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrExceedsDue):
		// мастер уже переспросил
		return err
	}
	r.fail(ctx, e.ChatID, 0, err)
	return err
}

func (r *Router) cancelWorkflow(ctx context.Context, chatID int64) error {
	prev, err := r.Session.Cancel(ctx)
	if err != nil {
		return err
	}
	text := "❌ Action cancelled."
	if _, idle := prev.(session.Idle); idle {
		text = "ℹ️ Nothing to cancel."
	}
	_, err = r.Channel.Send(ctx, chatID, text, backToMenu())
	return err
}

func (r *Router) sendMenu(ctx context.Context, chatID int64, msgID int, from Sender) error {
	acc, err := r.Lifecycle.Get(ctx, strconv.FormatInt(from.ID, 10))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	text, kb := menuView(acc, r.isAdmin(from), r.now())
	return r.show(ctx, chatID, msgID, text, kb)
}

func (r *Router) register(ctx context.Context, chatID int64, msgID int, from Sender) error {
	acc, err := r.Lifecycle.Register(ctx, strconv.FormatInt(from.ID, 10), from.Username)
	if err != nil {
		return err
	}
	r.notifyAdmin(ctx,
		fmt.Sprintf("🆕 <b>New registration</b>\nUser: %s\nID: <code>%s</code>", displayName(acc), html.EscapeString(acc.UserID)),
		telegram.Keyboard{row(
			btn("✅ Approve", OnUser(KindApprove, acc.UserID)),
			btn("❌ Decline", OnUser(KindDecline, acc.UserID)),
		)})
	return r.show(ctx, chatID, msgID, "📝 Your registration request has been sent. Please wait for admin approval.", backToMenu())
}

func (r *Router) requestRenewal(ctx context.Context, chatID int64, msgID int, from Sender) error {
	acc, err := r.Lifecycle.RequestRenewal(ctx, strconv.FormatInt(from.ID, 10))
	if err != nil {
		return err
	}
	r.notifyAdmin(ctx,
		fmt.Sprintf("🔄 <b>Renewal request</b>\nUser: %s\nCurrent expiry: %s", displayName(acc), expiryText(acc)),
		telegram.Keyboard{row(
			btn("✅ Approve Renewal", OnUser(KindApproveRenewal, acc.UserID)),
			btn("❌ Decline Renewal", OnUser(KindDeclineRenewal, acc.UserID)),
		)})
	return r.show(ctx, chatID, msgID, "🔄 Your renewal request has been sent to the admin.", backToMenu())
}

// account запись самого пользователя; отсутствие записи означает «не зарегистрирован».
func (r *Router) account(ctx context.Context, userID string) (*models.Account, error) {
	acc, err := r.Lifecycle.Get(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrNotRegistered
	}
	return acc, err
}

// activeAccount пропускает только активную подписку; истёкшей
// показывается предложение продлить.
func (r *Router) activeAccount(ctx context.Context, chatID int64, msgID int, userID string) (*models.Account, bool, error) {
	acc, err := r.account(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if acc.IsActive(r.now()) {
		return acc, true, nil
	}
	if acc.Status == models.StatusApproved || acc.Status == models.StatusExpired {
		text, kb := expiredView()
		return nil, false, r.show(ctx, chatID, msgID, text, kb)
	}
	return nil, false, models.ErrInactive
}

func (r *Router) endpointList(ctx context.Context, chatID int64, msgID int, userID string) error {
	if _, ok, err := r.activeAccount(ctx, chatID, msgID, userID); !ok {
		return err
	}
	text, kb := endpointListView(r.Pool.List(), r.health(ctx))
	return r.show(ctx, chatID, msgID, text, kb)
}

// retrieve выдаёт дескриптор точки отдельным сообщением и удаляет его
// через AutoDeleteAfter. Не чаще раза в Cooldown на пользователя.
func (r *Router) retrieve(ctx context.Context, cb *callback, userID string) error {
	if ok, wait := r.Cooldown.Allow(cb.From.ID); !ok {
		secs := int(wait.Round(time.Second) / time.Second)
		r.answer(ctx, cb, fmt.Sprintf("⏳ Please wait %ds before requesting another proxy.", max(1, secs)), true)
		return nil
	}

	if _, ok, err := r.activeAccount(ctx, cb.ChatID, 0, userID); !ok {
		return err
	}
	ep, err := r.Pool.At(cb.action.Position())
	if err != nil {
		return err
	}
	// активность перепроверяется внутри той же записи
	acc, err := r.Lifecycle.RecordProxyRequest(ctx, userID, ep.Name)
	if err != nil {
		return err
	}

	text, kb := retrievedView(ep, acc.HasFavorite(ep.Name))
	id, err := r.Channel.Send(ctx, cb.ChatID, text, kb)
	if err != nil {
		return err
	}
	r.log.Info("proxy issued", slog.String("user_id", userID), slog.String("endpoint", ep.Name), slog.String("host", ep.Host()))
	r.scheduleDelete(cb.ChatID, id)
	return nil
}

func (r *Router) scheduleDelete(chatID int64, msgID int) {
	if r.opts.AutoDeleteAfter <= 0 {
		return
	}
	time.AfterFunc(r.opts.AutoDeleteAfter, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.Channel.Delete(ctx, chatID, msgID); err != nil {
			r.log.Debug("failed to auto-delete proxy message", slog.Int("message_id", msgID), sl.Err(err))
		}
	})
}

func (r *Router) toggleFavorite(ctx context.Context, cb *callback, userID string) error {
	ep, err := r.Pool.At(cb.action.Position())
	if err != nil {
		return err
	}
	var acc *models.Account
	toast := "⭐ Added to favorites"
	if cb.action.Kind == KindFav {
		acc, err = r.Lifecycle.AddFavorite(ctx, userID, ep.Name)
	} else {
		acc, err = r.Lifecycle.RemoveFavorite(ctx, userID, ep.Name)
		toast = "⭕ Removed from favorites"
	}
	if err != nil {
		return err
	}
	r.answer(ctx, cb, toast, false)
	text, kb := retrievedView(ep, acc.HasFavorite(ep.Name))
	return r.show(ctx, cb.ChatID, cb.MessageID, text, kb)
}

func (r *Router) favorites(ctx context.Context, chatID int64, msgID int, userID string) error {
	acc, ok, err := r.activeAccount(ctx, chatID, msgID, userID)
	if !ok {
		return err
	}
	text, kb := favoritesView(r.validFavorites(acc))
	return r.show(ctx, chatID, msgID, text, kb)
}

// validFavorites избранное без точек, которых больше нет в пуле.
func (r *Router) validFavorites(acc *models.Account) []models.Endpoint {
	var eps []models.Endpoint
	for _, ep := range r.Pool.List() {
		if acc.HasFavorite(ep.Name) {
			eps = append(eps, ep)
		}
	}
	return eps
}

func (r *Router) userList(ctx context.Context, chatID int64, msgID int) error {
	accounts, err := r.Lifecycle.List(ctx)
	if err != nil {
		return err
	}
	text, kb := userListView(accounts)
	return r.show(ctx, chatID, msgID, text, kb)
}

func (r *Router) ipAdmin(ctx context.Context, chatID int64, msgID int) error {
	text, kb := ipAdminView(r.Pool.List(), r.health(ctx))
	return r.show(ctx, chatID, msgID, text, kb)
}

// health снимок кэша; без кэша все точки показываются как непроверенные.
func (r *Router) health(ctx context.Context) map[string]models.HealthRecord {
	records, err := r.Health.All(ctx)
	if err != nil {
		r.log.Warn("failed to read health cache", sl.Err(err))
		return nil
	}
	return records
}

// show правит сообщение с кнопкой, а если править нечего или нельзя, шлёт новое.
func (r *Router) show(ctx context.Context, chatID int64, msgID int, text string, kb telegram.Keyboard) error {
	if msgID != 0 {
		err := r.Channel.Edit(ctx, chatID, msgID, text, kb)
		if err == nil {
			return nil
		}
		r.log.Debug("edit failed, sending new message", sl.Err(err))
	}
	_, err := r.Channel.Send(ctx, chatID, text, kb)
	return err
}

func (r *Router) notifyUser(ctx context.Context, acc *models.Account, text string) {
	chatID, err := notify.ChatID(acc)
	if err != nil {
		return
	}
	if _, err := r.Channel.Send(ctx, chatID, text, nil); err != nil {
		r.log.Warn("failed to notify user", slog.String("user_id", acc.UserID), sl.Err(err))
	}
}

func (r *Router) notifyAdmin(ctx context.Context, text string, kb telegram.Keyboard) {
	if _, err := r.Channel.Send(ctx, r.opts.AdminID, text, kb); err != nil {
		r.log.Warn("failed to notify admin", sl.Err(err))
	}
}

// fail показывает короткое сообщение об ошибке с возвратом в меню.
func (r *Router) fail(ctx context.Context, chatID int64, msgID int, err error) {
	text := userMessage(err)
	if !isExpected(err) {
		r.log.Error("failed to handle event", sl.Err(err))
	}
	if errors.Is(err, models.ErrUnauthorized) {
		msgID = 0
	}
	if serr := r.show(ctx, chatID, msgID, text, backToMenu()); serr != nil {
		r.log.Warn("failed to report error", sl.Err(serr))
	}
}

func isExpected(err error) bool {
	for _, target := range []error{
		models.ErrUnauthorized, models.ErrInvalidAction, models.ErrNotFound, models.ErrNotRegistered,
		models.ErrAlreadyRegistered, models.ErrInvalidTransition, models.ErrInactive,
		models.ErrValidation, models.ErrExceedsDue,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func userMessage(err error) string {
	var vErr *models.ValidationError
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return "❌ Not authorized."
	case errors.Is(err, models.ErrInvalidAction):
		return "❌ This button is no longer valid."
	case errors.Is(err, models.ErrNotRegistered):
		return "❌ You are not registered. Use /register first."
	case errors.Is(err, models.ErrAlreadyRegistered):
		return "ℹ️ You are already registered."
	case errors.Is(err, models.ErrNotFound):
		return "❌ Not found. It may have been removed."
	case errors.Is(err, models.ErrInvalidTransition):
		return "❌ This action is not available in the current state."
	case errors.Is(err, models.ErrInactive):
		return "❌ Not approved. Please register first."
	case errors.Is(err, models.ErrExceedsDue):
		return "❌ Deduction exceeds the current IP due."
	case errors.As(err, &vErr):
		return "❌ " + html.EscapeString(vErr.Reason)
	case errors.Is(err, models.ErrPersistence):
		return "❌ Could not save changes. Please try again."
	}
	return "❌ Something went wrong. Please try again."
}
