package router

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

// Kind вид действия кнопки. Набор закрыт: всё, чего нет в kinds, отвергается.
type Kind string

const (
	KindRegister       Kind = "register"
	KindGetIP          Kind = "getip"
	KindDashboard      Kind = "dashboard"
	KindMenu           Kind = "menu"
	KindRenew          Kind = "renew"
	KindEarnings       Kind = "earnings"
	KindDue            Kind = "due"
	KindFavorites      Kind = "favorites"
	KindFav            Kind = "fav"
	KindUnfav          Kind = "unfav"
	KindFavClear       Kind = "favclear"
	KindPanel          Kind = "panel"
	KindApprove        Kind = "approve"
	KindDecline        Kind = "decline"
	KindApproveRenewal Kind = "approve_renewal"
	KindDeclineRenewal Kind = "decline_renewal"
	KindExtend         Kind = "extend"
	KindReduce         Kind = "reduce"
	KindRemove         Kind = "remove"
	KindUserInfo       Kind = "userinfo"
	KindListUsers      Kind = "listusers"
	KindAddEarn        Kind = "add_earn"
	KindSetRate        Kind = "set_rate"
	KindPay            Kind = "pay"
	KindPayFull        Kind = "pay_full"
	KindPayPartial     Kind = "pay_partial"
	KindPayNone        Kind = "pay_none"
	KindConfirmPay     Kind = "confirm_pay"
	KindDueMenu        Kind = "due_menu"
	KindDueSet         Kind = "due_set"
	KindDueAdd         Kind = "due_add"
	KindDueReduce      Kind = "due_reduce"
	KindDueRate        Kind = "due_rate"
	KindBroadcast      Kind = "broadcast"
	KindEditIPs        Kind = "edit_ips"
	KindAddIP          Kind = "add_ip"
	KindDelIP          Kind = "del_ip"
	KindDelAllIPs      Kind = "del_all_ips"
	KindConfirmDelAll  Kind = "confirm_del_all"
	KindCheckProxies   Kind = "check_proxies"
	KindAnalytics      Kind = "analytics"
	KindUsage          Kind = "usage"
	KindCancel         Kind = "cancel"
	KindClose          Kind = "close"
	KindNoop           Kind = "noop"
)

// maxTokenLen ограничение Bot API на callback_data.
const maxTokenLen = 64

type argShape int

const (
	argNone argShape = iota
	// argTarget числовой идентификатор пользователя или позиция точки.
	argTarget
	// argTargetParam идентификатор и неотрицательное число.
	argTargetParam
)

type kindSpec struct {
	shape argShape
	admin bool
}

var kinds = map[Kind]kindSpec{
	KindRegister:       {shape: argNone},
	KindGetIP:          {shape: argNone},
	KindDashboard:      {shape: argNone},
	KindMenu:           {shape: argNone},
	KindRenew:          {shape: argNone},
	KindEarnings:       {shape: argNone},
	KindDue:            {shape: argNone},
	KindFavorites:      {shape: argNone},
	KindFav:            {shape: argTarget},
	KindUnfav:          {shape: argTarget},
	KindFavClear:       {shape: argNone},
	KindPanel:          {shape: argTarget},
	KindApprove:        {shape: argTarget, admin: true},
	KindDecline:        {shape: argTarget, admin: true},
	KindApproveRenewal: {shape: argTarget, admin: true},
	KindDeclineRenewal: {shape: argTarget, admin: true},
	KindExtend:         {shape: argTarget, admin: true},
	KindReduce:         {shape: argTarget, admin: true},
	KindRemove:         {shape: argTarget, admin: true},
	KindUserInfo:       {shape: argTarget, admin: true},
	KindListUsers:      {shape: argNone, admin: true},
	KindAddEarn:        {shape: argTarget, admin: true},
	KindSetRate:        {shape: argTarget, admin: true},
	KindPay:            {shape: argTarget, admin: true},
	KindPayFull:        {shape: argTarget, admin: true},
	KindPayPartial:     {shape: argTarget, admin: true},
	KindPayNone:        {shape: argTarget, admin: true},
	KindConfirmPay:     {shape: argTargetParam, admin: true},
	KindDueMenu:        {shape: argTarget, admin: true},
	KindDueSet:         {shape: argTarget, admin: true},
	KindDueAdd:         {shape: argTarget, admin: true},
	KindDueReduce:      {shape: argTarget, admin: true},
	KindDueRate:        {shape: argTarget, admin: true},
	KindBroadcast:      {shape: argNone, admin: true},
	KindEditIPs:        {shape: argNone, admin: true},
	KindAddIP:          {shape: argNone, admin: true},
	KindDelIP:          {shape: argTarget, admin: true},
	KindDelAllIPs:      {shape: argNone, admin: true},
	KindConfirmDelAll:  {shape: argNone, admin: true},
	KindCheckProxies:   {shape: argNone, admin: true},
	KindAnalytics:      {shape: argNone, admin: true},
	KindUsage:          {shape: argNone, admin: true},
	KindCancel:         {shape: argNone, admin: true},
	KindClose:          {shape: argNone},
	KindNoop:           {shape: argNone},
}

// Action разобранное действие кнопки.
type Action struct {
	Kind   Kind
	Target int64
	Param  float64
}

// AdminOnly требует ли действие прав администратора.
func (a Action) AdminOnly() bool {
	return kinds[a.Kind].admin
}

// UserID цель как ключ учётной записи.
func (a Action) UserID() string {
	return strconv.FormatInt(a.Target, 10)
}

// Position цель как позиция точки в пуле.
func (a Action) Position() int {
	return int(a.Target)
}

// Token кодирует действие в callback_data: kind[:target[:param]].
func (a Action) Token() string {
	switch kinds[a.Kind].shape {
	case argTarget:
		return string(a.Kind) + ":" + strconv.FormatInt(a.Target, 10)
	case argTargetParam:
		return string(a.Kind) + ":" + strconv.FormatInt(a.Target, 10) + ":" + strconv.FormatFloat(a.Param, 'f', -1, 64)
	}
	return string(a.Kind)
}

// Fits true, если токен помещается в callback_data.
func (a Action) Fits() bool {
	return len(a.Token()) <= maxTokenLen
}

func invalid(token, reason string) error {
	return fmt.Errorf("%w: %q: %s", models.ErrInvalidAction, token, reason)
}

// Interpret разбирает callback_data. Любой неизвестный или испорченный
// токен даёт ErrInvalidAction, паники и частичного разбора не бывает.
func Interpret(token string) (Action, error) {
	if token == "" || len(token) > maxTokenLen {
		return Action{}, invalid(token, "bad length")
	}
	parts := strings.Split(token, ":")
	kind := Kind(parts[0])
	def, ok := kinds[kind]
	if !ok {
		return Action{}, invalid(token, "unknown kind")
	}

	want := 1
	switch def.shape {
	case argTarget:
		want = 2
	case argTargetParam:
		want = 3
	}
	if len(parts) != want {
		return Action{}, invalid(token, "wrong number of arguments")
	}

	a := Action{Kind: kind}
	if want >= 2 {
		target, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || target <= 0 {
			return Action{}, invalid(token, "target must be a positive number")
		}
		a.Target = target
	}
	if want == 3 {
		param, err := strconv.ParseFloat(parts[2], 64)
		if err != nil || math.IsNaN(param) || math.IsInf(param, 0) || param < 0 {
			return Action{}, invalid(token, "parameter must be a non-negative number")
		}
		a.Param = param
	}
	return a, nil
}

// On короткий конструктор для кнопок.
func On(kind Kind, target int64) Action {
	return Action{Kind: kind, Target: target}
}

// OnUser кнопка над учётной записью; ключ записи всегда числовой идентификатор чата.
func OnUser(kind Kind, userID string) Action {
	id, _ := strconv.ParseInt(userID, 10, 64)
	return Action{Kind: kind, Target: id}
}
