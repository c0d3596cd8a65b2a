package router

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/analytics"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/ledger"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/monitor"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/notify"
	"github.com/magabrotheeeer/proxy-access-bot/internal/telegram"
)

const divider = "━━━━━━━━━━━━━━━━━━"

func btn(text string, a Action) telegram.Button {
	return telegram.Button{Text: text, CallbackData: a.Token()}
}

func row(buttons ...telegram.Button) []telegram.Button { return buttons }

func backToMenu() telegram.Keyboard {
	return telegram.Keyboard{row(btn("🔙 Back to Menu", On(KindMenu, 0)))}
}

func cancelKeyboard() telegram.Keyboard {
	return telegram.Keyboard{row(btn("❌ Cancel", On(KindCancel, 0)))}
}

func displayName(acc *models.Account) string {
	return html.EscapeString(acc.DisplayName())
}

func money(v float64) string {
	return formatThousands(v, 0)
}

// formatThousands число с разделителями тысяч.
func formatThousands(v float64, decimals int) string {
	s := fmt.Sprintf("%.*f", decimals, v)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}

func expiryText(acc *models.Account) string {
	if acc.ExpiryDate == nil {
		return "N/A"
	}
	return acc.ExpiryDate.String()
}

func statusEmoji(s models.Status) string {
	switch s {
	case models.StatusApproved:
		return "✅"
	case models.StatusPending:
		return "⏳"
	case models.StatusRenewalRequested:
		return "🔄"
	}
	return "❌"
}

func healthDot(rec models.HealthRecord, ok bool) string {
	if !ok {
		return "⚪"
	}
	switch rec.Status {
	case models.HealthOnline:
		return "🟢"
	case models.HealthOffline:
		return "🔴"
	}
	return "⚪"
}

// menuView главное меню; acc равен nil для незарегистрированных.
func menuView(acc *models.Account, admin bool, now time.Time) (string, telegram.Keyboard) {
	active := acc != nil && acc.IsActive(now)

	var kb telegram.Keyboard
	if !active {
		kb = append(kb, row(btn("🔑 Register for Access", On(KindRegister, 0))))
	}
	kb = append(kb,
		row(btn("🌐 Get Proxy IPs", On(KindGetIP, 0)), btn("📊 My Dashboard", On(KindDashboard, 0))),
		row(btn("💰 My Earnings", On(KindEarnings, 0)), btn("💳 IP Due", On(KindDue, 0))),
	)
	if admin {
		kb = append(kb,
			row(btn("📢 Admin Broadcast", On(KindBroadcast, 0)), btn("🛠️ Manage IPs", On(KindEditIPs, 0))),
			row(btn("📈 View Analytics", On(KindAnalytics, 0)), btn("📊 Usage Stats", On(KindUsage, 0))),
			row(btn("👥 Users", On(KindListUsers, 0)), btn("🔍 Check All Proxies", On(KindCheckProxies, 0))),
		)
	}

	switch {
	case acc == nil:
		kb = append(kb, row(btn("❌ Subscription: Not Registered", On(KindNoop, 0))))
	case acc.Status == models.StatusApproved && !active:
		kb = append(kb,
			row(btn("⏱️ Subscription: Expired", On(KindNoop, 0))),
			row(btn("🔄 Request Renewal", On(KindRenew, 0))),
		)
	case acc.Status == models.StatusApproved:
		kb = append(kb, row(btn("✅ Subscription: Active (Expires: "+expiryText(acc)+")", On(KindNoop, 0))))
	case acc.Status == models.StatusPending:
		kb = append(kb, row(btn("⏳ Subscription: Pending Approval", On(KindNoop, 0))))
	case acc.Status == models.StatusRenewalRequested:
		kb = append(kb, row(btn("🔄 Renewal: Pending Approval", On(KindNoop, 0))))
	case acc.Status == models.StatusExpired:
		kb = append(kb,
			row(btn("⏱️ Subscription: Expired", On(KindNoop, 0))),
			row(btn("🔄 Request Renewal", On(KindRenew, 0))),
		)
	}
	return "🎮 <b>Welcome to Premium SOCKS5 Service!</b>\n\nPlease select an option below:", kb
}

func dashboardView(acc *models.Account, favorites, totalDays int, now time.Time) (string, telegram.Keyboard) {
	var b strings.Builder
	b.WriteString("📊 <b>MY DASHBOARD</b>\n" + divider + "\n\n")
	fmt.Fprintf(&b, "👤 <b>Username:</b> %s\n", displayName(acc))
	fmt.Fprintf(&b, "🆔 <b>User ID:</b> <code>%s</code>\n\n", html.EscapeString(acc.UserID))

	active := acc.IsActive(now)
	switch {
	case active:
		b.WriteString("📊 <b>Status:</b> ✅ Active\n")
	case acc.Status == models.StatusApproved, acc.Status == models.StatusExpired:
		b.WriteString("📊 <b>Status:</b> ⏱️ Expired\n")
	case acc.Status == models.StatusRenewalRequested:
		b.WriteString("📊 <b>Status:</b> 🔄 Renewal pending\n")
	default:
		b.WriteString("📊 <b>Status:</b> ⏳ Pending approval\n")
	}

	if days, ok := acc.DaysLeft(now); ok {
		fmt.Fprintf(&b, "📅 <b>Expires:</b> %s\n", expiryText(acc))
		if active {
			fmt.Fprintf(&b, "⏰ <b>Days Left:</b> %d days\n\n", max(0, days))
			bar, percent := notify.ProgressBar(days, totalDays)
			fmt.Fprintf(&b, "📈 <b>Subscription Progress:</b>\n[%s] %d%%\n\n", bar, percent)
			if days <= 3 {
				b.WriteString("⚠️ <b>Warning:</b> Subscription expiring soon!\n\n")
			}
		} else {
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "⭐ <b>Favorite Proxies:</b> %d\n", favorites)
	fmt.Fprintf(&b, "📥 <b>Proxy Requests:</b> %d\n", len(acc.ProxyRequests))
	b.WriteString("\n" + divider)

	var kb telegram.Keyboard
	if active {
		kb = append(kb, row(btn("🌐 Get Proxy IPs", On(KindGetIP, 0))))
		if favorites > 0 {
			kb = append(kb, row(btn("⭐ Manage Favorites", On(KindFavorites, 0))))
		}
	} else if acc.Status == models.StatusApproved || acc.Status == models.StatusExpired {
		kb = append(kb, row(btn("🔄 Request Renewal", On(KindRenew, 0))))
	}
	kb = append(kb, backToMenu()...)
	return b.String(), kb
}

func earningsView(acc *models.Account, currency string) (string, telegram.Keyboard) {
	e := acc.Earnings
	var b strings.Builder
	b.WriteString("💰 <b>MY EARNINGS</b>\n" + divider + "\n\n")
	fmt.Fprintf(&b, "💵 <b>Total:</b> $%.2f\n", e.TotalUSD)
	fmt.Fprintf(&b, "💴 <b>%s:</b> %s (@ %s)\n", currency, money(e.TotalUSD*e.Rate), formatThousands(e.Rate, 2))
	fmt.Fprintf(&b, "💳 <b>IP Due:</b> %s %s\n\n", money(acc.IPDue.CurrentDue), currency)

	if len(e.History) > 0 {
		b.WriteString("📋 <b>EARNING HISTORY:</b>\n" + divider + "\n\n")
		history := e.History[max(0, len(e.History)-10):]
		for i := len(history) - 1; i >= 0; i-- {
			h := history[i]
			fmt.Fprintf(&b, "%d. %s\n", len(history)-i, html.EscapeString(h.Label))
			fmt.Fprintf(&b, "   💵 $%.2f | 💴 %s %s\n", h.AmountUSD, money(h.AmountUSD*e.Rate), currency)
			fmt.Fprintf(&b, "   📅 %s\n\n", h.Timestamp.Format("2006-01-02 15:04:05"))
		}
	}
	if len(e.Payments) > 0 {
		b.WriteString("💸 <b>PAYMENT HISTORY:</b>\n" + divider + "\n\n")
		payments := e.Payments[max(0, len(e.Payments)-5):]
		for i := len(payments) - 1; i >= 0; i-- {
			p := payments[i]
			fmt.Fprintf(&b, "▸ $%.2f (%s %s) - %s\n", p.AmountUSD, money(p.NetPaid), currency, p.Timestamp.Format(models.DateLayout))
		}
	}
	return b.String(), backToMenu()
}

func dueView(acc *models.Account, currency string) (string, telegram.Keyboard) {
	text := fmt.Sprintf(
		"💳 <b>YOUR IP DUE</b>\nUser: %s\n%s\n\n💰 <b>Current Due:</b> %s %s\n\n⚠️ Please clear your due to ensure uninterrupted service.",
		displayName(acc), divider, money(acc.IPDue.CurrentDue), currency)
	return text, backToMenu()
}

// endpointListView список точек по две в строке с отметкой последней проверки.
func endpointListView(eps []models.Endpoint, health map[string]models.HealthRecord) (string, telegram.Keyboard) {
	if len(eps) == 0 {
		return "❌ No proxies available right now.", backToMenu()
	}
	var kb telegram.Keyboard
	var line []telegram.Button
	for _, ep := range eps {
		rec, ok := health[ep.Name]
		line = append(line, btn(healthDot(rec, ok)+" "+ep.Name, On(KindPanel, int64(ep.Position))))
		if len(line) == 2 {
			kb = append(kb, line)
			line = nil
		}
	}
	if len(line) > 0 {
		kb = append(kb, line)
	}
	kb = append(kb, row(btn("⭐ Favorites", On(KindFavorites, 0))))
	kb = append(kb, backToMenu()...)
	return "🛜 <b>Select a panel to get the SOCKS5 IP:</b>", kb
}

func expiredView() (string, telegram.Keyboard) {
	return "⏱️ Your subscription has expired. Would you like to request a renewal?",
		telegram.Keyboard{row(btn("🔄 Request Renewal", On(KindRenew, 0)))}
}

// retrievedView сообщение с дескриптором; удаляется через AutoDeleteAfter.
func retrievedView(ep models.Endpoint, favorite bool) (string, telegram.Keyboard) {
	text := fmt.Sprintf("🛜 <b>%s</b>\n\n<code>%s</code>\n\n<i>Copy the above credentials to configure your SOCKS5 proxy.</i>",
		html.EscapeString(ep.Name), html.EscapeString(ep.Descriptor))
	toggle := btn("⭐ Add to Favorites", On(KindFav, int64(ep.Position)))
	if favorite {
		toggle = btn("⭕ Remove from Favorites", On(KindUnfav, int64(ep.Position)))
	}
	return text, telegram.Keyboard{row(toggle)}
}

// favoritesView eps только существующие в пуле избранные точки.
func favoritesView(eps []models.Endpoint) (string, telegram.Keyboard) {
	if len(eps) == 0 {
		return "⭐ <b>Your Favorite IPs</b>\n\n<i>You don't have any favorite IPs yet. Browse IPs and add them to favorites.</i>",
			telegram.Keyboard{row(btn("🌐 Browse IPs", On(KindGetIP, 0)))}
	}
	var kb telegram.Keyboard
	for _, ep := range eps {
		kb = append(kb, row(btn("⭐ "+ep.Name, On(KindPanel, int64(ep.Position)))))
	}
	kb = append(kb, row(btn("🗑 Clear All Favorites", On(KindFavClear, 0))))
	kb = append(kb, backToMenu()...)
	return "⭐ <b>Your Favorite IPs</b>\n\n<i>Select a favorite IP to use:</i>", kb
}

func userListView(accounts []*models.Account) (string, telegram.Keyboard) {
	var kb telegram.Keyboard
	for _, acc := range accounts {
		label := fmt.Sprintf("%s %s - %s - Exp: %s", statusEmoji(acc.Status), acc.DisplayName(), acc.Status, expiryText(acc))
		kb = append(kb, row(btn(label, OnUser(KindUserInfo, acc.UserID))))

		switch acc.Status {
		case models.StatusPending:
			kb = append(kb, row(
				btn("✅ Approve", OnUser(KindApprove, acc.UserID)),
				btn("❌ Decline", OnUser(KindDecline, acc.UserID)),
			))
		case models.StatusRenewalRequested:
			kb = append(kb, row(
				btn("✅ Approve Renewal", OnUser(KindApproveRenewal, acc.UserID)),
				btn("❌ Decline Renewal", OnUser(KindDeclineRenewal, acc.UserID)),
			))
		}
	}
	kb = append(kb, backToMenu()...)

	text := "📜 <b>User Management Panel</b>\n\nBelow is the list of all users and their status:"
	if len(accounts) == 0 {
		text = "📜 <b>User Management Panel</b>\n\nNo users registered yet."
	}
	return text, kb
}

// accountCard карточка пользователя для администратора.
func accountCard(acc *models.Account, currency string) (string, telegram.Keyboard) {
	e := acc.Earnings
	text := fmt.Sprintf(
		"👤 <b>%s</b>\n%s\n"+
			"%s <b>Status:</b> %s\n"+
			"📅 <b>Expires:</b> %s\n"+
			"💰 <b>Earnings:</b> $%.2f\n"+
			"💴 <b>%s:</b> %s (@ %s)\n"+
			"💳 <b>IP Due:</b> %s %s\n"+
			"🆔 <b>ID:</b> <code>%s</code>",
		displayName(acc), divider,
		statusEmoji(acc.Status), strings.ToUpper(string(acc.Status)),
		expiryText(acc),
		e.TotalUSD,
		currency, money(e.TotalUSD*e.Rate), formatThousands(e.Rate, 2),
		money(acc.IPDue.CurrentDue), currency,
		html.EscapeString(acc.UserID),
	)
	kb := telegram.Keyboard{
		row(
			btn("💵 Add $", OnUser(KindAddEarn, acc.UserID)),
			btn("💱 Rate", OnUser(KindSetRate, acc.UserID)),
			btn("💸 Pay", OnUser(KindPay, acc.UserID)),
			btn("💳 Due", OnUser(KindDueMenu, acc.UserID)),
		),
		row(
			btn("⏰ Extend", OnUser(KindExtend, acc.UserID)),
			btn("⏬ Reduce", OnUser(KindReduce, acc.UserID)),
			btn("🗑️ Remove", OnUser(KindRemove, acc.UserID)),
		),
		row(btn("🔙 Back to Users", On(KindListUsers, 0))),
	}
	return text, kb
}

func dueMenuView(acc *models.Account, currency string) (string, telegram.Keyboard) {
	text := fmt.Sprintf(
		"💳 <b>IP DUE MANAGEMENT</b>\nUser: %s\n%s\n\n💰 <b>Current Due:</b> %s %s\n🔄 <b>Due Rate:</b> %s %s/renewal\n\nSelect an action:",
		displayName(acc), divider, money(acc.IPDue.CurrentDue), currency, money(acc.IPDue.DueRate), currency)
	kb := telegram.Keyboard{
		row(btn("📝 Set New Due", OnUser(KindDueSet, acc.UserID)), btn("➕ Add Due", OnUser(KindDueAdd, acc.UserID))),
		row(btn("➖ Reduce Due", OnUser(KindDueReduce, acc.UserID)), btn("⚙️ Change Rate", OnUser(KindDueRate, acc.UserID))),
		row(btn("🔙 Back to User", OnUser(KindUserInfo, acc.UserID))),
	}
	return text, kb
}

// paymentChoiceView выбор удержания долга из выплаты.
func paymentChoiceView(p ledger.Preview, currency string) (string, telegram.Keyboard) {
	text := fmt.Sprintf(
		"💸 <b>PROCESS PAYMENT</b>\n%s\n\n💵 <b>Earnings:</b> $%.2f\n💴 <b>Gross:</b> %s %s\n💳 <b>Current IP Due:</b> %s %s\n\nDeduct the IP due from this payment?",
		divider, p.TotalUSD, money(p.Gross), currency, money(p.CurrentDue), currency)
	kb := telegram.Keyboard{
		row(btn(fmt.Sprintf("✅ Full Deduct (-%s)", money(p.CurrentDue)), OnUser(KindPayFull, p.UserID))),
		row(btn("✂️ Partial Deduct", OnUser(KindPayPartial, p.UserID))),
		row(btn("❌ No Deduct", OnUser(KindPayNone, p.UserID))),
		row(btn("🔙 Back to User", OnUser(KindUserInfo, p.UserID))),
	}
	return text, kb
}

// paymentConfirmView последний шаг: токен несёт точную сумму удержания.
func paymentConfirmView(p ledger.Preview, currency string) (string, telegram.Keyboard) {
	text := fmt.Sprintf(
		"🧾 <b>CONFIRM PAYMENT</b>\n%s\n\n"+
			"💵 <b>Earnings:</b> $%.2f × %s = %s %s\n"+
			"➖ <b>Deduction:</b> %s %s\n"+
			"💰 <b>NET PAY:</b> %s %s\n\n"+
			"💳 <b>IP Due after payment:</b> %s %s",
		divider,
		p.TotalUSD, formatThousands(p.Rate, 2), money(p.Gross), currency,
		money(p.Deduction), currency,
		money(p.Net), currency,
		money(p.DueAfter), currency)
	confirm := OnUser(KindConfirmPay, p.UserID)
	confirm.Param = p.Deduction
	if !confirm.Fits() {
		text += "\n\n⚠️ Deduction is too large to confirm from chat. Adjust the IP due first."
		return text, telegram.Keyboard{row(btn("❌ Cancel", On(KindClose, 0)))}
	}
	kb := telegram.Keyboard{
		row(btn("✅ Confirm Payment", confirm)),
		row(btn("❌ Cancel", On(KindClose, 0))),
	}
	return text, kb
}

func paymentDoneView(acc *models.Account, pay models.Payment, currency string) (string, telegram.Keyboard) {
	text := fmt.Sprintf(
		"✅ <b>PAYMENT COMPLETED</b>\nUser: %s\n%s\n\n💵 $%.2f → %s %s\n➖ Deducted: %s %s\n💰 Net paid: %s %s\n💳 Remaining IP Due: %s %s",
		displayName(acc), divider,
		pay.AmountUSD, money(pay.AmountLocal), currency,
		money(pay.Deducted), currency,
		money(pay.NetPaid), currency,
		money(acc.IPDue.CurrentDue), currency)
	return text, telegram.Keyboard{row(btn("🔙 Back to User", OnUser(KindUserInfo, acc.UserID)))}
}

func paymentNoticeText(pay models.Payment, currency string) string {
	return fmt.Sprintf(
		"💸 <b>PAYMENT PROCESSED!</b>\n\n💵 Earnings: $%.2f (%s %s)\n➖ IP Due deducted: %s %s\n💰 Net paid: %s %s",
		pay.AmountUSD, money(pay.AmountLocal), currency,
		money(pay.Deducted), currency,
		money(pay.NetPaid), currency)
}

// ipAdminView управление пулом точек.
func ipAdminView(eps []models.Endpoint, health map[string]models.HealthRecord) (string, telegram.Keyboard) {
	var b strings.Builder
	fmt.Fprintf(&b, "🛠️ <b>Manage IPs</b>\n%s\n\nTotal: %d\n\n", divider, len(eps))
	var kb telegram.Keyboard
	for _, ep := range eps {
		rec, ok := health[ep.Name]
		fmt.Fprintf(&b, "%s %s: <code>%s</code>", healthDot(rec, ok), html.EscapeString(ep.Name), html.EscapeString(ep.Host()))
		if ok && rec.Detail != "" {
			fmt.Fprintf(&b, " (%s)", html.EscapeString(rec.Detail))
		}
		b.WriteString("\n")
		kb = append(kb, row(btn("🗑 Delete "+ep.Name, On(KindDelIP, int64(ep.Position)))))
	}
	kb = append(kb, row(btn("➕ Add IPs", On(KindAddIP, 0))))
	if len(eps) > 0 {
		kb = append(kb, row(btn("⚠️ Delete All IPs", On(KindDelAllIPs, 0))))
	}
	kb = append(kb, backToMenu()...)
	return b.String(), kb
}

func confirmDeleteAllView(n int) (string, telegram.Keyboard) {
	return fmt.Sprintf("⚠️ <b>Delete all %d IPs?</b>\n\nThis cannot be undone.", n),
		telegram.Keyboard{
			row(btn("✅ Yes, delete all", On(KindConfirmDelAll, 0))),
			row(btn("❌ No, go back", On(KindEditIPs, 0))),
		}
}

func checkReportView(r monitor.Report) (string, telegram.Keyboard) {
	text := fmt.Sprintf(
		"🔍 <b>Proxy Check Complete</b>\n%s\n\n🌐 Total: %d\n🟢 Online: %d\n🔴 Offline: %d\n⚪ Errors: %d\n⏱️ Took: %s",
		divider, r.Total, r.Online, r.Offline, r.Errors, r.Took.Round(time.Second))
	return text, telegram.Keyboard{
		row(btn("🛠️ Manage IPs", On(KindEditIPs, 0))),
		row(btn("🔙 Back to Menu", On(KindMenu, 0))),
	}
}

func analyticsView(s analytics.Summary, currency string) (string, telegram.Keyboard) {
	text := fmt.Sprintf(
		"📈 <b>Admin Analytics</b>\n%s\n\n"+
			"👥 <b>Total Users:</b> <code>%d</code>\n"+
			"✅ <b>Active Subscriptions:</b> <code>%d</code>\n"+
			"⚠️ <b>Expired/Inactive:</b> <code>%d</code>\n"+
			"⏳ <b>Pending Requests:</b> <code>%d</code>\n"+
			"🔄 <b>Renewal Requests:</b> <code>%d</code>\n"+
			"🌐 <b>Total Proxies:</b> <code>%d</code>\n\n"+
			"💰 <b>Financial Overview</b>\n%s\n"+
			"💵 <b>Total Earnings:</b> <code>$%s</code>\n"+
			"💴 <b>Total %s:</b> <code>%s %s</code>\n"+
			"💳 <b>Total IP Due:</b> <code>%s %s</code>\n"+
			"📉 <b>Net Payable:</b> <code>%s %s</code>",
		divider,
		s.Users, s.Active, s.Inactive, s.Pending, s.RenewalRequests, s.Endpoints,
		divider,
		formatThousands(s.TotalUSD, 2),
		currency, money(s.TotalLocal), currency,
		money(s.TotalDue), currency,
		money(s.NetPayable), currency)
	return text, backToMenu()
}

func usageView(u analytics.Usage) (string, telegram.Keyboard) {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>User Usage Analytics</b>\n%s\n\n", divider)
	fmt.Fprintf(&b, "📥 <b>Total Proxy Requests:</b> %d\n", u.TotalRequests)
	fmt.Fprintf(&b, "👥 <b>Users with Requests:</b> %d\n\n", u.ActiveUsers)
	if len(u.Top) > 0 {
		b.WriteString("🏆 <b>Top Users:</b>\n")
		for i, t := range u.Top {
			fmt.Fprintf(&b, "%d. %s: %d requests (last: %s)\n", i+1, html.EscapeString(t.Name), t.Requests, t.Last.Format("2006-01-02 15:04"))
		}
	}
	return b.String(), backToMenu()
}
