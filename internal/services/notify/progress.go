package notify

import (
	"fmt"
	"strings"
)

const progressBlocks = 10

// ProgressBar доля прошедшего срока подписки: 10 блоков и процент.
func ProgressBar(daysLeft, totalDays int) (string, int) {
	if totalDays <= 0 {
		totalDays = 30
	}
	passed := totalDays - max(0, daysLeft)
	percent := min(100, max(0, passed*100/totalDays))
	filled := progressBlocks * percent / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", progressBlocks-filled), percent
}

// ReminderText напоминание о скором окончании подписки.
func ReminderText(daysLeft, totalDays int) string {
	bar, percent := ProgressBar(daysLeft, totalDays)
	return fmt.Sprintf(
		"⚠️ <b>SUBSCRIPTION EXPIRING SOON</b> ⚠️\n\n"+
			"Your subscription will expire in <b>%d days</b>.\n\n"+
			"Subscription progress: [%s] %d%%\n\n"+
			"<i>Please request a renewal once it expires.</i>",
		daysLeft, bar, percent)
}
