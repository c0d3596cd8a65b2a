package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name        string
		daysLeft    int
		total       int
		wantBar     string
		wantPercent int
	}{
		{name: "fresh subscription", daysLeft: 30, total: 30, wantBar: "░░░░░░░░░░", wantPercent: 0},
		{name: "half way", daysLeft: 15, total: 30, wantBar: "█████░░░░░", wantPercent: 50},
		{name: "three days left", daysLeft: 3, total: 30, wantBar: "█████████░", wantPercent: 90},
		{name: "expired", daysLeft: -4, total: 30, wantBar: "██████████", wantPercent: 100},
		{name: "more than total", daysLeft: 45, total: 30, wantBar: "░░░░░░░░░░", wantPercent: 0},
		{name: "zero total falls back", daysLeft: 0, total: 0, wantBar: "██████████", wantPercent: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar, percent := ProgressBar(tt.daysLeft, tt.total)
			assert.Equal(t, tt.wantBar, bar)
			assert.Equal(t, tt.wantPercent, percent)
		})
	}
}

func TestReminderText(t *testing.T) {
	text := ReminderText(2, 30)
	assert.Contains(t, text, "expire in <b>2 days</b>")
	assert.Contains(t, text, "[█████████░] 93%")
}
