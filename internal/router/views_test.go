package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/proxy-access-bot/internal/services/ledger"
)

func TestPaymentConfirmView_TokenLength(t *testing.T) {
	tests := []struct {
		name        string
		deduction   float64
		wantConfirm bool
	}{
		{name: "regular amount", deduction: 300, wantConfirm: true},
		{name: "fractional amount", deduction: 123456789.123456, wantConfirm: true},
		{name: "amount too long for callback data", deduction: 1e50, wantConfirm: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ledger.Preview{UserID: "1234567890", TotalUSD: 10, Rate: 120, Gross: 1200, Deduction: tt.deduction}
			text, kb := paymentConfirmView(p, "BDT")

			confirm := OnUser(KindConfirmPay, p.UserID)
			confirm.Param = tt.deduction
			assert.Equal(t, tt.wantConfirm, hasButton(kb, confirm.Token()))
			for _, r := range kb {
				for _, b := range r {
					assert.LessOrEqual(t, len(b.CallbackData), maxTokenLen, b.Text)
				}
			}
			if !tt.wantConfirm {
				assert.Contains(t, text, "too large to confirm")
			}
		})
	}
}
