package sl_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/proxy-access-bot/internal/lib/sl"
)

func TestErr_ReturnsCorrectAttr(t *testing.T) {
	err := errors.New("store write failed")
	attr := sl.Err(err)

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, slog.StringValue("store write failed"), attr.Value)
}

func TestErr_NilError(t *testing.T) {
	assert.Panics(t, func() {
		_ = sl.Err(nil)
	})
}

func TestSecret(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"long token", "123456:ABCDEF", "1234****"},
		{"short value", "abc", "****"},
		{"empty", "", "****"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := sl.Secret("token", tt.value)
			assert.Equal(t, "token", attr.Key)
			assert.Equal(t, tt.want, attr.Value.String())
		})
	}
}
