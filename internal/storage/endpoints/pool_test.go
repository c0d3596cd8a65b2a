package endpoints

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newPool(t *testing.T, content string) (*Pool, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ip.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	p, err := New(context.Background(), path, newNoopLogger())
	require.NoError(t, err)
	return p, path
}

func TestPool_LoadSkipsBlankLines(t *testing.T) {
	p, _ := newPool(t, "1.1.1.1:1080:u:p\n\n  \n2.2.2.2:1080:u:p\n")

	list := p.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Panel Ip 1", list[0].Name)
	assert.Equal(t, "Panel Ip 2", list[1].Name)
	assert.Equal(t, "2.2.2.2:1080:u:p", list[1].Descriptor)
}

func TestPool_MissingFileIsEmpty(t *testing.T) {
	p, err := New(context.Background(), filepath.Join(t.TempDir(), "none.txt"), newNoopLogger())
	require.NoError(t, err)
	assert.Zero(t, p.Len())
}

func TestPool_RemoveRenumbers(t *testing.T) {
	ctx := context.Background()
	p, path := newPool(t, "a.example:1:u:p\nb.example:2:u:p\nc.example:3:u:p\n")

	removed, err := p.RemoveAt(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "b.example:2:u:p", removed.Descriptor)

	reloaded, err := New(ctx, path, newNoopLogger())
	require.NoError(t, err)
	e, ok := reloaded.Get("Panel Ip 2")
	require.True(t, ok)
	assert.Equal(t, "c.example:3:u:p", e.Descriptor)
	_, ok = reloaded.Get("Panel Ip 3")
	assert.False(t, ok)
}

func TestPool_RemoveAtOutOfRange(t *testing.T) {
	p, _ := newPool(t, "a.example:1:u:p\n")
	for _, pos := range []int{0, 2, -1} {
		_, err := p.RemoveAt(context.Background(), pos)
		assert.ErrorIs(t, err, models.ErrNotFound)
	}
	assert.Equal(t, 1, p.Len())
}

func TestPool_AppendAndClear(t *testing.T) {
	ctx := context.Background()
	p, path := newPool(t, "")

	n, err := p.Append(ctx, "a.example:1:u:p", "b.example:2:u:p")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a.example:1:u:p\nb.example:2:u:p\n", string(data))

	_, err = p.Append(ctx, "garbage")
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, 2, p.Len())

	cleared, err := p.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)
	assert.Zero(t, p.Len())
	assert.Empty(t, p.Names())
}

func TestParseDescriptors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{
			name:  "mixed separators",
			input: "a.example:1:u:p, b.example:2:u:p\nc.example:3:u:p d.example:4:u:p",
			want:  []string{"a.example:1:u:p", "b.example:2:u:p", "c.example:3:u:p", "d.example:4:u:p"},
		},
		{name: "empty", input: "  \n , ", wantErr: true},
		{name: "bad port", input: "a.example:port:u:p", wantErr: true},
		{name: "missing credentials", input: "a.example:1080", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDescriptors(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
