package checker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

func TestClient_Check(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		delay     time.Duration
		want      Result
		wantErrIs error
		wantAPI   bool
	}{
		{
			name:   "working proxy",
			status: http.StatusOK,
			body:   `{"success":true,"data":{"working":true,"response_time":"320ms"}}`,
			want:   Result{Working: true, Latency: "320ms"},
		},
		{
			name:   "numeric latency",
			status: http.StatusOK,
			body:   `{"success":true,"data":{"working":true,"response_time":87}}`,
			want:   Result{Working: true, Latency: "87ms"},
		},
		{
			name:   "proxy offline",
			status: http.StatusOK,
			body:   `{"success":true,"data":{"working":false}}`,
			want:   Result{Working: false, Latency: "N/A"},
		},
		{
			name:   "unsuccessful check",
			status: http.StatusOK,
			body:   `{"success":false,"message":"invalid proxy format"}`,
			want:   Result{Working: false, Message: "invalid proxy format"},
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{"message":"slow down"}`,
			wantErrIs: ErrRateLimited,
		},
		{
			name:    "api error",
			status:  http.StatusUnauthorized,
			body:    `{"message":"bad token"}`,
			wantAPI: true,
		},
		{
			name:      "timeout",
			status:    http.StatusOK,
			body:      `{"success":true,"data":{"working":true}}`,
			delay:     200 * time.Millisecond,
			wantErrIs: ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/proxy/check", r.URL.Path)
				assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

				var req CheckRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "1.2.3.4:1080:u:p", req.Proxy)
				assert.True(t, req.CheckAnonymity)
				assert.False(t, req.CheckSSL)

				if tt.delay > 0 {
					time.Sleep(tt.delay)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, 50*time.Millisecond, 1000)
			got, err := c.Check(context.Background(), "tok-1", "1.2.3.4:1080:u:p")

			switch {
			case tt.wantErrIs != nil:
				assert.ErrorIs(t, err, tt.wantErrIs)
			case tt.wantAPI:
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
				assert.Equal(t, "bad token", apiErr.Message)
				assert.ErrorIs(t, err, models.ErrExternalService)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestClient_Check_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second, 1000)
	_, err := c.Check(context.Background(), "tok", "1.2.3.4:1080:u:p")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrExternalService)
	assert.NotErrorIs(t, err, ErrTimeout)
}
