// Package checker клиент внешнего сервиса проверки прокси.
// Один запрос проверяет один дескриптор одним ключом доступа;
// перебор ключей делает монитор.
package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

var (
	// ErrRateLimited сервис ответил 429 на этот ключ.
	ErrRateLimited = errors.New("checker: rate limited")
	// ErrTimeout запрос не уложился в таймаут.
	ErrTimeout = errors.New("checker: request timeout")
)

// APIError ответ сервиса со статусом, отличным от 200 и 429.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("checker: api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return models.ErrExternalService }

// CheckRequest тело запроса; ненужные подпроверки выключены.
type CheckRequest struct {
	Proxy          string `json:"proxy"`
	CheckSSL       bool   `json:"check_ssl"`
	CheckAnonymity bool   `json:"check_anonymity"`
	CheckSpeed     bool   `json:"check_speed"`
	CheckLocation  bool   `json:"check_location"`
}

// CheckResponse ответ сервиса.
type CheckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Working      bool   `json:"working"`
		ResponseTime any    `json:"response_time"`
		Error        string `json:"error"`
	} `json:"data"`
}

// Result итог одной успешной проверки.
type Result struct {
	Working bool
	Latency string
	Message string
}

// Client HTTP-клиент сервиса проверки.
type Client struct {
	apiURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient создаёт клиент; rps ограничивает исходящие запросы.
func NewClient(apiURL string, timeout time.Duration, rps float64) *Client {
	return &Client{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *Client) newRequest(ctx context.Context, method, path, credential string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Check проверяет дескриптор одним ключом.
// Возвращает ErrRateLimited, ErrTimeout, *APIError либо сетевую ошибку.
func (c *Client) Check(ctx context.Context, credential, descriptor string) (Result, error) {
	const op = "checker.Check"

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/proxy/check", credential, CheckRequest{
		Proxy:          descriptor,
		CheckAnonymity: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{}, fmt.Errorf("%s: %w", op, ErrTimeout)
		}
		return Result{}, fmt.Errorf("%s: %w: %w", op, models.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, fmt.Errorf("%s: %w", op, ErrRateLimited)
	}

	var payload CheckResponse
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(err) {
			return Result{}, fmt.Errorf("%s: %w", op, ErrTimeout)
		}
		return Result{}, fmt.Errorf("%s: %w: %w", op, models.ErrExternalService, err)
	}
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode != http.StatusOK {
		msg := payload.Message
		if decodeErr != nil || msg == "" {
			msg = "API error"
		}
		return Result{}, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return Result{}, fmt.Errorf("%s: %w: %w", op, models.ErrExternalService, decodeErr)
	}

	if !payload.Success {
		msg := payload.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return Result{Working: false, Message: msg}, nil
	}
	return Result{
		Working: payload.Data.Working,
		Latency: latencyText(payload.Data.ResponseTime),
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// latencyText сервис отдаёт время ответа то числом, то строкой.
func latencyText(v any) string {
	switch t := v.(type) {
	case nil:
		return "N/A"
	case string:
		if t == "" {
			return "N/A"
		}
		return t
	case float64:
		return fmt.Sprintf("%.0fms", t)
	default:
		return fmt.Sprint(t)
	}
}
