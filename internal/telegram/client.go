// Package telegram клиент Bot API: отправка, редактирование и удаление
// сообщений, ответы на нажатия кнопок и long polling обновлений.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const parseMode = "HTML"

// APIError ответ Bot API с ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}

// ErrNotModified правка не изменила сообщение, для вызывающего это успех.
var ErrNotModified = errors.New("telegram: message is not modified")

type Client struct {
	apiURL         string
	token          string
	httpClient     *http.Client
	requestTimeout time.Duration
	log            *slog.Logger
}

func New(apiURL, token string, requestTimeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		apiURL:         strings.TrimRight(apiURL, "/"),
		token:          token,
		httpClient:     &http.Client{},
		requestTimeout: requestTimeout,
		log:            log,
	}
}

func (c *Client) call(ctx context.Context, method string, timeout time.Duration, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: %s: marshal: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url содержит токен, наружу отдаём только метод.
		var uerr interface{ Unwrap() error }
		if errors.As(err, &uerr) {
			err = uerr.Unwrap()
		}
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("telegram: %s: read: %w", method, err)
	}

	var envelope apiResponse[json.RawMessage]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("telegram: %s: status %d: decode: %w", method, resp.StatusCode, err)
	}
	if !envelope.OK {
		if strings.Contains(envelope.Description, "message is not modified") {
			return ErrNotModified
		}
		apiErr := &APIError{Method: method, Code: envelope.ErrorCode, Description: envelope.Description}
		if envelope.Parameters != nil {
			apiErr.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("telegram: %s: decode result: %w", method, err)
	}
	return nil
}

// Send отправляет текст и возвращает идентификатор сообщения.
func (c *Client) Send(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", c.requestTimeout, map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               parseMode,
		"disable_web_page_preview": true,
		"reply_markup":             markup(kb),
	}, &msg)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// SendText отправка без клавиатуры.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := c.Send(ctx, chatID, text, nil)
	return err
}

// SendPhoto отправляет картинку по URL или file_id.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo, caption string, kb Keyboard) (int, error) {
	var msg Message
	err := c.call(ctx, "sendPhoto", c.requestTimeout, map[string]any{
		"chat_id":      chatID,
		"photo":        photo,
		"caption":      caption,
		"parse_mode":   parseMode,
		"reply_markup": markup(kb),
	}, &msg)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// Edit заменяет текст и клавиатуру сообщения.
func (c *Client) Edit(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error {
	err := c.call(ctx, "editMessageText", c.requestTimeout, map[string]any{
		"chat_id":                  chatID,
		"message_id":               messageID,
		"text":                     text,
		"parse_mode":               parseMode,
		"disable_web_page_preview": true,
		"reply_markup":             markup(kb),
	}, nil)
	if errors.Is(err, ErrNotModified) {
		return nil
	}
	return err
}

func (c *Client) Delete(ctx context.Context, chatID int64, messageID int) error {
	return c.call(ctx, "deleteMessage", c.requestTimeout, map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

// AnswerCallback снимает «часики» с кнопки, text показывается всплывающим уведомлением.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	return c.call(ctx, "answerCallbackQuery", c.requestTimeout, map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
		"show_alert":        alert,
	}, nil)
}

// GetUpdates long polling с ожиданием до timeout.
func (c *Client) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", timeout+c.requestTimeout, map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}
