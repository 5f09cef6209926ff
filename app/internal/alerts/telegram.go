package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIBase is the public Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// ErrNotConfigured is returned when the bot token or chat id is missing.
var ErrNotConfigured = errors.New("telegram not configured")

// APIError is a Bot API call that returned a non-2xx status or ok=false.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, e.Description)
}

// NotModified reports whether the edit was rejected because nothing changed.
func (e *APIError) NotModified() bool {
	return strings.Contains(e.Description, "message is not modified")
}

// MessageGone reports whether the target message no longer exists in the chat.
func (e *APIError) MessageGone() bool {
	return strings.Contains(e.Description, "message to edit not found") ||
		strings.Contains(e.Description, "message to delete not found") ||
		strings.Contains(e.Description, "MESSAGE_ID_INVALID")
}

// IsMessageGone reports whether err is an APIError for a missing message.
func IsMessageGone(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.MessageGone()
}

// Telegram talks to the Bot API for a single chat. All messages use HTML parse mode.
type Telegram struct {
	Token   string
	ChatID  string
	BaseURL string
	HTTP    *http.Client
}

// NewTelegram creates a client; empty token or chat id yields an unconfigured client.
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		Token:   token,
		ChatID:  chatID,
		BaseURL: DefaultAPIBase,
		HTTP:    &http.Client{Timeout: 20 * time.Second},
	}
}

// Configured reports whether both token and chat id are set.
func (t *Telegram) Configured() bool {
	return t != nil && t.Token != "" && t.ChatID != ""
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// SendMessage posts a text message.
func (t *Telegram) SendMessage(ctx context.Context, text string) error {
	if !t.Configured() {
		return ErrNotConfigured
	}
	payload := map[string]interface{}{
		"chat_id":                  t.ChatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = t.call(ctx, "sendMessage", "application/json", bytes.NewReader(body))
	return err
}

// SendPhoto uploads png with caption and returns the new message id.
func (t *Telegram) SendPhoto(ctx context.Context, png []byte, caption string) (int64, error) {
	if !t.Configured() {
		return 0, ErrNotConfigured
	}
	body, contentType, err := photoForm(map[string]string{
		"chat_id":    t.ChatID,
		"caption":    caption,
		"parse_mode": "HTML",
	}, png)
	if err != nil {
		return 0, err
	}
	resp, err := t.call(ctx, "sendPhoto", contentType, body)
	if err != nil {
		return 0, err
	}
	if resp.Result.MessageID == 0 {
		return 0, fmt.Errorf("telegram sendPhoto: response has no message_id")
	}
	return resp.Result.MessageID, nil
}

// EditPhoto replaces the image and caption of message id. An unchanged
// message counts as success.
func (t *Telegram) EditPhoto(ctx context.Context, id int64, png []byte, caption string) error {
	if !t.Configured() {
		return ErrNotConfigured
	}
	media, err := json.Marshal(map[string]string{
		"type":       "photo",
		"media":      "attach://photo",
		"caption":    caption,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}
	body, contentType, err := photoForm(map[string]string{
		"chat_id":    t.ChatID,
		"message_id": strconv.FormatInt(id, 10),
		"media":      string(media),
	}, png)
	if err != nil {
		return err
	}
	_, err = t.call(ctx, "editMessageMedia", contentType, body)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.NotModified() {
		return nil
	}
	return err
}

// DeleteMessage removes message id from the chat.
func (t *Telegram) DeleteMessage(ctx context.Context, id int64) error {
	if !t.Configured() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(map[string]interface{}{
		"chat_id":    t.ChatID,
		"message_id": id,
	})
	if err != nil {
		return err
	}
	_, err = t.call(ctx, "deleteMessage", "application/json", bytes.NewReader(body))
	return err
}

func (t *Telegram) call(ctx context.Context, method, contentType string, body io.Reader) (*apiResponse, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(t.BaseURL, "/"), t.Token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.HTTP.Do(req)
	if err != nil {
		// the URL carries the bot token; keep it out of logs
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.OK {
		return nil, &APIError{Method: method, StatusCode: resp.StatusCode, Description: out.Description}
	}
	return &out, nil
}

func photoForm(fields map[string]string, png []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("photo", "chart.png")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(png); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
