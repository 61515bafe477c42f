package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/rs/zerolog"
)

// Telegram rejects messages longer than this many characters.
const telegramMaxChars = 4096

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Telegram sends reports through a Telegram bot.
type Telegram struct {
	cfg        models.TelegramConfig
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(logger zerolog.Logger, cfg models.TelegramConfig) *Telegram {
	return &Telegram{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewTelegramWithClient creates a Telegram notifier with a custom HTTP client (for testing).
func NewTelegramWithClient(logger zerolog.Logger, cfg models.TelegramConfig, httpClient HTTPClient, baseURL string) *Telegram {
	return &Telegram{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Notify sends the report as one HTML message.
func (t *Telegram) Notify(ctx context.Context, subject, body string) error {
	t.logger.Info().
		Str("chat_id", t.cfg.ChatID).
		Msg("sending Telegram report")

	reqBody := sendMessageRequest{
		ChatID:    t.cfg.ChatID,
		Text:      formatMessage(subject, body),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	t.logger.Info().Msg("Telegram report sent")
	return nil
}

// formatMessage renders subject and body, keeping the tail of the body when the
// message would exceed the API limit.
func formatMessage(subject, body string) string {
	head := "<b>" + escapeHTML(subject) + "</b>\n\n<pre>"
	const tail = "</pre>"
	const marker = "…\n"

	text := escapeHTML(body)
	budget := telegramMaxChars - utf8.RuneCountInString(head) - utf8.RuneCountInString(tail)
	if n := utf8.RuneCountInString(text); n > budget {
		runes := []rune(text)
		text = marker + string(runes[n-budget+utf8.RuneCountInString(marker):])
	}

	return head + text + tail
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
