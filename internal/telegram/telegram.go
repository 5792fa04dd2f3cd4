// Package telegram relays selected events to a Telegram chat through the Bot API. The relay is a fire-and-forget
// side effect: failures are logged and never propagate to the triggering request.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.telegram.org"

// sendTimeout bounds one Bot API call; the relay runs detached from the triggering request.
const sendTimeout = 10 * time.Second

// Relay posts messages to one configured chat. A relay without credentials is disabled and every send is a no-op.
type Relay struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	log      zerolog.Logger
}

// NewRelay creates a relay. Empty credentials yield a disabled relay.
func NewRelay(botToken, chatID string, client *http.Client, logger zerolog.Logger) *Relay {
	if client == nil {
		client = &http.Client{Timeout: sendTimeout}
	}
	return &Relay{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  defaultBaseURL,
		client:   client,
		log:      logger.With().Str("component", "telegram").Logger(),
	}
}

// Enabled reports whether the relay holds credentials.
func (r *Relay) Enabled() bool {
	return r != nil && r.botToken != "" && r.chatID != ""
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// Send posts one message to the configured chat.
func (r *Relay) Send(ctx context.Context, text string) error {
	if !r.Enabled() {
		return nil
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: r.chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("encode telegram request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", r.baseURL, r.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// RelayAvitoMessage formats and sends a new-marketplace-message alert in the background. The caller never waits on
// the Bot API.
func (r *Relay) RelayAvitoMessage(author, preview string) {
	if !r.Enabled() {
		return
	}

	text := fmt.Sprintf("📨 <b>Новое сообщение Авито</b>\nОт: %s\n%s", author, preview)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := r.Send(ctx, text); err != nil {
			r.log.Warn().Err(err).Msg("Telegram relay failed")
		}
	}()
}
