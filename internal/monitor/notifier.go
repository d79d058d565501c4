package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// LogNotifier writes every notification to the standard logger. It is
// always wired in, alongside any other configured notifier.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, subject, body string) {
	log.Printf("[monitor] %s: %s", subject, body)
}

// TelegramNotifier posts notifications to a Telegram chat via the Bot API,
// used when both tg_bot_token and tg_chat_id are configured.
type TelegramNotifier struct {
	BotToken   string
	ChatID     string
	HTTPClient *http.Client
}

// NewTelegramNotifier builds a notifier with a bounded-timeout client.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		BotToken:   botToken,
		ChatID:     chatID,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Notify(ctx context.Context, subject, body string) {
	text := fmt.Sprintf("%s\n%s", subject, body)
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.ChatID,
		"text":    text,
	})
	if err != nil {
		log.Printf("[monitor] failed to marshal telegram payload: %v", err)
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Printf("[monitor] failed to build telegram request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		log.Printf("[monitor] telegram notify failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("[monitor] telegram notify returned status %d", resp.StatusCode)
	}
}

// MultiNotifier fans a notification out to every wrapped Notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, subject, body string) {
	for _, n := range m {
		n.Notify(ctx, subject, body)
	}
}
