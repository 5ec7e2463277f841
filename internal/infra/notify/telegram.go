package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends matches to a Telegram chat via the bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *TelegramNotifier) Send(ctx context.Context, msg Message) error {
	if n.botToken == "" || n.chatID == "" {
		return fmt.Errorf("telegram notifier misconfigured: missing bot token or chat id")
	}

	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)

	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", formatMessage(msg))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

func formatMessage(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Match: %s\n", msg.Name)
	fmt.Fprintf(&b, "Score: %.0f%%\n", msg.Score*100)
	if len(msg.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(msg.Tags, ", "))
	}
	if msg.Reasoning != "" {
		fmt.Fprintf(&b, "\n%s\n", msg.Reasoning)
	}
	fmt.Fprintf(&b, "\nID: %s", msg.PostingID)
	return b.String()
}
