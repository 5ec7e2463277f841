package notify

import (
	"context"
	"log/slog"
	"strings"
)

// Message is a screening result worth telling the user about.
type Message struct {
	PostingID string
	Name      string
	Score     float64
	Reasoning string
	Tags      []string
}

// Notifier delivers accepted postings to the user.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes matches to the log. It is the default sink when no
// Telegram credentials are configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Info("posting matched profile",
		"posting_id", msg.PostingID,
		"name", msg.Name,
		"score", msg.Score,
		"tags", strings.Join(msg.Tags, ","),
	)
	return nil
}
