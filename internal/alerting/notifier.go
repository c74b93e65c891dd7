package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kinds of price-hour notices.
const (
	KindCheapest = "cheapest"
	KindPriciest = "priciest"
)

// Notification carries the context of one price-hour notice.
type Notification struct {
	Entry      string
	PostalCode string
	Kind       string
	HourStart  time.Time
	Price      decimal.Decimal
	// DayLow and DayHigh frame the price within today's range.
	DayLow  decimal.Decimal
	DayHigh decimal.Decimal
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().Str("entry", note.Entry).
		Str("kind", note.Kind).
		Time("hour_start", note.HourStart).
		Msg("price notice sent (Telegram)")
	return nil
}

// LogNotifier writes notices to the log only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered message.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info().Str("entry", note.Entry).
		Str("kind", note.Kind).
		Str("price", note.Price.String()).
		Time("hour_start", note.HourStart).
		Msg(firstLine(note))
	return nil
}

func firstLine(note Notification) string {
	switch note.Kind {
	case KindPriciest:
		return fmt.Sprintf("[%s] Most expensive hour of the day", note.Entry)
	default:
		return fmt.Sprintf("[%s] Cheapest hour of the day", note.Entry)
	}
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(firstLine(note))
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Postal code: %s\n", note.PostalCode))
	builder.WriteString(fmt.Sprintf("Hour: %s\n", note.HourStart.Format("2006-01-02 15:04 -07:00")))
	builder.WriteString(fmt.Sprintf("Price: %s EUR/kWh\n", note.Price.StringFixed(4)))
	if !note.DayLow.IsZero() || !note.DayHigh.IsZero() {
		builder.WriteString(fmt.Sprintf("Today: %s to %s EUR/kWh\n", note.DayLow.StringFixed(4), note.DayHigh.StringFixed(4)))
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
