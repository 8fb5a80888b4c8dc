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

// Kind classifies a notification.
type Kind string

const (
	// KindPegBreak fires when the asset price leaves the tolerance band.
	KindPegBreak Kind = "peg_break"
	// KindTrade fires after a corrective swap was dispatched.
	KindTrade Kind = "trade"
	// KindFailures fires when consecutive failed iterations reach the configured threshold.
	KindFailures Kind = "consecutive_failures"
)

// Notification 封装告警上下文。
type Notification struct {
	Kind                Kind
	IterationID         string
	At                  time.Time
	AssetPrice          decimal.Decimal
	TargetPrice         decimal.Decimal
	DeviationPct        decimal.Decimal
	TolerancePct        decimal.Decimal
	Action              string
	Amount              decimal.Decimal
	Signature           string
	HighImpact          bool
	FailedStep          string
	ConsecutiveFailures int
	Error               string
	AdditionalMsg       string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
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

// Notify 调用 sendMessage API 推送文本。
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
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("kind", string(note.Kind)).
		Str("iteration_id", note.IterationID).
		Msg("alert sent (telegram)")
	return nil
}

// LogNotifier writes notifications to the log. Used when no channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a notifier backed by the logger.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered message.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Warn().
		Str("kind", string(note.Kind)).
		Str("iteration_id", note.IterationID).
		Msg(renderMessage(note))
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindPegBreak:
		builder.WriteString("[BRL-A Peg Alert]\n")
		builder.WriteString(fmt.Sprintf("Price: %s (target %s)\n", note.AssetPrice.StringFixed(4), note.TargetPrice.StringFixed(4)))
		builder.WriteString(fmt.Sprintf("Deviation: %s%% (tolerance %s%%)\n", note.DeviationPct.StringFixed(3), note.TolerancePct.StringFixed(3)))
		if note.Action != "" {
			builder.WriteString(fmt.Sprintf("Action: %s\n", note.Action))
		}
	case KindTrade:
		builder.WriteString("[BRL-A Corrective Swap]\n")
		builder.WriteString(fmt.Sprintf("Action: %s %s\n", note.Action, note.Amount.String()))
		if note.Signature != "" {
			builder.WriteString(fmt.Sprintf("Signature: %s\n", note.Signature))
		}
		if note.HighImpact {
			builder.WriteString("Warning: price impact above ceiling\n")
		}
	case KindFailures:
		builder.WriteString("[BRL-A Agent Failing]\n")
		builder.WriteString(fmt.Sprintf("Consecutive failed iterations: %d\n", note.ConsecutiveFailures))
		if note.FailedStep != "" {
			builder.WriteString(fmt.Sprintf("Last failed step: %s\n", note.FailedStep))
		}
	default:
		builder.WriteString("[BRL-A Alert]\n")
	}
	if note.Error != "" {
		builder.WriteString(fmt.Sprintf("Error: %s\n", note.Error))
	}
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	}
	if note.IterationID != "" {
		builder.WriteString(fmt.Sprintf("Iteration: %s\n", note.IterationID))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
