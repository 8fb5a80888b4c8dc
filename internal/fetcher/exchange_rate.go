package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"pegkeeper/internal/domain"
)

const (
	defaultFeedURL  = "https://economia.awesomeapi.com.br/json/last/USD-BRL"
	defaultRatePath = "USDBRL.bid"
	maxBodyBytes    = 1 << 20
)

// HTTPOptions parameterise the remote exchange-rate feed.
type HTTPOptions struct {
	URL       string
	RatePath  string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// HTTP polls a JSON endpoint and extracts the rate with a gjson path.
type HTTP struct {
	opts   HTTPOptions
	logger zerolog.Logger
	client *http.Client
}

// NewHTTP constructs a feed fetcher.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(opts.URL) == "" {
		opts.URL = defaultFeedURL
	}
	if strings.TrimSpace(opts.RatePath) == "" {
		opts.RatePath = defaultRatePath
	}

	return &HTTP{
		opts:   opts,
		logger: logger.With().Str("component", "rate_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// FetchRate retrieves the current rate. Every failure wraps domain.ErrFeedUnavailable.
func (h *HTTP) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.opts.URL, nil)
	if err != nil {
		return decimal.Decimal{}, feedError("build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if h.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.opts.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, feedError("request %s: %v", h.opts.URL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return decimal.Decimal{}, feedError("read body: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Decimal{}, feedError("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	rate, err := parseRate(payload, h.opts.RatePath)
	if err != nil {
		return decimal.Decimal{}, err
	}

	h.logger.Debug().Str("rate", rate.String()).Msg("exchange rate fetched")
	return rate, nil
}

func parseRate(payload []byte, path string) (decimal.Decimal, error) {
	if !gjson.ValidBytes(payload) {
		return decimal.Decimal{}, feedError("response is not valid json")
	}

	field := gjson.GetBytes(payload, path)
	if !field.Exists() {
		return decimal.Decimal{}, feedError("field %q missing", path)
	}

	var raw string
	switch field.Type {
	case gjson.String:
		raw = strings.TrimSpace(field.Str)
	case gjson.Number:
		raw = field.Raw
	default:
		return decimal.Decimal{}, feedError("field %q has unsupported type %s", path, field.Type)
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, feedError("field %q is not numeric: %q", path, raw)
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, feedError("field %q must be positive, got %s", path, rate)
	}
	return rate, nil
}

func feedError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrFeedUnavailable, fmt.Sprintf(format, args...))
}

var _ ExchangeRateFetcher = (*HTTP)(nil)
