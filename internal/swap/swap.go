// Package swap quotes and executes corrective swaps through a routing API.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"pegkeeper/internal/domain"
)

// SigningMode selects who signs the swap transaction.
type SigningMode string

const (
	// SigningRemote lets the routing API sign and submit.
	SigningRemote SigningMode = "remote"
	// SigningUnsigned returns the unsigned payload for external signing.
	SigningUnsigned SigningMode = "unsigned"
	// SigningLocal signs the returned payload with the local key and submits it over RPC.
	SigningLocal SigningMode = "local"
)

// Executor executes a trade order for a wallet.
type Executor interface {
	Execute(ctx context.Context, order domain.TradeOrder, walletAddress string) (domain.SwapResult, error)
}

// PriceSource observes the pegged asset's market price in reference units.
type PriceSource interface {
	AssetPrice(ctx context.Context) (decimal.Decimal, error)
}

// Options parameterise the routing API client.
type Options struct {
	BaseURL           string
	APIKey            string
	PeggedMint        string
	ReferenceMint     string
	PeggedDecimals    int32
	ReferenceDecimals int32
	SlippageBps       int
	PriceSlippageBps  int
	MaxPriceImpactPct decimal.Decimal
	Mode              SigningMode
	RequestsPerSecond float64
	Timeout           time.Duration
	UserAgent         string
}

// Quote is the routing API's priced route.
type Quote struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct decimal.Decimal `json:"priceImpactPct"`
	RoutePlan      json.RawMessage `json:"routePlan"`
	SlippageBps    int             `json:"slippageBps"`
}

type swapRequest struct {
	InputMint     string `json:"inputMint"`
	OutputMint    string `json:"outputMint"`
	Amount        string `json:"amount"`
	WalletAddress string `json:"walletAddress"`
	SlippageBps   int    `json:"slippageBps"`
	UnsignedTx    bool   `json:"unsignedTx"`
}

type swapResponse struct {
	Signature      string          `json:"signature"`
	InputAmount    string          `json:"inputAmount"`
	OutputAmount   string          `json:"outputAmount"`
	PriceImpactPct decimal.Decimal `json:"priceImpactPct"`
	Transaction    string          `json:"transaction"`
}

// Client talks to the routing API. It is both the swap executor and the market-price source.
type Client struct {
	opts    Options
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	signer  *LocalSigner
	logger  zerolog.Logger
}

// NewClient builds a routing API client. signer is required only in local signing mode.
func NewClient(opts Options, signer *LocalSigner, logger zerolog.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("swap api base url not configured")
	}
	if opts.PeggedMint == "" || opts.ReferenceMint == "" {
		return nil, fmt.Errorf("pegged and reference mints required")
	}
	if opts.Mode == "" {
		opts.Mode = SigningRemote
	}
	if opts.Mode == SigningLocal && signer == nil {
		return nil, fmt.Errorf("local signing mode requires a signer")
	}
	if opts.SlippageBps <= 0 {
		opts.SlippageBps = 50
	}
	if opts.PriceSlippageBps <= 0 {
		opts.PriceSlippageBps = 100
	}
	if opts.PeggedDecimals <= 0 {
		opts.PeggedDecimals = 6
	}
	if opts.ReferenceDecimals <= 0 {
		opts.ReferenceDecimals = 6
	}
	if opts.MaxPriceImpactPct.IsNegative() {
		return nil, fmt.Errorf("max price impact cannot be negative, got %s", opts.MaxPriceImpactPct)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		opts:    opts,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		signer:  signer,
		logger:  logger.With().Str("component", "swap_client").Logger(),
	}, nil
}

// Execute quotes the order, flags excessive price impact and submits the swap.
func (c *Client) Execute(ctx context.Context, order domain.TradeOrder, walletAddress string) (domain.SwapResult, error) {
	if walletAddress == "" {
		return domain.SwapResult{}, fmt.Errorf("%w: wallet address required", domain.ErrExecutionFailed)
	}

	inputMint, outputMint, decimals, err := c.route(order.Action)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
	}

	atoms, err := toAtoms(order.Amount, decimals)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
	}

	quote, err := c.GetQuote(ctx, inputMint, outputMint, atoms, c.opts.SlippageBps)
	if err != nil {
		return domain.SwapResult{}, err
	}

	highImpact := quote.PriceImpactPct.GreaterThan(c.opts.MaxPriceImpactPct)
	if highImpact {
		c.logger.Warn().
			Str("action", string(order.Action)).
			Str("price_impact_pct", quote.PriceImpactPct.String()).
			Str("max_price_impact_pct", c.opts.MaxPriceImpactPct.String()).
			Msg("high price impact; proceeding with swap")
	}

	unsigned := c.opts.Mode != SigningRemote
	resp, err := c.swap(ctx, swapRequest{
		InputMint:     inputMint,
		OutputMint:    outputMint,
		Amount:        atoms,
		WalletAddress: walletAddress,
		SlippageBps:   c.opts.SlippageBps,
		UnsignedTx:    unsigned,
	})
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("%w: %v", domain.ErrExecutionFailed, err)
	}

	result := domain.SwapResult{
		InputAmount:    firstNonEmpty(resp.InputAmount, quote.InAmount, atoms),
		OutputAmount:   firstNonEmpty(resp.OutputAmount, quote.OutAmount),
		PriceImpactPct: quote.PriceImpactPct,
		HighImpact:     highImpact,
	}

	switch c.opts.Mode {
	case SigningUnsigned:
		if resp.Transaction == "" {
			return domain.SwapResult{}, fmt.Errorf("%w: unsigned transaction missing from response", domain.ErrExecutionFailed)
		}
		result.UnsignedTransaction = resp.Transaction
		c.logger.Info().Str("action", string(order.Action)).Msg("unsigned swap transaction returned for external signing")
	case SigningLocal:
		if resp.Transaction == "" {
			return domain.SwapResult{}, fmt.Errorf("%w: transaction missing from response", domain.ErrExecutionFailed)
		}
		sig, err := c.signer.SignAndSend(ctx, resp.Transaction)
		if err != nil {
			return domain.SwapResult{}, fmt.Errorf("%w: %v", domain.ErrExecutionFailed, err)
		}
		result.Signature = sig
	default:
		if resp.Signature == "" {
			return domain.SwapResult{}, fmt.Errorf("%w: signature missing from response", domain.ErrExecutionFailed)
		}
		result.Signature = resp.Signature
	}

	c.logger.Info().
		Str("action", string(order.Action)).
		Str("amount", order.Amount.String()).
		Str("signature", result.Signature).
		Bool("high_impact", highImpact).
		Msg("swap executed")
	return result, nil
}

// AssetPrice quotes one pegged unit into the reference asset.
func (c *Client) AssetPrice(ctx context.Context) (decimal.Decimal, error) {
	one := decimal.New(1, c.opts.PeggedDecimals).String()
	quote, err := c.GetQuote(ctx, c.opts.PeggedMint, c.opts.ReferenceMint, one, c.opts.PriceSlippageBps)
	if err != nil {
		return decimal.Decimal{}, err
	}

	out, err := decimal.NewFromString(quote.OutAmount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: parse outAmount %q: %v", domain.ErrQuoteUnavailable, quote.OutAmount, err)
	}
	price := out.Shift(-c.opts.ReferenceDecimals)
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: non-positive asset price %s", domain.ErrQuoteUnavailable, price)
	}
	return price, nil
}

// GetQuote prices a route. amount is in the input asset's smallest units.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint, amount string, slippageBps int) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", amount)
	q.Set("slippageBps", strconv.Itoa(slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
	}

	var out Quote
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
	}
	if out.OutAmount == "" {
		return nil, fmt.Errorf("%w: quote has no outAmount", domain.ErrQuoteUnavailable)
	}

	c.logger.Debug().
		Str("input_mint", inputMint).
		Str("output_mint", outputMint).
		Str("in_amount", amount).
		Str("out_amount", out.OutAmount).
		Str("price_impact_pct", out.PriceImpactPct.String()).
		Msg("quote received")
	return &out, nil
}

func (c *Client) swap(ctx context.Context, payload swapRequest) (*swapResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out swapResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// route maps BUY to reference -> pegged and SELL to pegged -> reference.
func (c *Client) route(action domain.Action) (string, string, int32, error) {
	switch action {
	case domain.ActionBuy:
		return c.opts.ReferenceMint, c.opts.PeggedMint, c.opts.ReferenceDecimals, nil
	case domain.ActionSell:
		return c.opts.PeggedMint, c.opts.ReferenceMint, c.opts.PeggedDecimals, nil
	default:
		return "", "", 0, fmt.Errorf("no swap route for action %q", action)
	}
}

func toAtoms(amount decimal.Decimal, decimals int32) (string, error) {
	atoms := amount.Shift(decimals).Floor()
	if !atoms.IsPositive() {
		return "", fmt.Errorf("amount %s rounds to zero", amount)
	}
	return atoms.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var (
	_ Executor    = (*Client)(nil)
	_ PriceSource = (*Client)(nil)
)
