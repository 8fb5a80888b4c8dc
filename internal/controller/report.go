package controller

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pegkeeper/internal/domain"
	"pegkeeper/internal/ledger"
	"pegkeeper/internal/peg"
	"pegkeeper/internal/storage"
)

// Step names used in logs, metrics and persisted samples.
const (
	StepLock       = "lock"
	StepFeed       = "feed"
	StepPublish    = "publish"
	StepAssetPrice = "asset_price"
	StepTrade      = "trade"
)

// Report is the outcome of one iteration. Fields of steps that never ran stay zero.
type Report struct {
	IterationID  uuid.UUID
	StartedAt    time.Time
	Duration     time.Duration
	Skipped      bool
	ExchangeRate decimal.NullDecimal
	Publication  *ledger.Publication
	AssetPrice   decimal.NullDecimal
	Verdict      *peg.Verdict
	Action       domain.Action
	Order        *domain.TradeOrder
	Swap         *domain.SwapResult
	FailedStep   string
	Err          error
}

// Failed reports whether any step failed.
func (r Report) Failed() bool {
	return r.FailedStep != ""
}

func (r *Report) fail(step string, err error) {
	r.FailedStep = step
	r.Err = err
}

// logSummary writes the one-line structured iteration summary.
func (r Report) logSummary(logger zerolog.Logger) {
	ev := logger.Info()
	if r.Failed() {
		ev = logger.Warn().Str("failed_step", r.FailedStep).Err(r.Err)
	}
	if r.ExchangeRate.Valid {
		ev = ev.Str("exchange_rate", r.ExchangeRate.Decimal.String())
	}
	if r.Publication != nil {
		ev = ev.Uint64("published_price", r.Publication.Price).Str("publish_ref", r.Publication.Reference)
	}
	if r.AssetPrice.Valid {
		ev = ev.Str("asset_price", r.AssetPrice.Decimal.String())
	}
	if r.Verdict != nil {
		ev = ev.Str("deviation_pct", r.Verdict.DeviationPct().StringFixed(4)).Bool("stable", r.Verdict.Stable)
	}
	if r.Action != "" {
		ev = ev.Str("action", string(r.Action))
	}
	if r.Order != nil {
		ev = ev.Str("amount", r.Order.Amount.String())
	}
	if r.Swap != nil {
		ev = ev.Str("signature", r.Swap.Signature).
			Bool("high_impact", r.Swap.HighImpact).
			Bool("deferred", r.Swap.Deferred())
	}
	ev.Dur("duration", r.Duration).Msg("iteration complete")
}

func (r Report) sample() storage.PegSample {
	sample := storage.PegSample{
		IterationID:  r.IterationID,
		StartedAt:    r.StartedAt,
		ExchangeRate: r.ExchangeRate,
		AssetPrice:   r.AssetPrice,
		Action:       string(r.Action),
		Status:       storage.StatusComplete,
		DurationMS:   r.Duration.Milliseconds(),
	}
	if r.Publication != nil {
		price := int64(r.Publication.Price)
		sample.PublishedPrice = &price
		if r.Publication.Reference != "" {
			ref := r.Publication.Reference
			sample.PublishRef = &ref
		}
	}
	if r.Verdict != nil {
		sample.DeviationPct = decimal.NewNullDecimal(r.Verdict.DeviationPct())
	}
	if r.Failed() {
		step := r.FailedStep
		sample.Status = storage.StatusFailed
		sample.FailedStep = &step
		if r.Err != nil {
			msg := r.Err.Error()
			sample.Error = &msg
		}
	}
	return sample
}

// trade returns the execution record for an iteration that built an order.
func (r Report) trade() (storage.TradeExecution, bool) {
	if r.Order == nil {
		return storage.TradeExecution{}, false
	}
	rec := storage.TradeExecution{
		IterationID: r.IterationID,
		Action:      string(r.Order.Action),
		Amount:      r.Order.Amount,
	}
	if r.Swap != nil {
		rec.Signature = optional(r.Swap.Signature)
		rec.InputAmount = optional(r.Swap.InputAmount)
		rec.OutputAmount = optional(r.Swap.OutputAmount)
		rec.PriceImpactPct = decimal.NewNullDecimal(r.Swap.PriceImpactPct)
		rec.HighImpact = r.Swap.HighImpact
		rec.Deferred = r.Swap.Deferred()
	}
	if r.FailedStep == StepTrade && r.Err != nil {
		rec.Error = optional(r.Err.Error())
	}
	return rec, true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Snapshot is the JSON view served on /status.
type Snapshot struct {
	State               string        `json:"state"`
	Iterations          uint64        `json:"iterations"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Last                *ReportStatus `json:"last,omitempty"`
}

// ReportStatus is the JSON view of a Report.
type ReportStatus struct {
	IterationID    string    `json:"iteration_id"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
	Skipped        bool      `json:"skipped,omitempty"`
	ExchangeRate   string    `json:"exchange_rate,omitempty"`
	PublishedPrice uint64    `json:"published_price,omitempty"`
	PublishRef     string    `json:"publish_ref,omitempty"`
	AssetPrice     string    `json:"asset_price,omitempty"`
	DeviationPct   string    `json:"deviation_pct,omitempty"`
	Action         string    `json:"action,omitempty"`
	Signature      string    `json:"signature,omitempty"`
	FailedStep     string    `json:"failed_step,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Status returns the JSON view of the report.
func (r Report) Status() *ReportStatus {
	out := &ReportStatus{
		IterationID: r.IterationID.String(),
		StartedAt:   r.StartedAt,
		DurationMS:  r.Duration.Milliseconds(),
		Skipped:     r.Skipped,
		Action:      string(r.Action),
		FailedStep:  r.FailedStep,
	}
	if r.ExchangeRate.Valid {
		out.ExchangeRate = r.ExchangeRate.Decimal.String()
	}
	if r.Publication != nil {
		out.PublishedPrice = r.Publication.Price
		out.PublishRef = r.Publication.Reference
	}
	if r.AssetPrice.Valid {
		out.AssetPrice = r.AssetPrice.Decimal.String()
	}
	if r.Verdict != nil {
		out.DeviationPct = r.Verdict.DeviationPct().StringFixed(4)
	}
	if r.Swap != nil {
		out.Signature = r.Swap.Signature
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}
