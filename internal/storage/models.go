package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sample statuses.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// PegSample is one persisted control-loop iteration. Fields a failed step never reached stay null.
type PegSample struct {
	IterationID    uuid.UUID
	StartedAt      time.Time
	ExchangeRate   decimal.NullDecimal
	PublishedPrice *int64
	PublishRef     *string
	AssetPrice     decimal.NullDecimal
	DeviationPct   decimal.NullDecimal
	Action         string
	Status         string
	FailedStep     *string
	Error          *string
	DurationMS     int64
	CreatedAt      time.Time
}

// TradeExecution records a dispatched corrective swap and its outcome.
type TradeExecution struct {
	ID             int64
	IterationID    uuid.UUID
	Action         string
	Amount         decimal.Decimal
	Signature      *string
	InputAmount    *string
	OutputAmount   *string
	PriceImpactPct decimal.NullDecimal
	HighImpact     bool
	Deferred       bool
	Error          *string
	CreatedAt      time.Time
}
