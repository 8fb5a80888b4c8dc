package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertSampleSQL = `INSERT INTO peg_samples (
        iteration_id,
        started_at,
        exchange_rate,
        published_price,
        publish_ref,
        asset_price,
        deviation_pct,
        action,
        status,
        failed_step,
        error,
        duration_ms
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (iteration_id) DO NOTHING;`

	sampleColumns = `iteration_id,
        started_at,
        exchange_rate,
        published_price,
        publish_ref,
        asset_price,
        deviation_pct,
        action,
        status,
        failed_step,
        error,
        duration_ms,
        created_at`

	listSamplesBetweenSQL = `SELECT ` + sampleColumns + `
    FROM peg_samples
    WHERE started_at >= $1
      AND started_at < $2
    ORDER BY started_at;`

	listRecentSamplesSQL = `SELECT ` + sampleColumns + `
    FROM peg_samples
    ORDER BY started_at DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM peg_samples;`

	insertTradeSQL = `INSERT INTO trade_executions (
        iteration_id,
        action,
        amount,
        signature,
        input_amount,
        output_amount,
        price_impact_pct,
        high_impact,
        deferred,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING id, created_at;`

	tradeColumns = `id,
        iteration_id,
        action,
        amount,
        signature,
        input_amount,
        output_amount,
        price_impact_pct,
        high_impact,
        deferred,
        error,
        created_at`

	listRecentTradesSQL = `SELECT ` + tradeColumns + `
    FROM trade_executions
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	listTradesBetweenSQL = `SELECT ` + tradeColumns + `
    FROM trade_executions
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at, id;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore persists control-loop iterations.
type SampleStore interface {
	InsertSample(ctx context.Context, sample PegSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PegSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]PegSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// TradeStore persists swap executions.
type TradeStore interface {
	InsertTrade(ctx context.Context, trade TradeExecution) (TradeExecution, error)
	ListRecentTrades(ctx context.Context, limit int) ([]TradeExecution, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to samples and trades.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// the session lock dies with the connection
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSample persists an iteration. Re-inserting the same iteration is a no-op.
func (s *Store) InsertSample(ctx context.Context, sample PegSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSampleSQL,
		sample.IterationID,
		sample.StartedAt,
		nullDecimalArg(sample.ExchangeRate),
		sample.PublishedPrice,
		sample.PublishRef,
		nullDecimalArg(sample.AssetPrice),
		nullDecimalArg(sample.DeviationPct),
		sample.Action,
		sample.Status,
		sample.FailedStep,
		sample.Error,
		sample.DurationMS,
	)
	if execErr != nil {
		return fmt.Errorf("insert peg sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PegSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples, newest first.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]PegSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertTrade persists a swap execution and returns it with its id.
func (s *Store) InsertTrade(ctx context.Context, trade TradeExecution) (TradeExecution, error) {
	pool, err := s.getPool()
	if err != nil {
		return TradeExecution{}, err
	}

	row := pool.QueryRow(ctx, insertTradeSQL,
		trade.IterationID,
		trade.Action,
		trade.Amount.String(),
		trade.Signature,
		trade.InputAmount,
		trade.OutputAmount,
		nullDecimalArg(trade.PriceImpactPct),
		trade.HighImpact,
		trade.Deferred,
		trade.Error,
	)
	if scanErr := row.Scan(&trade.ID, &trade.CreatedAt); scanErr != nil {
		return TradeExecution{}, fmt.Errorf("insert trade execution: %w", scanErr)
	}
	return trade, nil
}

// ListRecentTrades lists the most recent trades, newest first.
func (s *Store) ListRecentTrades(ctx context.Context, limit int) ([]TradeExecution, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTradesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent trades: %w", queryErr)
	}
	defer rows.Close()

	return collectTrades(rows, limit)
}

// ListTradesBetween returns trades recorded in [from, to) ordered by time.
func (s *Store) ListTradesBetween(ctx context.Context, from, to time.Time) ([]TradeExecution, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTradesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list trades between: %w", queryErr)
	}
	defer rows.Close()

	return collectTrades(rows, 0)
}

func collectTrades(rows pgx.Rows, capacity int) ([]TradeExecution, error) {
	trades := make([]TradeExecution, 0, capacity)
	for rows.Next() {
		var (
			rec       TradeExecution
			amountStr string
			impactStr *string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.IterationID,
			&rec.Action,
			&amountStr,
			&rec.Signature,
			&rec.InputAmount,
			&rec.OutputAmount,
			&impactStr,
			&rec.HighImpact,
			&rec.Deferred,
			&rec.Error,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if rec.Amount, convErr = decimal.NewFromString(amountStr); convErr != nil {
			return nil, fmt.Errorf("parse trade amount: %w", convErr)
		}
		if rec.PriceImpactPct, convErr = parseNullDecimal(impactStr); convErr != nil {
			return nil, fmt.Errorf("parse price impact: %w", convErr)
		}
		trades = append(trades, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return trades, nil
}

func collectSamples(rows pgx.Rows, capacity int) ([]PegSample, error) {
	samples := make([]PegSample, 0, capacity)
	for rows.Next() {
		sample, scanErr := scanPegSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanPegSample(rows pgx.Rows) (PegSample, error) {
	var (
		sample       PegSample
		rateStr      *string
		assetStr     *string
		deviationStr *string
		iterationID  uuid.UUID
	)

	if err := rows.Scan(
		&iterationID,
		&sample.StartedAt,
		&rateStr,
		&sample.PublishedPrice,
		&sample.PublishRef,
		&assetStr,
		&deviationStr,
		&sample.Action,
		&sample.Status,
		&sample.FailedStep,
		&sample.Error,
		&sample.DurationMS,
		&sample.CreatedAt,
	); err != nil {
		return PegSample{}, err
	}
	sample.IterationID = iterationID

	var err error
	if sample.ExchangeRate, err = parseNullDecimal(rateStr); err != nil {
		return PegSample{}, fmt.Errorf("parse exchange rate: %w", err)
	}
	if sample.AssetPrice, err = parseNullDecimal(assetStr); err != nil {
		return PegSample{}, fmt.Errorf("parse asset price: %w", err)
	}
	if sample.DeviationPct, err = parseNullDecimal(deviationStr); err != nil {
		return PegSample{}, fmt.Errorf("parse deviation pct: %w", err)
	}
	return sample, nil
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(raw *string) (decimal.NullDecimal, error) {
	if raw == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
