package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"pegkeeper/internal/config"
	"pegkeeper/internal/domain"
)

var (
	pgSetupOnce sync.Once

	pgContainer *tcpg.PostgresContainer
	pgConnStr   string
	pgSetupErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if pgContainer != nil {
		_ = pgContainer.Terminate(context.Background())
	}
	os.Exit(code)
}

func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	pgSetupOnce.Do(startPostgres)
	require.NoError(t, pgSetupErr)

	ctx := context.Background()
	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: pgConnStr, MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE TABLE trade_executions, peg_samples`)
	require.NoError(t, err)

	return NewStore(pool), pool
}

func startPostgres() {
	ctx := context.Background()
	pg, err := tcpg.Run(ctx,
		"postgres:16-alpine",
		tcpg.WithDatabase("pegkeeper"),
		tcpg.WithUsername("postgres"),
		tcpg.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		pgSetupErr = err
		return
	}
	pgContainer = pg

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		pgSetupErr = err
		return
	}
	if err := Migrate(ctx, dsn); err != nil {
		pgSetupErr = err
		return
	}
	pgConnStr = dsn
}

func strPtr(s string) *string { return &s }

func TestStoreSamplesRoundTrip(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	price := int64(5856789)
	complete := PegSample{
		IterationID:    uuid.New(),
		StartedAt:      base,
		ExchangeRate:   decimal.NewNullDecimal(decimal.RequireFromString("5.8567891")),
		PublishedPrice: &price,
		PublishRef:     strPtr("sig-1"),
		AssetPrice:     decimal.NewNullDecimal(decimal.RequireFromString("1.03")),
		DeviationPct:   decimal.NewNullDecimal(decimal.RequireFromString("3")),
		Action:         "SELL",
		Status:         StatusComplete,
		DurationMS:     420,
	}
	failed := PegSample{
		IterationID: uuid.New(),
		StartedAt:   base.Add(time.Minute),
		Status:      StatusFailed,
		FailedStep:  strPtr("feed"),
		Error:       strPtr("feed unavailable: status 503"),
	}

	require.NoError(t, store.InsertSample(ctx, complete))
	require.NoError(t, store.InsertSample(ctx, failed))
	require.NoError(t, store.InsertSample(ctx, failed), "duplicate insert is ignored")

	count, err := store.CountSamples(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	recent, err := store.ListRecentSamples(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, failed.IterationID, recent[0].IterationID)
	require.False(t, recent[0].ExchangeRate.Valid)
	require.Nil(t, recent[0].PublishedPrice)
	require.Equal(t, "feed", *recent[0].FailedStep)

	got := recent[1]
	require.Equal(t, complete.IterationID, got.IterationID)
	require.True(t, got.ExchangeRate.Decimal.Equal(complete.ExchangeRate.Decimal))
	require.Equal(t, price, *got.PublishedPrice)
	require.True(t, got.AssetPrice.Decimal.Equal(decimal.RequireFromString("1.03")))
	require.Equal(t, "SELL", got.Action)
	require.Equal(t, int64(420), got.DurationMS)

	window, err := store.ListSamplesBetween(ctx, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, complete.IterationID, window[0].IterationID)
}

func TestStoreSampleWithExtremeDeviation(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	deviation := decimal.RequireFromString("249999900.1234567890123456")
	sample := PegSample{
		IterationID:  uuid.New(),
		StartedAt:    time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC),
		AssetPrice:   decimal.NewNullDecimal(decimal.RequireFromString("2499999.00123456")),
		DeviationPct: decimal.NewNullDecimal(deviation),
		Action:       "SELL",
		Status:       StatusComplete,
	}
	require.NoError(t, store.InsertSample(ctx, sample))

	recent, err := store.ListRecentSamples(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, sample.IterationID, recent[0].IterationID)
	require.True(t, recent[0].DeviationPct.Decimal.Equal(deviation), "got %s", recent[0].DeviationPct.Decimal)
}

func TestStoreTrades(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	iteration := uuid.New()
	require.NoError(t, store.InsertSample(ctx, PegSample{
		IterationID: iteration,
		StartedAt:   time.Now().UTC(),
		Action:      "BUY",
		Status:      StatusComplete,
	}))

	saved, err := store.InsertTrade(ctx, TradeExecution{
		IterationID:    iteration,
		Action:         "BUY",
		Amount:         decimal.NewFromInt(100),
		Signature:      strPtr("5xSig"),
		OutputAmount:   strPtr("99000000"),
		PriceImpactPct: decimal.NewNullDecimal(decimal.RequireFromString("1.25")),
		HighImpact:     true,
	})
	require.NoError(t, err)
	require.NotZero(t, saved.ID)
	require.False(t, saved.CreatedAt.IsZero())

	trades, err := store.ListRecentTrades(ctx, 5)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, iteration, trades[0].IterationID)
	require.True(t, trades[0].Amount.Equal(decimal.NewFromInt(100)))
	require.True(t, trades[0].HighImpact)
	require.Nil(t, trades[0].InputAmount)
	require.True(t, trades[0].PriceImpactPct.Decimal.Equal(decimal.RequireFromString("1.25")))

	window, err := store.ListTradesBetween(ctx, saved.CreatedAt.Add(-time.Minute), saved.CreatedAt.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, saved.ID, window[0].ID)

	empty, err := store.ListTradesBetween(ctx, saved.CreatedAt.Add(time.Minute), saved.CreatedAt.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestStoreAdvisoryLock(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	unlock, ok, err := store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	require.False(t, ok, "second session must not acquire a held lock")

	unlock()

	unlock, ok, err = store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	require.True(t, ok)
	unlock()
}

func TestStoreNotConfigured(t *testing.T) {
	var store *Store
	require.ErrorIs(t, store.InsertSample(context.Background(), PegSample{}), ErrNotConfigured)
	_, err := store.ListRecentTrades(context.Background(), 1)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewPoolConfigurationErrors(t *testing.T) {
	_, err := NewPool(context.Background(), config.DatabaseConfig{})
	require.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewPool(context.Background(), config.DatabaseConfig{DSN: "postgres://%zz"})
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestMigrationVersionIsLatest(t *testing.T) {
	setupStore(t)

	version, err := MigrationVersion(context.Background(), pgConnStr)
	require.NoError(t, err)
	require.Equal(t, int64(3), version)
}
