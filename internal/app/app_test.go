package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pegkeeper/internal/config"
	"pegkeeper/internal/controller"
	"pegkeeper/internal/domain"
	"pegkeeper/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Loop: config.LoopConfig{
			Interval:    time.Minute,
			StepTimeout: time.Second,
		},
		Peg: config.PegConfig{
			Target:      1,
			Tolerance:   0.02,
			TradeAmount: 100,
		},
		Ledger: config.LedgerConfig{Driver: config.LedgerMemory},
		Export: config.ExportConfig{MaxDataPoints: 100},
	}
}

func newTestApp() (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	a := NewApp(testConfig(), zerolog.Nop())
	a.Out = out
	return a, out
}

func TestSimulateSellAboveBand(t *testing.T) {
	a, out := newTestApp()

	report, err := a.Simulate(context.Background(), SimulateOptions{
		Rate:  decimal.RequireFromString("5.85"),
		Price: decimal.RequireFromString("1.03"),
	})
	require.NoError(t, err)
	require.False(t, report.Failed())
	require.Equal(t, domain.ActionSell, report.Action)
	require.NotNil(t, report.Publication)
	require.Equal(t, uint64(5850000), report.Publication.Price)
	require.NotNil(t, report.Swap)
	require.Equal(t, "dry-run", report.Swap.Signature)

	var status controller.ReportStatus
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	require.Equal(t, "SELL", status.Action)
	require.Equal(t, "dry-run", status.Signature)
	require.Equal(t, uint64(5850000), status.PublishedPrice)
}

func TestSimulateHoldInsideBand(t *testing.T) {
	a, _ := newTestApp()

	report, err := a.Simulate(context.Background(), SimulateOptions{
		Rate:  decimal.RequireFromString("5.85"),
		Price: decimal.RequireFromString("1.01"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.ActionHold, report.Action)
	require.Nil(t, report.Swap)
}

func TestSimulateRejectsNonPositiveInputs(t *testing.T) {
	a, _ := newTestApp()

	_, err := a.Simulate(context.Background(), SimulateOptions{Rate: decimal.Zero, Price: decimal.NewFromInt(1)})
	require.Error(t, err)

	_, err = a.Simulate(context.Background(), SimulateOptions{Rate: decimal.NewFromInt(5), Price: decimal.NewFromInt(-1)})
	require.Error(t, err)
}

func TestCommandsRequireDatabase(t *testing.T) {
	a, _ := newTestApp()
	ctx := context.Background()

	require.Error(t, a.Show(ctx, ShowOptions{Limit: 5}))
	require.Error(t, a.Migrate(ctx))
	require.Error(t, a.Export(ctx, ExportOptions{CSVPath: filepath.Join(t.TempDir(), "out.csv")}))
	require.Error(t, a.Export(ctx, ExportOptions{}), "no output requested")
	require.Error(t, a.Export(ctx, ExportOptions{TradesCSVPath: filepath.Join(t.TempDir(), "trades.csv")}))
}

func TestOracleCommandsOnMemoryDriver(t *testing.T) {
	a, _ := newTestApp()
	ctx := context.Background()

	err := a.OracleShow(ctx)
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable, "nothing published yet")

	require.Error(t, a.OracleInit(ctx), "init needs the solana driver")
}

func TestRunRejectsIncompleteConfig(t *testing.T) {
	a, _ := newTestApp()
	err := a.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func pegSample(at time.Time, price string, action string) storage.PegSample {
	published := int64(5850000)
	asset := decimal.RequireFromString(price)
	deviation := asset.Sub(decimal.NewFromInt(1)).Abs().Mul(decimal.NewFromInt(100))
	return storage.PegSample{
		IterationID:    uuid.New(),
		StartedAt:      at,
		ExchangeRate:   decimal.NewNullDecimal(decimal.RequireFromString("5.85")),
		PublishedPrice: &published,
		AssetPrice:     decimal.NewNullDecimal(asset),
		DeviationPct:   decimal.NewNullDecimal(deviation),
		Action:         action,
		Status:         storage.StatusComplete,
	}
}

func TestDownsampleSamples(t *testing.T) {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	samples := make([]storage.PegSample, 10)
	for i := range samples {
		samples[i] = pegSample(base.Add(time.Duration(i)*time.Minute), "1.0", "HOLD")
	}

	require.Len(t, downsampleSamples(samples, 0), 10)
	require.Len(t, downsampleSamples(samples, 20), 10)

	one := downsampleSamples(samples, 1)
	require.Len(t, one, 1)
	require.Equal(t, samples[9].IterationID, one[0].IterationID)

	three := downsampleSamples(samples, 3)
	require.Len(t, three, 3)
	require.Equal(t, samples[0].IterationID, three[0].IterationID)
	require.Equal(t, samples[9].IterationID, three[2].IterationID)
}

func TestWriteSamplesCSV(t *testing.T) {
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	step := controller.StepFeed
	msg := "feed unavailable: status 503"
	failed := storage.PegSample{
		IterationID: uuid.New(),
		StartedAt:   at.Add(time.Minute),
		Status:      storage.StatusFailed,
		FailedStep:  &step,
		Error:       &msg,
	}

	path := filepath.Join(t.TempDir(), "nested", "samples.csv")
	require.NoError(t, writeSamplesCSV(path, []storage.PegSample{pegSample(at, "1.03", "SELL"), failed}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "published_price", rows[0][3])
	require.Equal(t, []string{"2026-10-01T12:00:00Z", rows[1][1], "5.85", "5850000", "1.03", "3", "SELL", "complete", "", ""}, rows[1])
	require.Equal(t, "", rows[2][2])
	require.Equal(t, "", rows[2][3])
	require.Equal(t, "failed", rows[2][7])
	require.Equal(t, "feed", rows[2][8])
	require.Equal(t, msg, rows[2][9])
}

func TestWriteSamplesPNGNeedsPricedSamples(t *testing.T) {
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	err := writeSamplesPNG(filepath.Join(dir, "one.png"), []storage.PegSample{pegSample(at, "1.0", "HOLD")}, 1)
	require.Error(t, err)

	samples := []storage.PegSample{
		pegSample(at, "1.00", "HOLD"),
		pegSample(at.Add(time.Minute), "1.03", "SELL"),
		pegSample(at.Add(2*time.Minute), "0.97", "BUY"),
	}
	path := filepath.Join(dir, "chart.png")
	require.NoError(t, writeSamplesPNG(path, samples, 1))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestPrintSamples(t *testing.T) {
	a, out := newTestApp()
	a.printSamples(nil)
	require.Contains(t, out.String(), "no samples found")

	out.Reset()
	step := controller.StepPublish
	msg := "ledger unavailable:\nrpc down"
	sample := pegSample(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC), "1.03", "SELL")
	sample.FailedStep = &step
	sample.Error = &msg
	a.printSamples([]storage.PegSample{sample})

	text := out.String()
	require.Contains(t, text, "2026-10-01T12:00:00Z")
	require.Contains(t, text, "5850000")
	require.Contains(t, text, "publish: ledger unavailable: rpc down")
}

func TestExportWindow(t *testing.T) {
	a, _ := newTestApp()
	now := time.Date(2026, 10, 2, 12, 0, 0, 0, time.UTC)

	from, to, err := a.exportWindow(ExportOptions{MaxPoints: 60}, now)
	require.NoError(t, err)
	require.Equal(t, now, to)
	require.Equal(t, now.Add(-time.Hour), from)

	since := now.Add(-48 * time.Hour)
	from, _, err = a.exportWindow(ExportOptions{MaxPoints: 60, From: &since}, now)
	require.NoError(t, err)
	require.Equal(t, since, from)

	until := now.Add(-time.Hour)
	from, to, err = a.exportWindow(ExportOptions{MaxPoints: 60, Last: 24 * time.Hour, From: &since, To: &until}, now)
	require.NoError(t, err)
	require.Equal(t, until, to)
	require.Equal(t, until.Add(-24*time.Hour), from)

	_, _, err = a.exportWindow(ExportOptions{MaxPoints: 60, Last: -time.Hour}, now)
	require.Error(t, err)

	later := now.Add(time.Hour)
	_, _, err = a.exportWindow(ExportOptions{MaxPoints: 60, From: &later}, now)
	require.Error(t, err)
}

func TestWriteTradesCSV(t *testing.T) {
	sig := "5xSig"
	failure := "execution failed: status 502"
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	trades := []storage.TradeExecution{
		{
			ID:             1,
			IterationID:    uuid.New(),
			Action:         "SELL",
			Amount:         decimal.NewFromInt(100),
			Signature:      &sig,
			PriceImpactPct: decimal.NewNullDecimal(decimal.RequireFromString("1.25")),
			HighImpact:     true,
			CreatedAt:      at,
		},
		{
			ID:          2,
			IterationID: uuid.New(),
			Action:      "BUY",
			Amount:      decimal.NewFromInt(100),
			Error:       &failure,
			CreatedAt:   at.Add(time.Minute),
		},
	}

	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, writeTradesCSV(path, trades))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "price_impact_pct", rows[0][4])
	require.Equal(t, []string{"2026-10-01T12:00:00Z", trades[0].IterationID.String(), "SELL", "100", "1.25", "true", "false", "5xSig", "", "", ""}, rows[1])
	require.Equal(t, "", rows[2][4])
	require.Equal(t, failure, rows[2][10])
}
