package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"pegkeeper/internal/storage"
)

// Export renders historical iterations as CSV and/or PNG, and corrective trades as CSV.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.TradesCSVPath == "" {
		return errors.New("at least one of --csv, --png or --trades-csv must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	from, to, err := a.exportWindow(opts, time.Now().UTC())
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.CSVPath != "" || opts.PNGPath != "" {
		if err := a.exportSamples(ctx, store, opts, from, to); err != nil {
			return err
		}
	}

	if opts.TradesCSVPath != "" {
		trades, err := store.ListTradesBetween(ctx, from, to)
		if err != nil {
			return err
		}
		a.Logger.Info().Int("exported", len(trades)).Msg("exporting trades")
		if err := writeTradesCSV(opts.TradesCSVPath, trades); err != nil {
			return err
		}
	}

	return nil
}

// exportWindow resolves [from, to). --last wins over --from; with neither, the
// window covers MaxPoints loop intervals.
func (a *App) exportWindow(opts ExportOptions, now time.Time) (time.Time, time.Time, error) {
	to := now
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Loop.Interval)
	switch {
	case opts.Last < 0:
		return time.Time{}, time.Time{}, errors.New("--last cannot be negative")
	case opts.Last > 0:
		from = to.Add(-opts.Last)
	case opts.From != nil:
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func (a *App) exportSamples(ctx context.Context, store *storage.Store, opts ExportOptions, from, to time.Time) error {
	samples, err := store.ListSamplesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, downsampled, a.band().Target.InexactFloat64()); err != nil {
			return err
		}
	}
	return nil
}

func downsampleSamples(samples []storage.PegSample, max int) []storage.PegSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.PegSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.PegSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"started_at", "iteration_id", "exchange_rate", "published_price", "asset_price", "deviation_pct", "action", "status", "failed_step", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		record := []string{
			sample.StartedAt.Format(time.RFC3339),
			sample.IterationID.String(),
			nullDecimalString(sample.ExchangeRate.Valid, sample.ExchangeRate.Decimal.String()),
			"",
			nullDecimalString(sample.AssetPrice.Valid, sample.AssetPrice.Decimal.String()),
			nullDecimalString(sample.DeviationPct.Valid, sample.DeviationPct.Decimal.String()),
			sample.Action,
			sample.Status,
			deref(sample.FailedStep),
			deref(sample.Error),
		}
		if sample.PublishedPrice != nil {
			record[3] = strconv.FormatInt(*sample.PublishedPrice, 10)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeTradesCSV(path string, trades []storage.TradeExecution) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "iteration_id", "action", "amount", "price_impact_pct", "high_impact", "deferred", "signature", "input_amount", "output_amount", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, trade := range trades {
		record := []string{
			trade.CreatedAt.UTC().Format(time.RFC3339),
			trade.IterationID.String(),
			trade.Action,
			trade.Amount.String(),
			nullDecimalString(trade.PriceImpactPct.Valid, trade.PriceImpactPct.Decimal.String()),
			strconv.FormatBool(trade.HighImpact),
			strconv.FormatBool(trade.Deferred),
			deref(trade.Signature),
			deref(trade.InputAmount),
			deref(trade.OutputAmount),
			deref(trade.Error),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeSamplesPNG charts asset price against the target, with deviation on the secondary axis.
// Iterations that never observed a price are left out.
func writeSamplesPNG(path string, samples []storage.PegSample, target float64) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		x         []time.Time
		price     []float64
		targets   []float64
		deviation []float64
	)
	for _, sample := range samples {
		if !sample.AssetPrice.Valid {
			continue
		}
		x = append(x, sample.StartedAt)
		price = append(price, sample.AssetPrice.Decimal.InexactFloat64())
		targets = append(targets, target)
		dev := 0.0
		if sample.DeviationPct.Valid {
			dev = sample.DeviationPct.Decimal.InexactFloat64()
		}
		deviation = append(deviation, dev)
	}
	if len(x) < 2 {
		return errors.New("need at least two priced samples to render a chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "BRL-A price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Deviation (%)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Market price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Target",
				XValues: x,
				YValues: targets,
			},
			chart.TimeSeries{
				Name:    "Deviation %",
				XValues: x,
				YValues: deviation,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func nullDecimalString(valid bool, v string) string {
	if !valid {
		return ""
	}
	return v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
