package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pegkeeper/internal/storage"
)

// Show prints recent iterations and, optionally, recent trades.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	if closeStore != nil {
		defer closeStore()
	}

	samples, err := store.ListRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	a.printSamples(samples)

	if !opts.Trades {
		return nil
	}
	trades, err := store.ListRecentTrades(ctx, opts.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out)
	a.printTrades(trades)
	return nil
}

func (a *App) printSamples(samples []storage.PegSample) {
	if len(samples) == 0 {
		fmt.Fprintln(a.Out, "no samples found")
		return
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRate\tPublished\tPrice\tDeviation%\tAction\tStatus\tError")

	for _, sample := range samples {
		published := "-"
		if sample.PublishedPrice != nil {
			published = fmt.Sprintf("%d", *sample.PublishedPrice)
		}
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
			if sample.FailedStep != nil {
				errMsg = *sample.FailedStep + ": " + errMsg
			}
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.StartedAt.UTC().Format(time.RFC3339),
			formatNullDecimal(sample.ExchangeRate, 4),
			published,
			formatNullDecimal(sample.AssetPrice, 4),
			formatNullDecimal(sample.DeviationPct, 3),
			orDash(sample.Action),
			sample.Status,
			errMsg,
		)
	}

	writer.Flush()
}

func (a *App) printTrades(trades []storage.TradeExecution) {
	if len(trades) == 0 {
		fmt.Fprintln(a.Out, "no trades found")
		return
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAction\tAmount\tImpact%\tSignature\tError")
	for _, trade := range trades {
		sig := "-"
		switch {
		case trade.Signature != nil:
			sig = *trade.Signature
		case trade.Deferred:
			sig = "(unsigned)"
		}
		impact := formatNullDecimal(trade.PriceImpactPct, 3)
		if trade.HighImpact {
			impact += "!"
		}
		errMsg := ""
		if trade.Error != nil {
			errMsg = sanitizeInline(*trade.Error)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			trade.CreatedAt.UTC().Format(time.RFC3339),
			trade.Action,
			trade.Amount.String(),
			impact,
			sig,
			errMsg,
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
