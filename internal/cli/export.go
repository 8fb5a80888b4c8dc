package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pegkeeper/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportLast      time.Duration
	exportPNGPath   string
	exportCSVPath   string
	exportTradesCSV string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export iteration history (CSV, PNG price chart) and corrective trades (CSV)",
	Example: `  pegkeeper export --last 24h --png peg.png
  pegkeeper export --from 2026-10-01T00:00:00Z --csv samples.csv --trades-csv trades.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportLast != 0 && exportFrom != "" {
			return errors.New("--last and --from are mutually exclusive")
		}

		opts := app.ExportOptions{
			Last:          exportLast,
			PNGPath:       exportPNGPath,
			CSVPath:       exportCSVPath,
			TradesCSVPath: exportTradesCSV,
			MaxPoints:     exportMaxPoints,
		}

		var err error
		if opts.From, err = parseTimestamp("--from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseTimestamp("--to", exportTo); err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func parseTimestamp(flag, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %w", flag, err)
	}
	return &ts, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().DurationVar(&exportLast, "last", 0, "Export the trailing window ending at --to, e.g. 24h")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write the market price / deviation chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write iteration samples as CSV")
	exportCmd.Flags().StringVar(&exportTradesCSV, "trades-csv", "", "Path to write corrective trades as CSV")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum samples to export (defaults to export.max_data_points)")
}
