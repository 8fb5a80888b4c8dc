package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pegkeeper/internal/app"
)

var (
	simulateRate  string
	simulatePrice string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one offline iteration with a given exchange rate and market price",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateRate == "" || simulatePrice == "" {
			return errors.New("--rate and --price are required")
		}

		rate, err := decimal.NewFromString(simulateRate)
		if err != nil {
			return fmt.Errorf("invalid --rate value: %w", err)
		}
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}

		_, err = getApp().Simulate(cmd.Context(), app.SimulateOptions{Rate: rate, Price: price})
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateRate, "rate", "", "USD/BRL exchange rate to publish, e.g. 5.85")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "BRL-A market price to evaluate, e.g. 1.03")
}
