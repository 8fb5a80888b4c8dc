package app

import (
	"context"
	"encoding/json"
	"errors"

	"pegkeeper/internal/controller"
	"pegkeeper/internal/fetcher"
	"pegkeeper/internal/ledger"
	"pegkeeper/internal/swap"
)

// Simulate runs one offline iteration against the given exchange rate and market price.
// Nothing is published on-chain and no swap is submitted; notifications still go out when alerting is enabled.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) (controller.Report, error) {
	if !opts.Rate.IsPositive() {
		return controller.Report{}, errors.New("--rate must be positive")
	}
	if !opts.Price.IsPositive() {
		return controller.Report{}, errors.New("--price must be positive")
	}

	loopOpts := a.loopOptions("simulation")
	loopOpts.LockKey = 0
	loopOpts.AlertCooldown = 0

	loop, err := controller.New(loopOpts, controller.Dependencies{
		Feed:     fetcher.Static{Rate: opts.Rate},
		Ledger:   ledger.NewMemory("simulation"),
		Market:   swap.StaticPrice{Price: opts.Price},
		Executor: swap.NewDryRun(a.Logger),
		Notifier: a.newNotifier(),
	}, a.Logger)
	if err != nil {
		return controller.Report{}, err
	}

	report := loop.RunIteration(ctx)

	encoder := json.NewEncoder(a.Out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report.Status()); err != nil {
		return report, err
	}
	return report, nil
}
