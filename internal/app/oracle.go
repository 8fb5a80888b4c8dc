package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pegkeeper/internal/config"
)

// OracleShow prints the latest committed oracle record.
func (a *App) OracleShow(ctx context.Context) error {
	oracle, err := a.newLedger()
	if err != nil {
		return err
	}

	record, err := oracle.ReadLatest(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "driver:     %s\n", a.Config.Ledger.Driver)
	fmt.Fprintf(a.Out, "price:      %d\n", record.Price)
	fmt.Fprintf(a.Out, "value:      %s\n", record.Value().StringFixed(6))
	fmt.Fprintf(a.Out, "updated_at: %s\n", record.UpdatedAt.UTC().Format(time.RFC3339))
	if record.Authority != "" {
		fmt.Fprintf(a.Out, "authority:  %s\n", record.Authority)
	}
	return nil
}

// OracleInit creates the Solana oracle account. It only has to run once per program deployment.
func (a *App) OracleInit(ctx context.Context) error {
	if a.Config.Ledger.Driver != config.LedgerSolana {
		return errors.New("oracle init is only supported for the solana ledger driver")
	}
	if err := a.Config.ValidateLedger(); err != nil {
		return err
	}

	oracle, err := a.newSolanaLedger()
	if err != nil {
		return err
	}

	sig, err := oracle.Initialize(ctx)
	if err != nil {
		return err
	}

	a.Logger.Info().Str("oracle", oracle.Oracle().String()).Str("signature", sig).Msg("oracle account initialized")
	fmt.Fprintf(a.Out, "oracle:    %s\nsignature: %s\n", oracle.Oracle(), sig)
	return nil
}
