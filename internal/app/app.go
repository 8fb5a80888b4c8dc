package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pegkeeper/internal/alerting"
	"pegkeeper/internal/config"
	"pegkeeper/internal/controller"
	"pegkeeper/internal/domain"
	"pegkeeper/internal/fetcher"
	"pegkeeper/internal/ledger"
	"pegkeeper/internal/logging"
	"pegkeeper/internal/observability"
	"pegkeeper/internal/peg"
	"pegkeeper/internal/storage"
	"pegkeeper/internal/swap"
	"pegkeeper/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

func (a *App) newFeed() fetcher.ExchangeRateFetcher {
	cfg := a.Config.Feed
	return fetcher.NewHTTP(fetcher.HTTPOptions{
		URL:       cfg.URL,
		RatePath:  cfg.RatePath,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newLedger() (ledger.OracleLedger, error) {
	if err := a.Config.ValidateLedger(); err != nil {
		return nil, err
	}

	switch a.Config.Ledger.Driver {
	case config.LedgerSolana:
		return a.newSolanaLedger()
	case config.LedgerEVM:
		cfg := a.Config.Ledger.EVM
		l, err := ledger.NewEVM(ledger.EVMOptions{
			RPCURL:          cfg.RPCURL,
			ContractAddress: cfg.ContractAddress,
			PrivateKeyHex:   cfg.PrivateKey,
			ChainID:         cfg.ChainID,
			GasLimit:        cfg.GasLimit,
		}, nil, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
		}
		return l, nil
	default:
		a.Logger.Warn().Msg("using in-memory oracle ledger; prices are not published on-chain")
		return ledger.NewMemory("memory"), nil
	}
}

func (a *App) newSolanaLedger() (*ledger.Solana, error) {
	cfg := a.Config.Ledger.Solana
	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger.solana.program_id: %v", domain.ErrConfiguration, err)
	}
	authority, err := ledger.ParsePrivateKey(cfg.AuthorityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger.solana.authority_key: %v", domain.ErrConfiguration, err)
	}

	l, err := ledger.NewSolana(ledger.SolanaOptions{
		ProgramID:  programID,
		Authority:  authority,
		Commitment: rpc.CommitmentType(cfg.Commitment),
	}, rpc.New(cfg.RPCURL), a.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	return l, nil
}

// newSwap returns the executor, the market-price source and the wallet address trades run for.
func (a *App) newSwap() (swap.Executor, swap.PriceSource, string, error) {
	cfg := a.Config.Swap
	mode := swap.SigningMode(cfg.SigningMode)
	wallet := cfg.WalletAddress

	var signer *swap.LocalSigner
	if mode == swap.SigningLocal && !cfg.DryRun {
		raw := cfg.WalletKey
		if raw == "" {
			raw = a.Config.Ledger.Solana.AuthorityKey
		}
		key, err := ledger.ParsePrivateKey(raw)
		if err != nil {
			return nil, nil, "", fmt.Errorf("%w: swap.wallet_key: %v", domain.ErrConfiguration, err)
		}
		signer = swap.NewLocalSigner(key, rpc.New(a.Config.Ledger.Solana.RPCURL), rpc.CommitmentType(a.Config.Ledger.Solana.Commitment))
		wallet = signer.Address()
	}

	client, err := swap.NewClient(swap.Options{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		PeggedMint:        cfg.PeggedMint,
		ReferenceMint:     cfg.ReferenceMint,
		PeggedDecimals:    cfg.PeggedDecimals,
		ReferenceDecimals: cfg.ReferenceDecimals,
		SlippageBps:       cfg.SlippageBps,
		PriceSlippageBps:  cfg.PriceSlippageBps,
		MaxPriceImpactPct: decimal.NewFromFloat(cfg.MaxPriceImpactPct),
		Mode:              mode,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           cfg.RequestTimeout,
		UserAgent:         cfg.UserAgent,
	}, signer, a.Logger)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	if cfg.DryRun {
		if wallet == "" {
			wallet = "dry-run"
		}
		a.Logger.Warn().Msg("swap.dry_run enabled; corrective swaps are logged, not submitted")
		return swap.NewDryRun(a.Logger), client, wallet, nil
	}
	return client, client, wallet, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) band() peg.Band {
	return peg.Band{
		Target:    decimal.NewFromFloat(a.Config.Peg.Target),
		Tolerance: decimal.NewFromFloat(a.Config.Peg.Tolerance),
	}
}

func (a *App) loopOptions(wallet string) controller.Options {
	return controller.Options{
		Interval:           a.Config.Loop.Interval,
		StartupDelay:       a.Config.Loop.StartupDelay,
		StepTimeout:        a.Config.Loop.StepTimeout,
		Band:               a.band(),
		TradeAmount:        decimal.NewFromFloat(a.Config.Peg.TradeAmount),
		WalletAddress:      wallet,
		LockKey:            a.Config.Loop.AdvisoryLockKey,
		AlertAfterFailures: a.Config.Loop.AlertAfterFailures,
		AlertCooldown:      a.Config.Alerting.Cooldown,
		NotifyTrades:       a.Config.Alerting.NotifyTrades,
	}
}

// Run executes the control loop until SIGINT/SIGTERM.
// The first signal lets the current iteration finish; a second one aborts in-flight calls.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateAgent(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}
	if store != nil && a.Config.Database.AutoMigrate {
		if err := storage.Migrate(ctx, a.Config.Database.DSN); err != nil {
			return err
		}
	}

	oracle, err := a.newLedger()
	if err != nil {
		return err
	}
	executor, market, wallet, err := a.newSwap()
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	if a.Config.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	deps := controller.Dependencies{
		Feed:     a.newFeed(),
		Ledger:   oracle,
		Market:   market,
		Executor: executor,
		Notifier: a.newNotifier(),
		Metrics:  metrics,
	}
	if store != nil {
		deps.Samples = store
		deps.Trades = store
		deps.Locker = store
	}

	loop, err := controller.New(a.loopOptions(wallet), deps, a.Logger)
	if err != nil {
		return err
	}

	go a.handleSignals(ctx, loop, cancel)

	serverDone := make(chan struct{})
	if metrics != nil {
		router := observability.NewRouter(metrics, func() any { return loop.Snapshot() })
		go func() {
			defer close(serverDone)
			if err := observability.Serve(ctx, a.Config.Metrics.ListenAddr, router, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("status server failed")
			}
		}()
	} else {
		close(serverDone)
	}

	a.Logger.Info().
		Str("version", version.String()).
		Str("ledger", a.Config.Ledger.Driver).
		Str("wallet", wallet).
		Msg("starting peg keeper")

	err = loop.Run(ctx)
	cancel()
	<-serverDone

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("control loop terminated with error")
		return err
	}

	stopped := a.Logger.Info().Uint64("iterations", loop.Iterations())
	if last, ok := loop.Last(); ok {
		stopped = stopped.Str("last_iteration_id", last.IterationID.String()).Bool("last_failed", last.Failed())
	}
	stopped.Msg("peg keeper stopped")
	return nil
}

func (a *App) handleSignals(ctx context.Context, loop *controller.Loop, abort context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.Logger.Info().Str("signal", sig.String()).Msg("stop requested; finishing current iteration")
		loop.Stop()
	case <-ctx.Done():
		return
	}

	select {
	case sig := <-sigCh:
		a.Logger.Warn().Str("signal", sig.String()).Msg("second signal; aborting in-flight calls")
		abort()
	case <-ctx.Done():
	}
}

// ExportOptions hold parameters for exporting historical samples and trades.
type ExportOptions struct {
	From          *time.Time
	To            *time.Time
	Last          time.Duration
	PNGPath       string
	CSVPath       string
	TradesCSVPath string
	MaxPoints     int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Trades bool
}

// SimulateOptions feed one offline iteration.
type SimulateOptions struct {
	Rate  decimal.Decimal
	Price decimal.Decimal
}
