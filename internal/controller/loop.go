// Package controller runs the peg-keeping control loop:
// feed -> oracle publish -> market price -> peg decision -> corrective swap.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pegkeeper/internal/alerting"
	"pegkeeper/internal/domain"
	"pegkeeper/internal/fetcher"
	"pegkeeper/internal/ledger"
	"pegkeeper/internal/observability"
	"pegkeeper/internal/peg"
	"pegkeeper/internal/scheduler"
	"pegkeeper/internal/storage"
	"pegkeeper/internal/swap"
)

// ErrLoopStopped is returned by Run on an instance that was stopped or already ran.
var ErrLoopStopped = errors.New("control loop stopped")

const sideEffectTimeout = 5 * time.Second

// State is the loop lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options tune the loop.
type Options struct {
	Interval      time.Duration
	StartupDelay  time.Duration
	StepTimeout   time.Duration
	Band          peg.Band
	TradeAmount   decimal.Decimal
	WalletAddress string

	// LockKey enables a per-iteration advisory lock when non-zero and a Locker is set.
	LockKey int64
	// AlertAfterFailures raises an alert every N consecutive failed iterations; 0 disables it.
	AlertAfterFailures int
	AlertCooldown      time.Duration
	NotifyTrades       bool
}

// Dependencies are the loop's collaborators. Samples, Trades, Locker, Notifier and Metrics are optional.
type Dependencies struct {
	Feed     fetcher.ExchangeRateFetcher
	Ledger   ledger.OracleLedger
	Market   swap.PriceSource
	Executor swap.Executor

	Samples  storage.SampleStore
	Trades   storage.TradeStore
	Locker   storage.AdvisoryLocker
	Notifier alerting.Notifier
	Metrics  *observability.Metrics
}

// Loop owns the running state. Stop may be called from any goroutine; everything else runs on the loop goroutine.
type Loop struct {
	opts      Options
	deps      Dependencies
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
	now       func() time.Time

	state    atomic.Int32
	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	mu           sync.Mutex
	iterations   uint64
	failures     int
	lastPegAlert time.Time
	last         *Report
}

// New validates the options and builds a loop in the RUNNING state.
func New(opts Options, deps Dependencies, logger zerolog.Logger) (*Loop, error) {
	if deps.Feed == nil || deps.Ledger == nil || deps.Market == nil || deps.Executor == nil {
		return nil, fmt.Errorf("%w: feed, ledger, market price source and executor are required", domain.ErrConfiguration)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("%w: loop interval must be positive", domain.ErrConfiguration)
	}
	if !opts.TradeAmount.IsPositive() {
		return nil, fmt.Errorf("%w: trade amount must be positive", domain.ErrConfiguration)
	}
	if opts.WalletAddress == "" {
		return nil, fmt.Errorf("%w: wallet address is required", domain.ErrConfiguration)
	}
	if opts.Band.Target.IsZero() && opts.Band.Tolerance.IsZero() {
		opts.Band = peg.DefaultBand()
	}
	if !opts.Band.Target.IsPositive() || opts.Band.Tolerance.IsNegative() {
		return nil, fmt.Errorf("%w: target must be positive and tolerance non-negative", domain.ErrConfiguration)
	}
	if opts.AlertAfterFailures < 0 {
		return nil, fmt.Errorf("%w: alert_after_failures cannot be negative", domain.ErrConfiguration)
	}

	l := &Loop{
		opts: opts,
		deps: deps,
		scheduler: scheduler.New(scheduler.Options{
			Interval:     opts.Interval,
			StartupDelay: opts.StartupDelay,
		}, logger),
		logger: logger.With().Str("component", "control_loop").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		stopCh: make(chan struct{}),
	}
	l.state.Store(int32(StateRunning))
	return l, nil
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stop requests shutdown. The iteration in progress completes; no new one starts. Safe to call repeatedly.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.state.Store(int32(StateStopped))
		close(l.stopCh)
	})
}

// Run executes iterations until Stop is called or ctx is cancelled.
// It returns nil after a graceful stop and ctx.Err() on cancellation.
// A loop runs at most once; later calls return ErrLoopStopped.
func (l *Loop) Run(ctx context.Context) error {
	if l.State() == StateStopped || !l.started.CompareAndSwap(false, true) {
		return ErrLoopStopped
	}
	defer l.Stop()

	l.logger.Info().
		Dur("interval", l.opts.Interval).
		Str("target", l.opts.Band.Target.String()).
		Str("tolerance", l.opts.Band.Tolerance.String()).
		Str("trade_amount", l.opts.TradeAmount.String()).
		Msg("control loop started")

	err := l.scheduler.Run(ctx, l.stopCh, func(ctx context.Context, seq uint64) {
		l.RunIteration(ctx)
	})

	l.logger.Info().Uint64("iterations", l.Iterations()).Msg("control loop stopped")
	return err
}

// RunIteration performs one pass. Every step failure is contained in the returned Report.
func (l *Loop) RunIteration(ctx context.Context) Report {
	report := Report{IterationID: uuid.New(), StartedAt: l.now()}
	log := l.logger.With().Str("iteration_id", report.IterationID.String()).Logger()

	unlock, proceed, err := l.acquireLock(ctx)
	switch {
	case err != nil:
		log.Error().Err(err).Str("step", StepLock).Int64("lock_key", l.opts.LockKey).Msg("step failed")
		report.fail(StepLock, err)
	case !proceed:
		log.Info().Int64("lock_key", l.opts.LockKey).Msg("skip iteration because advisory lock held elsewhere")
		report.Skipped = true
		report.Duration = l.now().Sub(report.StartedAt)
		l.remember(report)
		return report
	default:
		if unlock != nil {
			defer unlock()
		}
		l.execute(ctx, &report, log)
	}

	report.Duration = l.now().Sub(report.StartedAt)
	l.finish(ctx, report, log)
	return report
}

func (l *Loop) execute(ctx context.Context, report *Report, log zerolog.Logger) {
	step := StepFeed
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			log.Error().Err(err).Str("step", step).Msg("step panicked")
			report.fail(step, err)
		}
	}()

	rate, err := callStep(ctx, l.opts.StepTimeout, l.deps.Feed.FetchRate)
	if err != nil {
		log.Error().Err(err).Str("step", step).Msg("step failed")
		report.fail(step, err)
		return
	}
	report.ExchangeRate = decimal.NewNullDecimal(rate)
	l.deps.Metrics.SetExchangeRate(rate)

	step = StepPublish
	pub, err := callStep(ctx, l.opts.StepTimeout, func(ctx context.Context) (ledger.Publication, error) {
		return l.deps.Ledger.Publish(ctx, rate)
	})
	if err != nil {
		log.Error().Err(err).Str("step", step).Str("exchange_rate", rate.String()).Msg("step failed")
		report.fail(step, err)
		return
	}
	report.Publication = &pub
	l.deps.Metrics.SetPublishedPrice(pub.Price)

	step = StepAssetPrice
	price, err := callStep(ctx, l.opts.StepTimeout, l.deps.Market.AssetPrice)
	if err != nil {
		log.Error().Err(err).Str("step", step).Uint64("published_price", pub.Price).Msg("step failed")
		report.fail(step, err)
		return
	}
	report.AssetPrice = decimal.NewNullDecimal(price)

	verdict := peg.Evaluate(price, l.opts.Band)
	action := peg.Decide(price, l.opts.Band)
	report.Verdict = &verdict
	report.Action = action
	l.deps.Metrics.SetPeg(price, verdict.DeviationPct())

	if !verdict.Stable {
		l.alertPegBreak(ctx, *report, log)
	}
	if action == domain.ActionHold {
		return
	}

	step = StepTrade
	order, err := domain.NewTradeOrder(action, l.opts.TradeAmount)
	if err != nil {
		log.Error().Err(err).Str("step", step).Str("action", string(action)).Msg("step failed")
		report.fail(step, err)
		return
	}
	report.Order = &order

	res, err := callStep(ctx, l.opts.StepTimeout, func(ctx context.Context) (domain.SwapResult, error) {
		return l.deps.Executor.Execute(ctx, order, l.opts.WalletAddress)
	})
	if err != nil {
		log.Error().Err(err).
			Str("step", step).
			Str("action", string(order.Action)).
			Str("amount", order.Amount.String()).
			Str("asset_price", price.String()).
			Msg("step failed")
		report.fail(step, err)
		return
	}
	report.Swap = &res
}

// finish updates counters, metrics, persistence and alerts, then logs the summary.
func (l *Loop) finish(ctx context.Context, report Report, log zerolog.Logger) {
	failures := l.remember(report)

	l.deps.Metrics.ObserveIteration(report.FailedStep, report.Duration, l.now())
	if report.Action != "" {
		highImpact := report.Swap != nil && report.Swap.HighImpact
		l.deps.Metrics.ObserveAction(string(report.Action), highImpact)
	}

	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	l.persist(sideCtx, report, log)

	if report.Swap != nil && l.opts.NotifyTrades {
		l.notify(sideCtx, alerting.Notification{
			Kind:        alerting.KindTrade,
			IterationID: report.IterationID.String(),
			At:          report.StartedAt,
			Action:      string(report.Order.Action),
			Amount:      report.Order.Amount,
			Signature:   report.Swap.Signature,
			HighImpact:  report.Swap.HighImpact,
		}, log)
	}

	if report.Failed() && l.opts.AlertAfterFailures > 0 && failures%l.opts.AlertAfterFailures == 0 {
		errMsg := ""
		if report.Err != nil {
			errMsg = report.Err.Error()
		}
		l.notify(sideCtx, alerting.Notification{
			Kind:                alerting.KindFailures,
			IterationID:         report.IterationID.String(),
			At:                  report.StartedAt,
			FailedStep:          report.FailedStep,
			ConsecutiveFailures: failures,
			Error:               errMsg,
		}, log)
	}

	report.logSummary(log)
}

func (l *Loop) persist(ctx context.Context, report Report, log zerolog.Logger) {
	if l.deps.Samples != nil {
		if err := l.deps.Samples.InsertSample(ctx, report.sample()); err != nil {
			log.Error().Err(err).Msg("failed to persist peg sample")
			return
		}
	}
	if l.deps.Trades != nil {
		if rec, ok := report.trade(); ok {
			if _, err := l.deps.Trades.InsertTrade(ctx, rec); err != nil {
				log.Error().Err(err).Msg("failed to persist trade execution")
			}
		}
	}
}

func (l *Loop) alertPegBreak(ctx context.Context, report Report, log zerolog.Logger) {
	if l.deps.Notifier == nil {
		return
	}
	now := l.now()
	l.mu.Lock()
	if !l.lastPegAlert.IsZero() && now.Sub(l.lastPegAlert) < l.opts.AlertCooldown {
		l.mu.Unlock()
		log.Debug().Msg("peg alert suppressed by cooldown")
		return
	}
	l.lastPegAlert = now
	l.mu.Unlock()

	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	l.notify(sideCtx, alerting.Notification{
		Kind:         alerting.KindPegBreak,
		IterationID:  report.IterationID.String(),
		At:           report.StartedAt,
		AssetPrice:   report.AssetPrice.Decimal,
		TargetPrice:  l.opts.Band.Target,
		DeviationPct: report.Verdict.DeviationPct(),
		TolerancePct: l.opts.Band.Tolerance.Mul(decimal.NewFromInt(100)),
		Action:       string(report.Action),
	}, log)
}

func (l *Loop) notify(ctx context.Context, note alerting.Notification, log zerolog.Logger) {
	if l.deps.Notifier == nil {
		return
	}
	if err := l.deps.Notifier.Notify(ctx, note); err != nil {
		log.Error().Err(err).Str("kind", string(note.Kind)).Msg("failed to dispatch alert")
	}
}

// remember stores the report and returns the consecutive failure count.
func (l *Loop) remember(report Report) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.iterations++
	l.last = &report
	if report.Skipped {
		return l.failures
	}
	if report.Failed() {
		l.failures++
	} else {
		l.failures = 0
	}
	return l.failures
}

func (l *Loop) acquireLock(ctx context.Context) (func(), bool, error) {
	if l.opts.LockKey == 0 || l.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := l.deps.Locker.TryAdvisoryLock(ctx, l.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// Iterations returns the number of iterations run so far.
func (l *Loop) Iterations() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iterations
}

// Last returns the most recent report.
func (l *Loop) Last() (Report, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return Report{}, false
	}
	return *l.last, true
}

// Snapshot returns the status view of the loop.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := Snapshot{
		State:               l.State().String(),
		Iterations:          l.iterations,
		ConsecutiveFailures: l.failures,
	}
	if l.last != nil {
		snap.Last = l.last.Status()
	}
	return snap
}

func callStep[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(stepCtx)
}
