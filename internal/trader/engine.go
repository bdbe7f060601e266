package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"llm-trade-bot-go/internal/backend"
	"llm-trade-bot-go/internal/binance"
	"llm-trade-bot-go/internal/config"
	"llm-trade-bot-go/internal/decision"
	"llm-trade-bot-go/internal/ledger"
	"llm-trade-bot-go/internal/models"
	"llm-trade-bot-go/internal/snapshot"
)

// CycleRequest parameterizes one decision cycle.
type CycleRequest struct {
	InitialCapital decimal.Decimal
	// BackendOverride takes precedence over the configured backend when set.
	BackendOverride string
	Symbol          string
}

// NewCycleRequest fills a request from the trading configuration. Empty
// arguments keep the configured values.
func NewCycleRequest(cfg config.Trading, backendOverride, symbol string) CycleRequest {
	if symbol == "" {
		symbol = cfg.Symbol
	}
	return CycleRequest{
		InitialCapital:  decimal.NewFromFloat(cfg.InitialCapital),
		BackendOverride: backendOverride,
		Symbol:          symbol,
	}
}

// Engine runs decision cycles: snapshot, backend, normalization, ledger.
type Engine struct {
	UUID      string
	StartTime time.Time

	logger    *zap.Logger
	cfg       *config.Config
	snapshots *snapshot.Provider
	selector  *backend.Selector
	ledger    *ledger.Writer
	executor  *Executor
	now       func() time.Time
}

// NewEngine creates a new engine. Orders are placed through exchange unless
// trading.dry_run is set.
func NewEngine(logger *zap.Logger, cfg *config.Config, exchange binance.ExchangeClient, selector *backend.Selector, writer *ledger.Writer) *Engine {
	return &Engine{
		UUID:      uuid.NewString(),
		StartTime: time.Now(),
		logger:    logger.Named("engine"),
		cfg:       cfg,
		snapshots: snapshot.NewProvider(exchange, cfg.Trading, logger),
		selector:  selector,
		ledger:    writer,
		executor:  NewExecutor(exchange, cfg.Trading.DryRun, logger),
		now:       time.Now,
	}
}

// RunCycle runs one decision cycle and returns the recorded chat. It fails
// when the snapshot cannot be taken, when the backend breaks the decision
// contract or when the ledger write fails. An unreachable backend is
// recorded as a Hold.
func (e *Engine) RunCycle(ctx context.Context, req CycleRequest) (*models.Chat, error) {
	symbol := req.Symbol
	if symbol == "" {
		symbol = e.cfg.Trading.Symbol
	}
	pair := snapshot.ResolvePair(symbol, e.snapshots.Quote())
	l := e.logger.With(zap.String("pair", pair.String()))
	l.Info("Starting decision cycle")

	var (
		snap *snapshot.MarketSnapshot
		perf *snapshot.AccountPerformance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = e.snapshots.GetMarketSnapshot(gctx, pair)
		return err
	})
	g.Go(func() error {
		var err error
		perf, err = e.snapshots.GetAccountPerformance(gctx, req.InitialCapital)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("cycle aborted, snapshot unavailable: %w", err)
	}

	count, err := e.ledger.CountChats(ctx)
	if err != nil {
		report(l, "Could not count prior decisions", err)
	}

	b := e.selector.Select(req.BackendOverride)
	l = l.With(zap.String("backend", string(b.Kind())))

	dctx := decision.Context{
		ModelName: b.ModelName(),
		Defaults: decision.BuyDefaults{
			Price:  snap.CurrentPrice,
			Amount: decimal.NewFromFloat(e.cfg.Trading.DefaultAmount),
		},
	}

	var d decision.Decision
	result, err := b.Invoke(ctx, backend.Input{
		Snapshot:    snap,
		Performance: perf,
		Invocation:  int(count) + 1,
		Now:         e.now(),
	})
	switch {
	case err == nil:
		dctx.PromptLabel = result.PromptLabel
		d, err = decision.Normalize(result.Raw, dctx)
		if err != nil {
			report(l, "Backend answer rejected", err)
			return nil, fmt.Errorf("failed to normalize %s decision: %w", b.Name(), err)
		}
	case errors.Is(err, backend.ErrBackendUnavailable):
		report(l, "Backend unavailable, holding", err)
		d = decision.Unavailable(b.Name(), dctx)
	default:
		report(l, "Backend invocation failed", err)
		return nil, fmt.Errorf("failed to invoke %s: %w", b.Name(), err)
	}

	chat, err := e.ledger.Persist(ctx, d, pair.Base)
	if err != nil {
		return nil, err
	}

	if _, err := e.executor.Execute(ctx, d, pair); err != nil {
		report(l, "Order execution failed", err, zap.String("chat_id", chat.ID))
	}

	l.Info("Decision cycle complete",
		zap.String("chat_id", chat.ID),
		zap.String("operation", string(d.Operation)))
	return chat, nil
}

// CaptureMetrics records the current account performance.
func (e *Engine) CaptureMetrics(ctx context.Context) (*models.Metric, error) {
	perf, err := e.snapshots.GetAccountPerformance(ctx, decimal.NewFromFloat(e.cfg.Trading.InitialCapital))
	if err != nil {
		return nil, fmt.Errorf("failed to capture metrics: %w", err)
	}

	metric := &models.Metric{
		TotalCashValue: perf.TotalCashValue,
		AvailableCash:  perf.AvailableCash,
		PositionsValue: perf.CurrentPositionsValue,
		TotalReturn:    perf.CurrentTotalReturn,
		PositionCount:  len(perf.Positions),
	}
	if err := e.ledger.RecordMetric(ctx, metric); err != nil {
		return nil, err
	}
	e.logger.Debug("Metrics captured",
		zap.String("total_cash_value", metric.TotalCashValue.String()),
		zap.String("total_return", metric.TotalReturn.String()))
	return metric, nil
}

// Run schedules decision cycles and metric captures until ctx is done. A
// failed tick is logged and the schedule carries on.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Starting trading engine",
		zap.String("uuid", e.UUID),
		zap.Duration("tick_interval", e.cfg.Trading.TickInterval),
		zap.Duration("metrics_interval", e.cfg.Trading.MetricsInterval))
	e.checkTimeouts()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.every(ctx, e.cfg.Trading.TickInterval, func() {
			req := NewCycleRequest(e.cfg.Trading, "", "")
			if _, err := e.RunCycle(ctx, req); err != nil {
				report(e.logger, "Decision cycle failed", err)
			}
		})
	}()
	go func() {
		defer wg.Done()
		e.every(ctx, e.cfg.Trading.MetricsInterval, func() {
			if _, err := e.CaptureMetrics(ctx); err != nil {
				report(e.logger, "Metrics capture failed", err)
			}
		})
	}()
	wg.Wait()

	e.logger.Info("Stopping trading engine...")
}

// checkTimeouts warns when a backend call can outlast the tick interval.
// Cycles run one at a time, so ticks that fire during a slow call are dropped.
func (e *Engine) checkTimeouts() {
	tick := e.cfg.Trading.TickInterval
	if tick <= 0 {
		return
	}
	timeouts := []struct {
		key     string
		timeout time.Duration
	}{
		{"backend.llm_timeout", e.cfg.Backend.LLMTimeout},
		{"backend.agent.timeout", e.cfg.Backend.Agent.Timeout},
	}
	for _, t := range timeouts {
		if t.timeout >= tick {
			e.logger.Warn("Backend timeout is not shorter than the tick interval, slow cycles will skip ticks",
				zap.String("setting", t.key),
				zap.Duration("timeout", t.timeout),
				zap.Duration("tick_interval", tick))
		}
	}
}

// every calls fn on each tick of interval. A non-positive interval disables the loop.
func (e *Engine) every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
