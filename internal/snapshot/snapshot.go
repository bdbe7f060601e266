// Package snapshot assembles the market and account state that a decision
// cycle hands to a reasoning backend.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"llm-trade-bot-go/internal/binance"
	"llm-trade-bot-go/internal/config"
)

const (
	DefaultBase  = "BTC"
	DefaultQuote = "USDT"

	// priceFanOut bounds the concurrent price lookups for spot pseudo-positions.
	priceFanOut = 4
)

var supportedAssets = map[string]bool{
	"BTC":  true,
	"ETH":  true,
	"SOL":  true,
	"BNB":  true,
	"DOGE": true,
	"XRP":  true,
}

// MarketSnapshot is the market state of one pair at one instant.
type MarketSnapshot struct {
	Pair         binance.Pair
	CurrentPrice decimal.Decimal
	Ticker       binance.Ticker
	Candles      []binance.Candle
	// Timeframe is the period of each candle.
	Timeframe binance.Timeframe
	FetchedAt time.Time
}

// Position is an open position as presented to a backend. Spot
// pseudo-positions have no entry price or unrealized PnL.
type Position struct {
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	EntryPrice    *decimal.Decimal
	CurrentPrice  decimal.Decimal
	NotionalValue decimal.Decimal
	Leverage      int
	UnrealizedPnl *decimal.Decimal
	StopLoss      *decimal.Decimal
	TakeProfit    *decimal.Decimal
}

// AccountPerformance summarizes the account against its initial capital.
type AccountPerformance struct {
	TotalCashValue        decimal.Decimal
	AvailableCash         decimal.Decimal
	CurrentPositionsValue decimal.Decimal
	CurrentTotalReturn    decimal.Decimal
	Positions             []Position
	// SharpeRatio is not derived from a return history yet and is always zero.
	SharpeRatio decimal.Decimal
}

// Provider reads snapshots from the exchange.
type Provider struct {
	exchange    binance.ExchangeClient
	quote       string
	timeframe   binance.Timeframe
	candleLimit int
	logger      *zap.Logger
}

// NewProvider creates a snapshot provider for the configured quote currency and timeframe.
func NewProvider(exchange binance.ExchangeClient, cfg config.Trading, logger *zap.Logger) *Provider {
	quote := strings.ToUpper(strings.TrimSpace(cfg.Quote))
	if quote == "" {
		quote = DefaultQuote
	}
	return &Provider{
		exchange:    exchange,
		quote:       quote,
		timeframe:   binance.ParseTimeframe(cfg.Timeframe),
		candleLimit: cfg.CandleLimit,
		logger:      logger.Named("snapshot"),
	}
}

// Quote returns the quote currency every pair and balance is measured in.
func (p *Provider) Quote() string {
	return p.quote
}

// GetMarketSnapshot fetches the ticker and recent candles of pair concurrently.
func (p *Provider) GetMarketSnapshot(ctx context.Context, pair binance.Pair) (*MarketSnapshot, error) {
	var (
		ticker  *binance.Ticker
		candles []binance.Candle
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ticker, err = p.exchange.FetchTicker(gctx, pair)
		return err
	})
	g.Go(func() error {
		var err error
		candles, err = p.exchange.FetchOHLCV(gctx, pair, p.timeframe, nil, p.candleLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch market snapshot for %s: %w", pair, err)
	}

	return &MarketSnapshot{
		Pair:         pair,
		CurrentPrice: ticker.Last,
		Ticker:       *ticker,
		Candles:      candles,
		Timeframe:    p.timeframe,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// GetAccountPerformance derives the account summary from balances and
// positions. A market without a positions endpoint is treated as holding
// no futures positions, and every non-quote balance is then reported as a
// long spot position.
func (p *Provider) GetAccountPerformance(ctx context.Context, initialCapital decimal.Decimal) (*AccountPerformance, error) {
	var (
		balances  map[string]binance.Balance
		positions []binance.Position
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balances, err = p.exchange.FetchBalance(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = p.exchange.FetchPositions(gctx)
		if errors.Is(err, binance.ErrNotSupported) {
			p.logger.Debug("Positions endpoint not available, using spot balances")
			positions, err = nil, nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch account state: %w", err)
	}

	quoteBalance := balances[p.quote]
	perf := &AccountPerformance{
		TotalCashValue:        quoteBalance.Total,
		AvailableCash:         quoteBalance.Free,
		CurrentPositionsValue: decimal.Zero,
		SharpeRatio:           decimal.Zero,
	}

	if len(positions) > 0 {
		for _, pos := range positions {
			entry, pnl := pos.EntryPrice, pos.UnrealizedPnl
			perf.Positions = append(perf.Positions, Position{
				Symbol:        pos.Symbol,
				Side:          pos.Side,
				Quantity:      pos.Quantity,
				EntryPrice:    &entry,
				CurrentPrice:  pos.MarkPrice,
				NotionalValue: pos.Notional,
				Leverage:      pos.Leverage,
				UnrealizedPnl: &pnl,
			})
			perf.CurrentPositionsValue = perf.CurrentPositionsValue.Add(pos.Notional)
			perf.TotalCashValue = perf.TotalCashValue.Add(pos.UnrealizedPnl)
		}
	} else {
		for _, pos := range p.spotPositions(ctx, balances) {
			perf.Positions = append(perf.Positions, pos)
			perf.CurrentPositionsValue = perf.CurrentPositionsValue.Add(pos.NotionalValue)
			perf.TotalCashValue = perf.TotalCashValue.Add(pos.NotionalValue)
		}
	}

	perf.CurrentTotalReturn = TotalReturn(perf.TotalCashValue, initialCapital)
	return perf, nil
}

// spotPositions prices every non-quote balance against the quote currency.
// Assets whose price cannot be fetched are logged and left out.
func (p *Provider) spotPositions(ctx context.Context, balances map[string]binance.Balance) []Position {
	assets := make([]string, 0, len(balances))
	for asset, bal := range balances {
		if asset != p.quote && bal.Total.IsPositive() {
			assets = append(assets, asset)
		}
	}
	sort.Strings(assets)

	priced := make([]*Position, len(assets))
	var g errgroup.Group
	g.SetLimit(priceFanOut)
	for i, asset := range assets {
		i, asset := i, asset
		g.Go(func() error {
			pair := binance.Pair{Base: asset, Quote: p.quote}
			price, err := p.exchange.FetchPrice(ctx, pair)
			if err != nil {
				p.logger.Warn("Skipping asset without price",
					zap.String("asset", asset),
					zap.String("tier", "transient"),
					zap.Error(err))
				return nil
			}
			qty := balances[asset].Total
			priced[i] = &Position{
				Symbol:        pair.Symbol(),
				Side:          "long",
				Quantity:      qty,
				CurrentPrice:  price,
				NotionalValue: qty.Mul(price),
				Leverage:      1,
			}
			return nil
		})
	}
	_ = g.Wait()

	positions := make([]Position, 0, len(priced))
	for _, pos := range priced {
		if pos != nil {
			positions = append(positions, *pos)
		}
	}
	return positions
}

// TotalReturn is the return on initialCapital as a ratio; zero when the
// initial capital is not positive.
func TotalReturn(totalCashValue, initialCapital decimal.Decimal) decimal.Decimal {
	if !initialCapital.IsPositive() {
		return decimal.Zero
	}
	return totalCashValue.Sub(initialCapital).Div(initialCapital)
}

// ResolvePair maps an asset symbol onto a supported pair against quote.
// Unsupported or empty symbols resolve to BTC.
func ResolvePair(symbol, quote string) binance.Pair {
	base := strings.ToUpper(strings.TrimSpace(symbol))
	if !supportedAssets[base] {
		base = DefaultBase
	}
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = DefaultQuote
	}
	return binance.Pair{Base: base, Quote: quote}
}
