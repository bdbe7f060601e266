package trader

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"llm-trade-bot-go/internal/binance"
	"llm-trade-bot-go/internal/decision"
)

const sellPrecision = 6

var hundred = decimal.NewFromInt(100)

// Executor turns decisions into exchange orders. In dry-run mode it only
// logs the order it would place.
type Executor struct {
	exchange binance.ExchangeClient
	dryRun   bool
	logger   *zap.Logger
}

// NewExecutor creates an executor placing orders on exchange.
func NewExecutor(exchange binance.ExchangeClient, dryRun bool, logger *zap.Logger) *Executor {
	return &Executor{
		exchange: exchange,
		dryRun:   dryRun,
		logger:   logger.Named("executor"),
	}
}

// Execute places the order for d on pair. Hold, an empty sell and dry-run
// mode return a nil response without an error.
func (x *Executor) Execute(ctx context.Context, d decision.Decision, pair binance.Pair) (*binance.CreateOrderResponse, error) {
	order, err := x.orderFor(ctx, d, pair)
	if err != nil || order == nil {
		return nil, err
	}

	l := x.logger.With(
		zap.String("symbol", pair.Symbol()),
		zap.String("side", order.Side),
		zap.String("type", order.Type),
		zap.String("quantity", order.Quantity.String()),
	)
	if order.Price != nil {
		l = l.With(zap.String("price", order.Price.String()))
	}

	if x.dryRun {
		l.Warn("Dry run enabled. No real order will be placed.")
		return nil, nil
	}

	resp, err := x.exchange.CreateOrder(ctx, *order)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s decision: %w", d.Operation, err)
	}
	l.Info("Order placed", zap.Int64("order_id", resp.OrderID), zap.String("status", resp.Status))
	return resp, nil
}

// orderFor builds the order for d, or nil when there is nothing to trade.
func (x *Executor) orderFor(ctx context.Context, d decision.Decision, pair binance.Pair) (*binance.OrderRequest, error) {
	switch d.Operation {
	case decision.Buy:
		buy, ok := d.Buy()
		if !ok || !buy.Amount.IsPositive() {
			return nil, nil
		}
		price := buy.Pricing
		return &binance.OrderRequest{
			Pair:     pair,
			Type:     binance.OrderTypeLimit,
			Side:     binance.OrderSideBuy,
			Quantity: buy.Amount,
			Price:    &price,
		}, nil

	case decision.Sell:
		// A sell without parameters closes the whole position.
		pct := hundred
		if sell, ok := d.Sell(); ok {
			pct = sell.Percentage
		}
		return x.closeOrder(ctx, pair, pct)

	default:
		return nil, nil
	}
}

// closeOrder sizes a sell of pct percent. On futures it reduces the open
// position for pair, buying back a short. Spot markets have no positions, so
// the free base balance is sold instead.
func (x *Executor) closeOrder(ctx context.Context, pair binance.Pair, pct decimal.Decimal) (*binance.OrderRequest, error) {
	positions, err := x.exchange.FetchPositions(ctx)
	switch {
	case errors.Is(err, binance.ErrNotSupported):
		return x.spotSellOrder(ctx, pair, pct)
	case err != nil:
		return nil, fmt.Errorf("failed to size sell order: %w", err)
	}

	for _, pos := range positions {
		if pos.Symbol != pair.Symbol() {
			continue
		}
		qty := pos.Quantity.Mul(pct).Div(hundred).Truncate(sellPrecision)
		if !qty.IsPositive() {
			break
		}
		side := binance.OrderSideSell
		if pos.Side == "short" {
			side = binance.OrderSideBuy
		}
		return &binance.OrderRequest{
			Pair:       pair,
			Type:       binance.OrderTypeMarket,
			Side:       side,
			Quantity:   qty,
			ReduceOnly: true,
		}, nil
	}

	x.logger.Info("Nothing to sell", zap.String("symbol", pair.Symbol()))
	return nil, nil
}

func (x *Executor) spotSellOrder(ctx context.Context, pair binance.Pair, pct decimal.Decimal) (*binance.OrderRequest, error) {
	balances, err := x.exchange.FetchBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to size sell order: %w", err)
	}
	// TODO: round to the LOT_SIZE step of exchangeInfo instead of a fixed precision.
	qty := balances[pair.Base].Free.Mul(pct).Div(hundred).Truncate(sellPrecision)
	if !qty.IsPositive() {
		x.logger.Info("Nothing to sell", zap.String("asset", pair.Base))
		return nil, nil
	}
	return &binance.OrderRequest{
		Pair:     pair,
		Type:     binance.OrderTypeMarket,
		Side:     binance.OrderSideSell,
		Quantity: qty,
	}, nil
}
