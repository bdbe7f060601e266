// Package binancetest provides a testify mock of the exchange capability.
package binancetest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"llm-trade-bot-go/internal/binance"
)

// MockExchange is a mock implementation of binance.ExchangeClient.
type MockExchange struct {
	mock.Mock
}

var _ binance.ExchangeClient = (*MockExchange)(nil)

func (m *MockExchange) GetServerTime(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockExchange) FetchTicker(ctx context.Context, pair binance.Pair) (*binance.Ticker, error) {
	args := m.Called(ctx, pair)
	ticker, _ := args.Get(0).(*binance.Ticker)
	return ticker, args.Error(1)
}

func (m *MockExchange) FetchOHLCV(ctx context.Context, pair binance.Pair, timeframe binance.Timeframe, since *time.Time, limit int) ([]binance.Candle, error) {
	args := m.Called(ctx, pair, timeframe, since, limit)
	candles, _ := args.Get(0).([]binance.Candle)
	return candles, args.Error(1)
}

func (m *MockExchange) FetchBalance(ctx context.Context) (map[string]binance.Balance, error) {
	args := m.Called(ctx)
	balances, _ := args.Get(0).(map[string]binance.Balance)
	return balances, args.Error(1)
}

func (m *MockExchange) FetchPositions(ctx context.Context) ([]binance.Position, error) {
	args := m.Called(ctx)
	positions, _ := args.Get(0).([]binance.Position)
	return positions, args.Error(1)
}

func (m *MockExchange) FetchPrice(ctx context.Context, pair binance.Pair) (decimal.Decimal, error) {
	args := m.Called(ctx, pair)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockExchange) CreateOrder(ctx context.Context, req binance.OrderRequest) (*binance.CreateOrderResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*binance.CreateOrderResponse)
	return resp, args.Error(1)
}
