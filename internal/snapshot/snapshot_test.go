package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"llm-trade-bot-go/internal/binance"
	"llm-trade-bot-go/internal/binance/binancetest"
	"llm-trade-bot-go/internal/config"
)

var btcUSDT = binance.Pair{Base: "BTC", Quote: "USDT"}

func newTestProvider(exchange binance.ExchangeClient) *Provider {
	return NewProvider(exchange, config.Trading{Quote: "usdt", Timeframe: "5m", CandleLimit: 20}, zap.NewNop())
}

func TestGetMarketSnapshot(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		exchange := new(binancetest.MockExchange)
		exchange.On("FetchTicker", mock.Anything, btcUSDT).
			Return(&binance.Ticker{Symbol: "BTCUSDT", Last: decimal.NewFromInt(65000)}, nil)
		exchange.On("FetchOHLCV", mock.Anything, btcUSDT, binance.Timeframe5m, mock.Anything, 20).
			Return([]binance.Candle{{Timestamp: 1, Close: decimal.NewFromInt(64900)}}, nil)

		snap, err := newTestProvider(exchange).GetMarketSnapshot(context.Background(), btcUSDT)

		require.NoError(t, err)
		assert.Equal(t, btcUSDT, snap.Pair)
		assert.True(t, decimal.NewFromInt(65000).Equal(snap.CurrentPrice))
		assert.Len(t, snap.Candles, 1)
		assert.Equal(t, 5, snap.Timeframe.Minutes())
		assert.False(t, snap.FetchedAt.IsZero())
		exchange.AssertExpectations(t)
	})

	t.Run("TickerFailureAborts", func(t *testing.T) {
		exchange := new(binancetest.MockExchange)
		exchange.On("FetchTicker", mock.Anything, btcUSDT).Return(nil, errors.New("network down"))
		exchange.On("FetchOHLCV", mock.Anything, btcUSDT, mock.Anything, mock.Anything, mock.Anything).
			Return([]binance.Candle{}, nil).Maybe()

		snap, err := newTestProvider(exchange).GetMarketSnapshot(context.Background(), btcUSDT)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "network down")
		assert.Nil(t, snap)
	})
}

func TestGetAccountPerformance_Spot(t *testing.T) {
	t.Run("PseudoPositionsFromBalances", func(t *testing.T) {
		exchange := new(binancetest.MockExchange)
		exchange.On("FetchBalance", mock.Anything).Return(map[string]binance.Balance{
			"USDT": {Free: decimal.NewFromInt(40), Used: decimal.NewFromInt(10), Total: decimal.NewFromInt(50)},
			"BTC":  {Free: decimal.RequireFromString("0.001"), Total: decimal.RequireFromString("0.001")},
			"ETH":  {Total: decimal.Zero},
		}, nil)
		exchange.On("FetchPositions", mock.Anything).Return(nil, binance.ErrNotSupported)
		exchange.On("FetchPrice", mock.Anything, btcUSDT).Return(decimal.NewFromInt(50000), nil)

		perf, err := newTestProvider(exchange).GetAccountPerformance(context.Background(), decimal.NewFromInt(100))

		require.NoError(t, err)
		require.Len(t, perf.Positions, 1)
		pos := perf.Positions[0]
		assert.Equal(t, "BTCUSDT", pos.Symbol)
		assert.Equal(t, "long", pos.Side)
		assert.Nil(t, pos.EntryPrice)
		assert.True(t, decimal.NewFromInt(50).Equal(pos.NotionalValue))
		assert.True(t, decimal.NewFromInt(50).Equal(perf.CurrentPositionsValue))
		assert.True(t, decimal.NewFromInt(100).Equal(perf.TotalCashValue))
		assert.True(t, decimal.NewFromInt(40).Equal(perf.AvailableCash))
		assert.True(t, perf.CurrentTotalReturn.IsZero())
		assert.True(t, perf.SharpeRatio.IsZero())
		exchange.AssertNotCalled(t, "FetchPrice", mock.Anything, binance.Pair{Base: "ETH", Quote: "USDT"})
	})

	t.Run("PriceFailureSkipsAsset", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		exchange := new(binancetest.MockExchange)
		exchange.On("FetchBalance", mock.Anything).Return(map[string]binance.Balance{
			"USDT": {Free: decimal.NewFromInt(100), Total: decimal.NewFromInt(100)},
			"BTC":  {Total: decimal.RequireFromString("0.002")},
			"LUNA": {Total: decimal.NewFromInt(1000)},
		}, nil)
		exchange.On("FetchPositions", mock.Anything).Return(nil, binance.ErrNotSupported)
		exchange.On("FetchPrice", mock.Anything, btcUSDT).Return(decimal.NewFromInt(50000), nil)
		exchange.On("FetchPrice", mock.Anything, binance.Pair{Base: "LUNA", Quote: "USDT"}).
			Return(decimal.Zero, errors.New("invalid symbol"))

		provider := NewProvider(exchange, config.Trading{Quote: "USDT"}, zap.New(core))
		perf, err := provider.GetAccountPerformance(context.Background(), decimal.NewFromInt(100))

		require.NoError(t, err)
		require.Len(t, perf.Positions, 1)
		assert.Equal(t, "BTCUSDT", perf.Positions[0].Symbol)
		assert.True(t, decimal.NewFromInt(200).Equal(perf.TotalCashValue))
		assert.True(t, decimal.NewFromInt(1).Equal(perf.CurrentTotalReturn))

		entries := logs.FilterMessage("Skipping asset without price").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "LUNA", entries[0].ContextMap()["asset"])
		assert.Equal(t, "transient", entries[0].ContextMap()["tier"])
	})

	t.Run("BalanceFailureAborts", func(t *testing.T) {
		exchange := new(binancetest.MockExchange)
		exchange.On("FetchBalance", mock.Anything).Return(nil, errors.New("unauthorized"))
		exchange.On("FetchPositions", mock.Anything).Return(nil, binance.ErrNotSupported).Maybe()

		perf, err := newTestProvider(exchange).GetAccountPerformance(context.Background(), decimal.NewFromInt(100))

		assert.Error(t, err)
		assert.Nil(t, perf)
	})
}

func TestGetAccountPerformance_Futures(t *testing.T) {
	exchange := new(binancetest.MockExchange)
	exchange.On("FetchBalance", mock.Anything).Return(map[string]binance.Balance{
		"USDT": {Free: decimal.NewFromInt(800), Used: decimal.NewFromInt(200), Total: decimal.NewFromInt(1000)},
		"BTC":  {Total: decimal.NewFromInt(1)},
	}, nil)
	exchange.On("FetchPositions", mock.Anything).Return([]binance.Position{{
		Symbol:        "BTCUSDT",
		Side:          "short",
		Quantity:      decimal.RequireFromString("0.01"),
		EntryPrice:    decimal.NewFromInt(64000),
		MarkPrice:     decimal.NewFromInt(65000),
		Notional:      decimal.NewFromInt(650),
		UnrealizedPnl: decimal.NewFromInt(-10),
		Leverage:      5,
	}}, nil)

	perf, err := newTestProvider(exchange).GetAccountPerformance(context.Background(), decimal.NewFromInt(1000))

	require.NoError(t, err)
	require.Len(t, perf.Positions, 1)
	pos := perf.Positions[0]
	assert.Equal(t, "short", pos.Side)
	require.NotNil(t, pos.EntryPrice)
	assert.True(t, decimal.NewFromInt(64000).Equal(*pos.EntryPrice))
	require.NotNil(t, pos.UnrealizedPnl)
	assert.True(t, decimal.NewFromInt(-10).Equal(*pos.UnrealizedPnl))
	assert.True(t, decimal.NewFromInt(650).Equal(perf.CurrentPositionsValue))
	assert.True(t, decimal.NewFromInt(990).Equal(perf.TotalCashValue))
	assert.True(t, decimal.RequireFromString("-0.01").Equal(perf.CurrentTotalReturn))
	exchange.AssertNotCalled(t, "FetchPrice", mock.Anything, mock.Anything)
}

func TestTotalReturn(t *testing.T) {
	testCases := []struct {
		name     string
		total    string
		initial  string
		expected string
	}{
		{"Gain", "105", "100", "0.05"},
		{"Loss", "90", "100", "-0.1"},
		{"Flat", "100", "100", "0"},
		{"ZeroCapital", "105", "0", "0"},
		{"NegativeCapital", "105", "-1", "0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := TotalReturn(decimal.RequireFromString(tc.total), decimal.RequireFromString(tc.initial))
			assert.True(t, decimal.RequireFromString(tc.expected).Equal(got), "got %s", got)
		})
	}
}

func TestResolvePair(t *testing.T) {
	assert.Equal(t, "BTC/USDT", ResolvePair("ZZZ", "USDT").String())
	assert.Equal(t, "BTC/USDT", ResolvePair("", "").String())
	assert.Equal(t, "ETH/USDT", ResolvePair("eth", "usdt").String())
	assert.Equal(t, "DOGE/FDUSD", ResolvePair(" DOGE ", "FDUSD").String())
	assert.Equal(t, "SOLUSDT", ResolvePair("SOL", "USDT").Symbol())
}
