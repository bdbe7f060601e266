package binance

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNotSupported is returned when the configured market does not offer an endpoint,
// e.g. positions on a spot account.
var ErrNotSupported = errors.New("binance: operation not supported by this market")

// Pair is a base/quote trading pair such as BTC/USDT.
type Pair struct {
	Base  string
	Quote string
}

// String renders the pair as BASE/QUOTE.
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Symbol renders the pair the way Binance expects it in requests (BTCUSDT).
func (p Pair) Symbol() string {
	return strings.ToUpper(p.Base + p.Quote)
}

// Ticker is the 24h rolling window summary for a pair.
type Ticker struct {
	Symbol           string          `json:"symbol"`
	Last             decimal.Decimal `json:"lastPrice"`
	High             decimal.Decimal `json:"highPrice"`
	Low              decimal.Decimal `json:"lowPrice"`
	Open             decimal.Decimal `json:"openPrice"`
	BidPrice         decimal.Decimal `json:"bidPrice"`
	AskPrice         decimal.Decimal `json:"askPrice"`
	BaseVolume       decimal.Decimal `json:"volume"`
	PercentageChange decimal.Decimal `json:"priceChangePercent"`
}

// Candle is one OHLCV bar. Timestamp is the open time in milliseconds.
type Candle struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Balance holds the amounts of one currency in the account.
type Balance struct {
	Free  decimal.Decimal
	Used  decimal.Decimal
	Total decimal.Decimal
}

// Position is an open futures position.
type Position struct {
	Symbol        string
	Side          string // "long" or "short"
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	Notional      decimal.Decimal
	UnrealizedPnl decimal.Decimal
	Leverage      int
}

// OrderRequest describes an order to place. Price is only used for LIMIT
// orders, ReduceOnly only on futures markets.
type OrderRequest struct {
	Pair       Pair
	Type       string
	Side       string
	Quantity   decimal.Decimal
	Price      *decimal.Decimal
	ReduceOnly bool
}

// CreateOrderResponse represents the response from creating a new order.
type CreateOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
}

// Timeframe is a candle period expressed in minutes.
type Timeframe int

const (
	Timeframe1m  Timeframe = 1
	Timeframe5m  Timeframe = 5
	Timeframe15m Timeframe = 15
	Timeframe30m Timeframe = 30
	Timeframe1h  Timeframe = 60
	Timeframe4h  Timeframe = 240
	Timeframe12h Timeframe = 720
	Timeframe1d  Timeframe = 1440
)

var timeframes = map[string]Timeframe{
	"1m":  Timeframe1m,
	"5m":  Timeframe5m,
	"15m": Timeframe15m,
	"30m": Timeframe30m,
	"1h":  Timeframe1h,
	"4h":  Timeframe4h,
	"12h": Timeframe12h,
	"1d":  Timeframe1d,
}

// ParseTimeframe maps a timeframe token to its period. Unknown tokens fall back to one minute.
func ParseTimeframe(token string) Timeframe {
	if tf, ok := timeframes[strings.ToLower(strings.TrimSpace(token))]; ok {
		return tf
	}
	return Timeframe1m
}

// Minutes returns the period length in minutes.
func (t Timeframe) Minutes() int {
	return int(t)
}

// Interval returns the kline interval string used by the Binance API.
func (t Timeframe) Interval() string {
	for token, tf := range timeframes {
		if tf == t {
			return token
		}
	}
	return "1m"
}
