package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"llm-trade-bot-go/internal/config"
)

const (
	spotBaseURL           = "https://api.binance.com"
	spotTestnetBaseURL    = "https://testnet.binance.vision"
	futuresBaseURL        = "https://fapi.binance.com"
	futuresTestnetBaseURL = "https://testnet.binancefuture.com"
	recvWindow            = "5000" // How long a request is valid in milliseconds

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"
)

// ExchangeClient is the exchange capability consumed by the decision cycle.
type ExchangeClient interface {
	GetServerTime(ctx context.Context) (int64, error)
	FetchTicker(ctx context.Context, pair Pair) (*Ticker, error)
	FetchOHLCV(ctx context.Context, pair Pair, timeframe Timeframe, since *time.Time, limit int) ([]Candle, error)
	FetchBalance(ctx context.Context) (map[string]Balance, error)
	FetchPositions(ctx context.Context) ([]Position, error)
	FetchPrice(ctx context.Context, pair Pair) (decimal.Decimal, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*CreateOrderResponse, error)
}

// RestClient is a client for the Binance spot or USDⓈ-M futures REST API.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	futures   bool
	logger    *zap.Logger
	limiter   *rate.Limiter
	// retryBase is the first backoff step; it doubles on every attempt.
	retryBase time.Duration
}

// ensure RestClient implements the interface
var _ ExchangeClient = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	logger = logger.Named("binance")

	var baseURL string
	switch {
	case cfg.Futures && cfg.Testnet:
		baseURL = futuresTestnetBaseURL
	case cfg.Futures:
		baseURL = futuresBaseURL
	case cfg.Testnet:
		baseURL = spotTestnetBaseURL
	default:
		baseURL = spotBaseURL
	}
	if cfg.Testnet {
		logger.Warn("Using Binance Testnet", zap.String("base_url", baseURL))
	} else {
		logger.Info("Using Binance Production API", zap.String("base_url", baseURL))
	}

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    resty.New().SetBaseURL(baseURL),
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		futures:   cfg.Futures,
		logger:    logger,
		limiter:   limiter,
		retryBase: time.Second,
	}
}

// path prefixes an endpoint with the API root of the configured market.
func (c *RestClient) path(endpoint string) string {
	if c.futures {
		return "/fapi/v1" + endpoint
	}
	return "/api/v3" + endpoint
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedQuery adds timestamp and recvWindow to params and appends the signature last.
func (c *RestClient) signedQuery(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	query := params.Encode()
	return query + "&signature=" + c.sign(query)
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	req.SetContext(ctx)

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil && resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			err = fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		} else {
			// Network or other client-side errors
			shouldRetry = ctx.Err() == nil
		}

		if !shouldRetry {
			return nil, err
		}
		if i == maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.retryBase
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().SetResult(&ServerTimeResponse{})
	resp, err := c.doRequest(ctx, http.MethodGet, c.path("/time"), req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	return resp.Result().(*ServerTimeResponse).ServerTime, nil
}

// FetchTicker fetches the 24h ticker statistics for a pair.
func (c *RestClient) FetchTicker(ctx context.Context, pair Pair) (*Ticker, error) {
	req := c.client.R().
		SetQueryParam("symbol", pair.Symbol()).
		SetResult(&Ticker{})

	resp, err := c.doRequest(ctx, http.MethodGet, c.path("/ticker/24hr"), req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticker for %s: %w", pair, err)
	}
	return resp.Result().(*Ticker), nil
}

// FetchPrice fetches the latest trade price for a pair.
func (c *RestClient) FetchPrice(ctx context.Context, pair Pair) (decimal.Decimal, error) {
	type TickerPrice struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}

	req := c.client.R().
		SetQueryParam("symbol", pair.Symbol()).
		SetResult(&TickerPrice{})

	resp, err := c.doRequest(ctx, http.MethodGet, c.path("/ticker/price"), req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch price for %s: %w", pair, err)
	}
	return resp.Result().(*TickerPrice).Price, nil
}

// FetchOHLCV fetches up to limit candles for a pair, optionally starting at since.
func (c *RestClient) FetchOHLCV(ctx context.Context, pair Pair, timeframe Timeframe, since *time.Time, limit int) ([]Candle, error) {
	req := c.client.R().
		SetQueryParam("symbol", pair.Symbol()).
		SetQueryParam("interval", timeframe.Interval())
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if since != nil {
		req.SetQueryParam("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	resp, err := c.doRequest(ctx, http.MethodGet, c.path("/klines"), req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", pair, err)
	}
	return parseKlines(resp.Body())
}

// parseKlines decodes the positional kline arrays:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlines(body []byte) ([]Candle, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid klines payload")
	}
	rows := gjson.ParseBytes(body).Array()
	candles := make([]Candle, 0, len(rows))
	for i, row := range rows {
		cols := row.Array()
		if len(cols) < 6 {
			return nil, fmt.Errorf("kline %d has %d columns", i, len(cols))
		}
		candle := Candle{Timestamp: cols[0].Int()}
		fields := []*decimal.Decimal{&candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.Volume}
		for j, field := range fields {
			v, err := decimal.NewFromString(cols[j+1].String())
			if err != nil {
				return nil, fmt.Errorf("kline %d column %d: %w", i, j+1, err)
			}
			*field = v
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// FetchBalance returns the account balances keyed by currency.
func (c *RestClient) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	endpoint := "/api/v3/account"
	if c.futures {
		endpoint = "/fapi/v2/balance"
	}

	req := c.client.R().SetHeader("X-MBX-APIKEY", c.apiKey)
	resp, err := c.doRequest(ctx, http.MethodGet, endpoint+"?"+c.signedQuery(url.Values{}), req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	balances := make(map[string]Balance)
	if c.futures {
		for _, item := range gjson.ParseBytes(resp.Body()).Array() {
			total := decimalOf(item.Get("balance"))
			free := decimalOf(item.Get("availableBalance"))
			balances[item.Get("asset").String()] = Balance{Free: free, Used: total.Sub(free), Total: total}
		}
		return balances, nil
	}

	for _, item := range gjson.GetBytes(resp.Body(), "balances").Array() {
		free := decimalOf(item.Get("free"))
		locked := decimalOf(item.Get("locked"))
		balances[item.Get("asset").String()] = Balance{Free: free, Used: locked, Total: free.Add(locked)}
	}
	return balances, nil
}

// FetchPositions returns open futures positions. Spot markets have no positions
// endpoint and return ErrNotSupported.
func (c *RestClient) FetchPositions(ctx context.Context) ([]Position, error) {
	if !c.futures {
		return nil, ErrNotSupported
	}

	req := c.client.R().SetHeader("X-MBX-APIKEY", c.apiKey)
	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk?"+c.signedQuery(url.Values{}), req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}

	var positions []Position
	for _, item := range gjson.ParseBytes(resp.Body()).Array() {
		amount := decimalOf(item.Get("positionAmt"))
		if amount.IsZero() {
			continue
		}
		side := "long"
		if amount.IsNegative() {
			side = "short"
		}
		positions = append(positions, Position{
			Symbol:        item.Get("symbol").String(),
			Side:          side,
			Quantity:      amount.Abs(),
			EntryPrice:    decimalOf(item.Get("entryPrice")),
			MarkPrice:     decimalOf(item.Get("markPrice")),
			Notional:      decimalOf(item.Get("notional")).Abs(),
			UnrealizedPnl: decimalOf(item.Get("unRealizedProfit")),
			Leverage:      int(item.Get("leverage").Int()),
		})
	}
	return positions, nil
}

// CreateOrder places a new MARKET or LIMIT order.
func (c *RestClient) CreateOrder(ctx context.Context, order OrderRequest) (*CreateOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", order.Pair.Symbol())
	params.Set("side", order.Side)
	params.Set("type", order.Type)
	params.Set("quantity", order.Quantity.String())
	if order.Type == OrderTypeLimit {
		if order.Price == nil {
			return nil, fmt.Errorf("limit order for %s requires a price", order.Pair)
		}
		params.Set("price", order.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if order.ReduceOnly && c.futures {
		params.Set("reduceOnly", "true")
	}

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(c.signedQuery(params)).
		SetResult(&CreateOrderResponse{})

	resp, err := c.doRequest(ctx, http.MethodPost, c.path("/order"), req)
	if err != nil {
		c.logger.Error("Failed to create order after multiple attempts",
			zap.Error(err),
			zap.String("symbol", order.Pair.Symbol()),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*CreateOrderResponse)
	c.logger.Info("Successfully created order", zap.Any("order", result))
	return result, nil
}

func decimalOf(r gjson.Result) decimal.Decimal {
	d, err := decimal.NewFromString(r.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
