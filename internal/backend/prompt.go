package backend

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"llm-trade-bot-go/internal/snapshot"
)

// SystemInstruction frames every structured backend as a single-pair trader.
const SystemInstruction = `You are an autonomous cryptocurrency trader managing one spot or perpetual position.
Every invocation you receive the current market data and the account state.
Decide exactly one operation: Buy, Sell or Hold.
- Buy: fill "buy" with a limit price, a base-asset amount and a leverage between 1 and 20.
- Sell: fill "sell" with the percentage (0-100) of the open position to close.
- Hold: optionally fill "riskAdjustment" with a new stop loss and take profit for the open position.
Leave the payloads of the other operations null. Always explain the decision in "narrative".`

const promptTemplate = `It has been {{.Invocation}} invocations since you started trading. The current time is {{.Now | utc}}.

## MARKET: {{.Snapshot.Pair}}
Current price: {{.Snapshot.CurrentPrice}}
24h open {{.Snapshot.Ticker.Open}}, high {{.Snapshot.Ticker.High}}, low {{.Snapshot.Ticker.Low}}, change {{.Snapshot.Ticker.PercentageChange}}%
Bid {{.Snapshot.Ticker.BidPrice}} / ask {{.Snapshot.Ticker.AskPrice}}, base volume {{.Snapshot.Ticker.BaseVolume}}

Recent {{with .Snapshot.Timeframe.Minutes}}{{.}}-minute {{end}}candles, oldest first (time, open, high, low, close, volume):
{{range .Snapshot.Candles}}{{.Timestamp | ms}}, {{.Open}}, {{.High}}, {{.Low}}, {{.Close}}, {{.Volume}}
{{else}}(none)
{{end}}
## ACCOUNT
Total value: {{.Performance.TotalCashValue}}
Available cash: {{.Performance.AvailableCash}}
Positions value: {{.Performance.CurrentPositionsValue}}
Total return: {{.Performance.CurrentTotalReturn | pct}}
Sharpe ratio: {{.Performance.SharpeRatio}}

Open positions:
{{range .Performance.Positions}}- {{.Symbol}} {{.Side}} qty {{.Quantity}} @ {{.CurrentPrice}} (notional {{.NotionalValue}}, leverage {{.Leverage}}x, entry {{opt .EntryPrice}}, pnl {{opt .UnrealizedPnl}}, stop {{opt .StopLoss}}, target {{opt .TakeProfit}})
{{else}}(none)
{{end}}`

var prompt = template.Must(template.New("prompt").Option("missingkey=error").Funcs(template.FuncMap{
	"utc": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"ms":  func(ts int64) string { return time.UnixMilli(ts).UTC().Format("2006-01-02 15:04") },
	"pct": func(d decimal.Decimal) string { return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%" },
	"opt": func(d *decimal.Decimal) string {
		if d == nil {
			return "n/a"
		}
		return d.String()
	},
}).Parse(promptTemplate))

// Input is the context every backend decides on.
type Input struct {
	Snapshot    *snapshot.MarketSnapshot
	Performance *snapshot.AccountPerformance
	// Invocation is the 1-based index of this cycle, for the prompt only.
	Invocation int
	Now        time.Time
}

// RenderPrompt renders the user prompt with market and account sections.
func RenderPrompt(in Input) (string, error) {
	if in.Snapshot == nil || in.Performance == nil {
		return "", fmt.Errorf("render prompt: snapshot and performance are required")
	}
	var buf bytes.Buffer
	if err := prompt.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
