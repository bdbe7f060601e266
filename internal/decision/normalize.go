package decision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformed marks a backend response that breaks the decision contract.
var ErrMalformed = errors.New("malformed decision")

const (
	minLeverage   = 1
	maxLeverage   = 20
	agentLeverage = 1
)

var hundredPct = decimal.NewFromInt(100)

// Raw is a backend response before normalization. It is implemented by
// StructuredRaw and ExternalServiceRaw only.
type Raw interface {
	isRaw()
}

// StructuredRaw is the schema-constrained response of an LLM backend.
type StructuredRaw struct {
	Operation      string             `json:"operation"`
	Buy            *RawBuy            `json:"buy"`
	Sell           *RawSell           `json:"sell"`
	RiskAdjustment *RawRiskAdjustment `json:"riskAdjustment"`
	Narrative      string             `json:"narrative"`
	// Reasoning is the disclosed chain of thought; it travels outside the JSON body.
	Reasoning string `json:"-"`
}

type RawBuy struct {
	Pricing  decimal.Decimal `json:"pricing"`
	Amount   decimal.Decimal `json:"amount"`
	Leverage int             `json:"leverage"`
}

type RawSell struct {
	Percentage decimal.Decimal `json:"percentage"`
}

type RawRiskAdjustment struct {
	StopLoss   *decimal.Decimal `json:"stopLoss"`
	TakeProfit *decimal.Decimal `json:"takeProfit"`
}

// ExternalServiceRaw is the response of the external decision service.
type ExternalServiceRaw struct {
	Action     string
	Reasoning  string
	Confidence *float64
}

func (StructuredRaw) isRaw()      {}
func (ExternalServiceRaw) isRaw() {}

// Context is what the normalizer needs besides the raw response.
type Context struct {
	ModelName   string
	PromptLabel string
	// Defaults fill the order of a Buy from a backend that emits no quantities.
	Defaults BuyDefaults
}

// BuyDefaults are the order parameters synthesized for the external service.
type BuyDefaults struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Normalize maps any raw backend response onto the canonical Decision.
func Normalize(raw Raw, ctx Context) (Decision, error) {
	switch r := raw.(type) {
	case StructuredRaw:
		return NormalizeStructured(r, ctx)
	case *StructuredRaw:
		return NormalizeStructured(*r, ctx)
	case ExternalServiceRaw:
		return NormalizeExternal(r, ctx), nil
	case *ExternalServiceRaw:
		return NormalizeExternal(*r, ctx), nil
	default:
		return Decision{}, fmt.Errorf("%w: unsupported raw response %T", ErrMalformed, raw)
	}
}

// NormalizeStructured validates and maps a schema-constrained response.
// Partial risk adjustments are dropped, not treated as errors.
func NormalizeStructured(raw StructuredRaw, ctx Context) (Decision, error) {
	meta := Meta{
		Narrative:   strings.TrimSpace(raw.Narrative),
		Reasoning:   strings.TrimSpace(raw.Reasoning),
		ModelName:   ctx.ModelName,
		PromptLabel: ctx.PromptLabel,
	}
	if meta.Narrative == "" {
		return Decision{}, fmt.Errorf("%w: narrative is required", ErrMalformed)
	}

	op, ok := parseOperation(raw.Operation)
	if !ok {
		return Decision{}, fmt.Errorf("%w: unknown operation %q", ErrMalformed, raw.Operation)
	}

	switch op {
	case Buy:
		if raw.Buy == nil {
			return Decision{}, fmt.Errorf("%w: buy operation without buy parameters", ErrMalformed)
		}
		if raw.Buy.Leverage < minLeverage || raw.Buy.Leverage > maxLeverage {
			return Decision{}, fmt.Errorf("%w: leverage %d outside [%d,%d]", ErrMalformed, raw.Buy.Leverage, minLeverage, maxLeverage)
		}
		return NewBuy(meta, BuyParams{
			Pricing:  raw.Buy.Pricing,
			Amount:   raw.Buy.Amount,
			Leverage: raw.Buy.Leverage,
		}), nil
	case Sell:
		if raw.Sell == nil {
			return Decision{}, fmt.Errorf("%w: sell operation without sell parameters", ErrMalformed)
		}
		pct := raw.Sell.Percentage
		if pct.IsNegative() || pct.GreaterThan(hundredPct) {
			return Decision{}, fmt.Errorf("%w: sell percentage %s outside [0,100]", ErrMalformed, pct)
		}
		return NewSell(meta, SellParams{Percentage: pct}), nil
	default:
		var risk *RiskAdjustment
		if adj := raw.RiskAdjustment; adj != nil && adj.StopLoss != nil && adj.TakeProfit != nil {
			risk = &RiskAdjustment{StopLoss: *adj.StopLoss, TakeProfit: *adj.TakeProfit}
		}
		return NewHold(meta, risk), nil
	}
}

// NormalizeExternal maps an external service response. It never fails: any
// action other than buy or sell is a Hold.
func NormalizeExternal(raw ExternalServiceRaw, ctx Context) Decision {
	narrative := raw.Reasoning
	if raw.Confidence != nil {
		narrative = fmt.Sprintf("%s (confidence: %.2f)", raw.Reasoning, *raw.Confidence)
	}
	meta := Meta{
		Narrative:   narrative,
		Reasoning:   raw.Reasoning,
		ModelName:   ctx.ModelName,
		PromptLabel: ctx.PromptLabel,
	}

	switch ParseAction(raw.Action) {
	case Buy:
		return NewBuy(meta, BuyParams{
			Pricing:  ctx.Defaults.Price,
			Amount:   ctx.Defaults.Amount,
			Leverage: agentLeverage,
		})
	case Sell:
		// No sell payload: the service emits no quantity and the execution
		// layer resolves how much of the position to close.
		return newDecision(Sell, meta)
	default:
		return NewHold(meta, nil)
	}
}

// Unavailable is the Hold recorded when a backend could not be reached.
func Unavailable(backendName string, ctx Context) Decision {
	narrative := fmt.Sprintf("Error calling %s.", backendName)
	return NewHold(Meta{
		Narrative:   narrative,
		Reasoning:   narrative,
		ModelName:   ctx.ModelName,
		PromptLabel: ctx.PromptLabel,
	}, nil)
}

// ParseAction maps a free-form action string case-insensitively. Anything
// unrecognized is Hold.
func ParseAction(action string) Operation {
	if op, ok := parseOperation(action); ok {
		return op
	}
	return Hold
}

func parseOperation(s string) (Operation, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, true
	case "sell":
		return Sell, true
	case "hold":
		return Hold, true
	default:
		return "", false
	}
}
