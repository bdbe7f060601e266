// Package decision holds the backend-agnostic trade decision and the
// normalization of raw backend responses into it.
package decision

import "github.com/shopspring/decimal"

// NoReasoning is recorded when a backend does not disclose its chain of thought.
const NoReasoning = "no reasoning available"

// Operation is the action a decision asks for.
type Operation string

const (
	Buy  Operation = "Buy"
	Sell Operation = "Sell"
	Hold Operation = "Hold"
)

// BuyParams are the order parameters of a Buy decision.
type BuyParams struct {
	Pricing  decimal.Decimal
	Amount   decimal.Decimal
	Leverage int
}

// SellParams are the parameters of a Sell decision. Percentage is of the open position.
type SellParams struct {
	Percentage decimal.Decimal
}

// RiskAdjustment moves the protective levels of the open position on Hold.
type RiskAdjustment struct {
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Meta carries the bookkeeping fields common to every decision.
type Meta struct {
	Narrative   string
	Reasoning   string
	ModelName   string
	PromptLabel string
}

// Decision is the canonical decision record. The payload fields are only set
// through the constructors, so at most one of them is populated and it always
// matches Operation. A Hold without risk adjustment and a Sell from the
// external service carry no payload.
type Decision struct {
	Operation Operation
	Meta

	buy  *BuyParams
	sell *SellParams
	risk *RiskAdjustment
}

func newDecision(op Operation, meta Meta) Decision {
	if meta.Reasoning == "" {
		meta.Reasoning = NoReasoning
	}
	return Decision{Operation: op, Meta: meta}
}

// NewBuy builds a Buy decision.
func NewBuy(meta Meta, params BuyParams) Decision {
	d := newDecision(Buy, meta)
	d.buy = &params
	return d
}

// NewSell builds a Sell decision.
func NewSell(meta Meta, params SellParams) Decision {
	d := newDecision(Sell, meta)
	d.sell = &params
	return d
}

// NewHold builds a Hold decision. risk may be nil.
func NewHold(meta Meta, risk *RiskAdjustment) Decision {
	d := newDecision(Hold, meta)
	if risk != nil {
		r := *risk
		d.risk = &r
	}
	return d
}

// Buy returns the buy parameters, if this is a Buy decision.
func (d Decision) Buy() (BuyParams, bool) {
	if d.buy == nil {
		return BuyParams{}, false
	}
	return *d.buy, true
}

// Sell returns the sell parameters, if this is a Sell decision.
func (d Decision) Sell() (SellParams, bool) {
	if d.sell == nil {
		return SellParams{}, false
	}
	return *d.sell, true
}

// RiskAdjustment returns the stop-loss/take-profit update of a Hold decision, if any.
func (d Decision) RiskAdjustment() (RiskAdjustment, bool) {
	if d.risk == nil {
		return RiskAdjustment{}, false
	}
	return *d.risk, true
}
