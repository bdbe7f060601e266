package models

import "github.com/shopspring/decimal"

// Operation is the kind of order intent recorded for a decision.
type Operation string

const (
	OperationBuy  Operation = "Buy"
	OperationSell Operation = "Sell"
	OperationHold Operation = "Hold"
)

// Trading is the order intent attached to a Chat. Optional columns stay NULL
// when the decision did not carry them.
type Trading struct {
	ID         uint                `gorm:"primaryKey" json:"id"`
	ChatID     string              `gorm:"type:varchar(36);not null;index" json:"chat_id"`
	Symbol     string              `gorm:"type:varchar(16);not null" json:"symbol"`
	Operation  Operation           `gorm:"type:varchar(8);not null" json:"operation"`
	Pricing    decimal.NullDecimal `gorm:"type:decimal(28,10)" json:"pricing"`
	Amount     decimal.NullDecimal `gorm:"type:decimal(28,10)" json:"amount"`
	Leverage   *int                `json:"leverage"`
	StopLoss   decimal.NullDecimal `gorm:"type:decimal(28,10)" json:"stop_loss"`
	TakeProfit decimal.NullDecimal `gorm:"type:decimal(28,10)" json:"take_profit"`
}
