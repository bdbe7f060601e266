package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Metric is a periodic capture of account performance.
type Metric struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	TotalCashValue decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"total_cash_value"`
	AvailableCash  decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"available_cash"`
	PositionsValue decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"positions_value"`
	TotalReturn    decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"total_return"`
	PositionCount  int             `json:"position_count"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}
