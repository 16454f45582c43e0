package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is a point-in-time copy of the wallet valuation
type PortfolioSnapshot struct {
	Timestamp  time.Time       `json:"timestamp" db:"captured_at"`
	TotalValue decimal.Decimal `json:"totalValue" db:"total_value"`
	Holdings   []HoldingEntry  `json:"holdings" db:"holdings"`
}
