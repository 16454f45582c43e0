package models

import (
	"time"

	"github.com/crypto-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

// HoldingEntry is the owned quantity of one asset
type HoldingEntry struct {
	AssetID  types.AssetID   `json:"id" db:"asset_id"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"`
}

// TransactionRecord is an immutable ledger entry
type TransactionRecord struct {
	ID         int64                 `json:"id" db:"id"`
	Kind       types.TransactionKind `json:"kind" db:"kind"`
	AssetID    types.AssetID         `json:"assetId" db:"asset_id"`
	Quantity   decimal.Decimal       `json:"quantity" db:"quantity"`
	UnitPrice  decimal.Decimal       `json:"unitPrice" db:"unit_price"`
	TotalValue decimal.Decimal       `json:"totalValue" db:"total_value"`
	Timestamp  time.Time             `json:"timestamp" db:"created_at"`
}

// CopyHoldings returns a detached copy of a holdings list
func CopyHoldings(holdings []HoldingEntry) []HoldingEntry {
	if holdings == nil {
		return []HoldingEntry{}
	}
	out := make([]HoldingEntry, len(holdings))
	copy(out, holdings)
	return out
}

// WalletLedger is the persisted wallet state restored at startup. Transactions
// and History are ascending by time.
type WalletLedger struct {
	Holdings     []HoldingEntry      `json:"holdings"`
	Transactions []TransactionRecord `json:"transactions"`
	History      []PortfolioSnapshot `json:"history"`
}
