package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// WalletRepository journals wallet trades and portfolio points in Postgres.
// Every write runs in one transaction so the ledger and the holdings table
// never disagree.
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

// AppendTrade inserts the ledger entry and sets the asset's holding to
// remaining. A zero remaining quantity deletes the holding row.
func (r *WalletRepository) AppendTrade(ctx context.Context, record models.TransactionRecord, remaining decimal.Decimal) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_transactions (
			id, kind, asset_id, quantity, unit_price, total_value, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		record.ID,
		string(record.Kind),
		int64(record.AssetID),
		record.Quantity.String(),
		record.UnitPrice.String(),
		record.TotalValue.String(),
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	if remaining.IsZero() {
		_, err = tx.Exec(ctx, `DELETE FROM holdings WHERE asset_id = $1`, int64(record.AssetID))
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO holdings (asset_id, quantity, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (asset_id)
			DO UPDATE SET
				quantity = EXCLUDED.quantity,
				updated_at = EXCLUDED.updated_at
		`, int64(record.AssetID), remaining.String(), record.Timestamp)
	}
	if err != nil {
		return fmt.Errorf("failed to update holding: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit trade: %w", err)
	}
	return nil
}

// AppendPortfolioPoint inserts a point and keeps only the newest keep points
func (r *WalletRepository) AppendPortfolioPoint(ctx context.Context, point models.PortfolioSnapshot, keep int) error {
	holdingsJSON, err := json.Marshal(models.CopyHoldings(point.Holdings))
	if err != nil {
		return fmt.Errorf("failed to marshal holdings: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO portfolio_history (captured_at, total_value, holdings)
		VALUES ($1, $2, $3)
	`, point.Timestamp, point.TotalValue.String(), holdingsJSON)
	if err != nil {
		return fmt.Errorf("failed to insert portfolio point: %w", err)
	}

	if keep > 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM portfolio_history
			WHERE id NOT IN (
				SELECT id FROM portfolio_history
				ORDER BY captured_at DESC, id DESC
				LIMIT $1
			)
		`, keep)
		if err != nil {
			return fmt.Errorf("failed to trim portfolio history: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit portfolio point: %w", err)
	}
	return nil
}

// Load reads holdings, the full ledger and the portfolio history
func (r *WalletRepository) Load(ctx context.Context) (models.WalletLedger, error) {
	var ledger models.WalletLedger

	holdings, err := r.loadHoldings(ctx)
	if err != nil {
		return ledger, err
	}
	transactions, err := r.loadTransactions(ctx)
	if err != nil {
		return ledger, err
	}
	history, err := r.loadHistory(ctx)
	if err != nil {
		return ledger, err
	}

	ledger.Holdings = holdings
	ledger.Transactions = transactions
	ledger.History = history
	return ledger, nil
}

func (r *WalletRepository) loadHoldings(ctx context.Context) ([]models.HoldingEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT asset_id, quantity::text
		FROM holdings
		ORDER BY asset_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.HoldingEntry, error) {
		var (
			id  int64
			qty string
		)
		if err := row.Scan(&id, &qty); err != nil {
			return models.HoldingEntry{}, fmt.Errorf("failed to scan holding row: %w", err)
		}
		quantity, err := decimal.NewFromString(qty)
		if err != nil {
			return models.HoldingEntry{}, fmt.Errorf("invalid quantity for asset %d: %w", id, err)
		}
		return models.HoldingEntry{AssetID: types.AssetID(id), Quantity: quantity}, nil
	})
}

func (r *WalletRepository) loadTransactions(ctx context.Context) ([]models.TransactionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, asset_id, quantity::text, unit_price::text, total_value::text, created_at
		FROM wallet_transactions
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TransactionRecord, error) {
		var (
			rec                   models.TransactionRecord
			kind                  string
			assetID               int64
			qty, unitPrice, total string
			createdAt             time.Time
		)
		if err := row.Scan(&rec.ID, &kind, &assetID, &qty, &unitPrice, &total, &createdAt); err != nil {
			return rec, fmt.Errorf("failed to scan transaction row: %w", err)
		}

		var err error
		if rec.Quantity, err = decimal.NewFromString(qty); err != nil {
			return rec, fmt.Errorf("invalid quantity in transaction %d: %w", rec.ID, err)
		}
		if rec.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return rec, fmt.Errorf("invalid unit price in transaction %d: %w", rec.ID, err)
		}
		if rec.TotalValue, err = decimal.NewFromString(total); err != nil {
			return rec, fmt.Errorf("invalid total in transaction %d: %w", rec.ID, err)
		}
		rec.Kind = types.TransactionKind(kind)
		rec.AssetID = types.AssetID(assetID)
		rec.Timestamp = createdAt.UTC()
		return rec, nil
	})
}

func (r *WalletRepository) loadHistory(ctx context.Context) ([]models.PortfolioSnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT captured_at, total_value::text, holdings
		FROM portfolio_history
		ORDER BY captured_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio history: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PortfolioSnapshot, error) {
		var (
			point        models.PortfolioSnapshot
			total        string
			holdingsJSON []byte
		)
		if err := row.Scan(&point.Timestamp, &total, &holdingsJSON); err != nil {
			return point, fmt.Errorf("failed to scan portfolio point: %w", err)
		}

		var err error
		if point.TotalValue, err = decimal.NewFromString(total); err != nil {
			return point, fmt.Errorf("invalid portfolio total: %w", err)
		}
		if err := json.Unmarshal(holdingsJSON, &point.Holdings); err != nil {
			return point, fmt.Errorf("failed to unmarshal holdings: %w", err)
		}
		point.Timestamp = point.Timestamp.UTC()
		return point, nil
	})
}
