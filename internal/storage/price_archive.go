package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
)

// PriceArchive appends every accepted price snapshot to ClickHouse. The table
// is insert-only; reads are for reporting and never feed the market cache.
type PriceArchive struct {
	conn driver.Conn
	mode func() types.Mode
}

// NewPriceArchive creates an archive writer. mode reports the data mode the
// snapshots were fetched under and may be nil.
func NewPriceArchive(db *ClickHouseDB, mode func() types.Mode) *PriceArchive {
	return &PriceArchive{conn: db.Conn(), mode: mode}
}

// RecordPrices writes snapshots in a single batch
func (a *PriceArchive) RecordPrices(ctx context.Context, snapshots []models.PriceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	mode := ""
	if a.mode != nil {
		mode = string(a.mode())
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO price_snapshots (
			asset_id,
			symbol,
			name,
			price,
			percent_change_24h,
			percent_change_7d,
			percent_change_30d,
			market_cap,
			volume_24h,
			last_updated,
			data_mode,
			recorded_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	recordedAt := time.Now().UTC()
	for _, s := range snapshots {
		err := batch.Append(
			uint64(s.AssetID), // #nosec G115 - asset ids are positive
			s.Symbol,
			s.Name,
			s.Price,
			s.PercentChange24h,
			s.PercentChange7d,
			s.PercentChange30d,
			s.MarketCap,
			s.Volume24h,
			s.LastUpdated.UTC(),
			mode,
			recordedAt,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append snapshot for asset %d: %w", s.AssetID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// ArchivedPoint is one archived price observation
type ArchivedPoint struct {
	Price       float64   `json:"price"`
	LastUpdated time.Time `json:"lastUpdated"`
	DataMode    string    `json:"dataMode"`
}

// Range returns archived prices for one asset within [from, to], oldest first
func (a *PriceArchive) Range(ctx context.Context, id types.AssetID, from, to time.Time) ([]ArchivedPoint, error) {
	rows, err := a.conn.Query(ctx, `
		SELECT toFloat64(price), last_updated, data_mode
		FROM price_snapshots
		WHERE asset_id = ?
			AND last_updated >= ?
			AND last_updated <= ?
		ORDER BY last_updated ASC
	`, uint64(id), from.UTC(), to.UTC()) // #nosec G115 - asset ids are positive
	if err != nil {
		return nil, fmt.Errorf("failed to query price archive: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var points []ArchivedPoint
	for rows.Next() {
		var p ArchivedPoint
		if err := rows.Scan(&p.Price, &p.LastUpdated, &p.DataMode); err != nil {
			return nil, fmt.Errorf("failed to scan archived price: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate archived prices: %w", err)
	}
	return points, nil
}
