// Package types provides common type definitions for the crypto dashboard.
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// AssetID identifies a crypto-asset. It is stable across sessions and is the
// join key between wallet holdings and market data.
type AssetID int64

// String returns the decimal form used by upstream providers as map keys
func (id AssetID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseAssetID parses a decimal asset identifier
func ParseAssetID(s string) (AssetID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid asset id %q: %w", s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid asset id %q: must be positive", s)
	}
	return AssetID(v), nil
}

// ParseAssetIDs parses a comma separated list of asset identifiers
func ParseAssetIDs(s string) ([]AssetID, error) {
	var ids []AssetID
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := ParseAssetID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Mode selects which data source backs market queries
type Mode string

const (
	// ModeSimulated serves deterministic generated data
	ModeSimulated Mode = "simulated"
	// ModeRemote serves data from the remote quotes API
	ModeRemote Mode = "remote"
)

// ParseMode parses a mode string. The legacy "mock"/"real" spellings are accepted.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simulated", "mock":
		return ModeSimulated, nil
	case "remote", "real":
		return ModeRemote, nil
	default:
		return "", fmt.Errorf("unknown data mode %q", s)
	}
}

// Toggle returns the other mode
func (m Mode) Toggle() Mode {
	if m == ModeRemote {
		return ModeSimulated
	}
	return ModeRemote
}

// Timeframe tags a historical series
type Timeframe string

const (
	// TimeframeIntraday covers the last day at hourly resolution
	TimeframeIntraday Timeframe = "intraday"
	// TimeframeWeekly covers the last 7 days at 6 hour resolution
	TimeframeWeekly Timeframe = "weekly"
	// TimeframeMonthly covers the last 30 days at daily resolution
	TimeframeMonthly Timeframe = "monthly"
	// TimeframeQuarterly covers the last 90 days at daily resolution
	TimeframeQuarterly Timeframe = "quarterly"
	// TimeframeYearly covers the last 365 days at weekly resolution
	TimeframeYearly Timeframe = "yearly"
)

// Timeframes lists every supported timeframe, shortest first
var Timeframes = []Timeframe{
	TimeframeIntraday,
	TimeframeWeekly,
	TimeframeMonthly,
	TimeframeQuarterly,
	TimeframeYearly,
}

// ParseTimeframe accepts both the names and the 1d/7d/30d/90d/365d aliases
func ParseTimeframe(s string) (Timeframe, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "intraday", "1d":
		return TimeframeIntraday, nil
	case "weekly", "7d":
		return TimeframeWeekly, nil
	case "monthly", "30d":
		return TimeframeMonthly, nil
	case "quarterly", "90d":
		return TimeframeQuarterly, nil
	case "yearly", "365d":
		return TimeframeYearly, nil
	default:
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
}

// Days returns the span of the timeframe in days
func (tf Timeframe) Days() int {
	switch tf {
	case TimeframeIntraday:
		return 1
	case TimeframeWeekly:
		return 7
	case TimeframeQuarterly:
		return 90
	case TimeframeYearly:
		return 365
	default:
		return 30
	}
}

// IntervalHours returns the spacing between points of the timeframe in hours
func (tf Timeframe) IntervalHours() int {
	switch tf {
	case TimeframeIntraday:
		return 1
	case TimeframeWeekly:
		return 6
	case TimeframeYearly:
		return 24 * 7
	default:
		return 24
	}
}

// TransactionKind is the side of a wallet transaction
type TransactionKind string

const (
	// KindBuy adds quantity to a holding
	KindBuy TransactionKind = "BUY"
	// KindSell removes quantity from a holding
	KindSell TransactionKind = "SELL"
)

// MarketStatus describes the freshness of cached market data
type MarketStatus string

const (
	// StatusEmpty means nothing has been fetched yet
	StatusEmpty MarketStatus = "empty"
	// StatusLoading means a refresh is in flight
	StatusLoading MarketStatus = "loading"
	// StatusFresh means the last refresh succeeded
	StatusFresh MarketStatus = "fresh"
	// StatusStale means cached data is available but the last refresh failed
	StatusStale MarketStatus = "stale"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
