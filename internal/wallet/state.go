// Package wallet holds the simulated wallet: holdings, the append-only
// transaction ledger and a capped portfolio value history.
package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/logging"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

// MaxPortfolioHistory is the number of portfolio points retained
const MaxPortfolioHistory = 90

// Journal persists wallet mutations. AppendTrade must store the ledger entry and
// the resulting holding quantity atomically; a zero remaining quantity deletes
// the holding.
type Journal interface {
	AppendTrade(ctx context.Context, record models.TransactionRecord, remaining decimal.Decimal) error
	AppendPortfolioPoint(ctx context.Context, point models.PortfolioSnapshot, keep int) error
	Load(ctx context.Context) (models.WalletLedger, error)
}

// NopJournal keeps nothing
type NopJournal struct{}

func (NopJournal) AppendTrade(context.Context, models.TransactionRecord, decimal.Decimal) error {
	return nil
}

func (NopJournal) AppendPortfolioPoint(context.Context, models.PortfolioSnapshot, int) error {
	return nil
}

func (NopJournal) Load(context.Context) (models.WalletLedger, error) {
	return models.WalletLedger{}, nil
}

// State is the wallet. All mutations are serialized; a mutation is applied in
// memory only after the journal accepted it.
type State struct {
	mu           sync.RWMutex
	holdings     map[types.AssetID]decimal.Decimal
	transactions []models.TransactionRecord
	history      []models.PortfolioSnapshot
	lastID       int64

	journal Journal
	now     func() time.Time
	logger  *logging.Logger
}

// Option configures a State
type Option func(*State)

// WithJournal persists mutations through j
func WithJournal(j Journal) Option {
	return func(s *State) {
		s.journal = j
	}
}

// WithClock overrides the clock used to timestamp transactions
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		s.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *State) {
		s.logger = l
	}
}

// NewState creates an empty wallet
func NewState(opts ...Option) *State {
	s := &State{
		holdings: make(map[types.AssetID]decimal.Decimal),
		journal:  NopJournal{},
		now:      time.Now,
		logger:   logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("wallet")
	return s
}

// Load replaces the in-memory wallet with the journal's contents
func (s *State) Load(ctx context.Context) error {
	ledger, err := s.journal.Load(ctx)
	if err != nil {
		return errors.NewStorageError("load wallet", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.holdings = make(map[types.AssetID]decimal.Decimal, len(ledger.Holdings))
	for _, h := range ledger.Holdings {
		if h.Quantity.IsPositive() {
			s.holdings[h.AssetID] = h.Quantity
		}
	}

	s.transactions = append([]models.TransactionRecord(nil), ledger.Transactions...)
	s.lastID = 0
	for _, tx := range s.transactions {
		if tx.ID > s.lastID {
			s.lastID = tx.ID
		}
	}

	history := ledger.History
	if len(history) > MaxPortfolioHistory {
		history = history[len(history)-MaxPortfolioHistory:]
	}
	s.history = make([]models.PortfolioSnapshot, len(history))
	for i, p := range history {
		p.Holdings = models.CopyHoldings(p.Holdings)
		s.history[i] = p
	}

	s.logger.WithFields(map[string]interface{}{
		"holdings":     len(s.holdings),
		"transactions": len(s.transactions),
		"history":      len(s.history),
	}).Info("Wallet loaded")
	return nil
}

func validateTrade(id types.AssetID, qty, unitPrice decimal.Decimal) error {
	if id <= 0 {
		return errors.NewInvalidInputError("id", "asset id must be positive")
	}
	if !qty.IsPositive() {
		return errors.NewInvalidInputError("quantity", "must be greater than zero")
	}
	if !unitPrice.IsPositive() {
		return errors.NewInvalidInputError("unitPrice", "must be greater than zero")
	}
	return nil
}

// Buy adds qty of id to the wallet at unitPrice and appends a BUY record
func (s *State) Buy(ctx context.Context, id types.AssetID, qty, unitPrice decimal.Decimal) (models.TransactionRecord, error) {
	return s.trade(ctx, types.KindBuy, id, qty, unitPrice, time.Time{})
}

// Sell removes qty of id from the wallet at unitPrice and appends a SELL record.
// Selling the whole holding deletes it; selling more than held is rejected.
func (s *State) Sell(ctx context.Context, id types.AssetID, qty, unitPrice decimal.Decimal) (models.TransactionRecord, error) {
	return s.trade(ctx, types.KindSell, id, qty, unitPrice, time.Time{})
}

func (s *State) trade(ctx context.Context, kind types.TransactionKind, id types.AssetID, qty, unitPrice decimal.Decimal, at time.Time) (models.TransactionRecord, error) {
	if err := validateTrade(id, qty, unitPrice); err != nil {
		return models.TransactionRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	held := s.holdings[id]
	var remaining decimal.Decimal
	switch kind {
	case types.KindBuy:
		remaining = held.Add(qty)
	case types.KindSell:
		if held.LessThan(qty) {
			return models.TransactionRecord{}, errors.NewInsufficientHoldingsError(id, held.String(), qty.String())
		}
		remaining = held.Sub(qty)
	}

	if at.IsZero() {
		at = s.now().UTC()
	}
	record := models.TransactionRecord{
		ID:         s.lastID + 1,
		Kind:       kind,
		AssetID:    id,
		Quantity:   qty,
		UnitPrice:  unitPrice,
		TotalValue: qty.Mul(unitPrice),
		Timestamp:  at,
	}

	if err := s.journal.AppendTrade(ctx, record, remaining); err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"kind":    kind,
			"assetId": id,
		}).Error("Failed to journal trade")
		return models.TransactionRecord{}, errors.NewStorageError("record trade", err)
	}

	if remaining.IsZero() {
		delete(s.holdings, id)
	} else {
		s.holdings[id] = remaining
	}
	s.transactions = append(s.transactions, record)
	s.lastID = record.ID

	s.logger.WithFields(map[string]interface{}{
		"kind":     kind,
		"assetId":  id,
		"quantity": qty.String(),
		"price":    unitPrice.String(),
	}).Debug("Trade applied")
	return record, nil
}

// RecordPortfolioPoint appends a valuation point, evicting the oldest beyond
// MaxPortfolioHistory
func (s *State) RecordPortfolioPoint(ctx context.Context, ts time.Time, total decimal.Decimal, holdings []models.HoldingEntry) error {
	point := models.PortfolioSnapshot{
		Timestamp:  ts.UTC(),
		TotalValue: total,
		Holdings:   models.CopyHoldings(holdings),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.journal.AppendPortfolioPoint(ctx, point, MaxPortfolioHistory); err != nil {
		return errors.NewStorageError("record portfolio point", err)
	}

	s.history = append(s.history, point)
	if over := len(s.history) - MaxPortfolioHistory; over > 0 {
		s.history = append([]models.PortfolioSnapshot(nil), s.history[over:]...)
	}
	return nil
}

// Holdings returns the current holdings sorted by asset id
func (s *State) Holdings() []models.HoldingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.HoldingEntry, 0, len(s.holdings))
	for id, qty := range s.holdings {
		out = append(out, models.HoldingEntry{AssetID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Holding returns the held quantity of id
func (s *State) Holding(id types.AssetID) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qty, ok := s.holdings[id]
	return qty, ok
}

// Transactions returns the ledger, oldest first
func (s *State) Transactions() []models.TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TransactionRecord{}, s.transactions...)
}

// PortfolioHistory returns the retained valuation points, oldest first
func (s *State) PortfolioHistory() []models.PortfolioSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PortfolioSnapshot, len(s.history))
	for i, p := range s.history {
		p.Holdings = models.CopyHoldings(p.Holdings)
		out[i] = p
	}
	return out
}

// IsEmpty reports whether the wallet has never traded
func (s *State) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.holdings) == 0 && len(s.transactions) == 0
}
