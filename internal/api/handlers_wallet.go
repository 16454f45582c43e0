package api

import (
	"net/http"

	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

// tradeRequest is the body of a buy or sell. Quantities and prices may be JSON
// numbers or strings. Without a unit price the current market price is used.
type tradeRequest struct {
	AssetID   types.AssetID    `json:"assetId"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

// handleGetHoldings handles GET /api/wallet/holdings
func (s *Server) handleGetHoldings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"holdings": s.wallet.Holdings(),
	})
}

// handleGetTransactions handles GET /api/wallet/transactions, newest first
func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	txs := s.wallet.Transactions()
	out := make([]models.TransactionRecord, len(txs))
	for i, tx := range txs {
		out[len(txs)-1-i] = tx
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": out,
	})
}

// handleGetHistory handles GET /api/wallet/history, oldest first
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"history": s.wallet.PortfolioHistory(),
	})
}

// handleBuy handles POST /api/wallet/buy
func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, types.KindBuy)
}

// handleSell handles POST /api/wallet/sell
func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, types.KindSell)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request, kind types.TransactionKind) {
	var req tradeRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.AssetID <= 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "assetId must be a positive asset id", nil)
		return
	}

	unitPrice, ok := s.tradePrice(r, req)
	if !ok {
		respondError(w, http.StatusServiceUnavailable, ErrCodeDataUnavailable, "no market price available for asset", map[string]interface{}{
			"assetId": req.AssetID,
		})
		return
	}

	trade := s.wallet.Buy
	if kind == types.KindSell {
		trade = s.wallet.Sell
	}

	record, err := trade(r.Context(), req.AssetID, req.Quantity, unitPrice)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, record)
}

// tradePrice returns the requested unit price, or the current market price
// when none was given
func (s *Server) tradePrice(r *http.Request, req tradeRequest) (decimal.Decimal, bool) {
	if req.UnitPrice != nil {
		return *req.UnitPrice, true
	}

	if snap, ok := s.market.Price(req.AssetID); ok {
		return snap.Price, true
	}
	if err := s.market.RefreshPrices(r.Context(), []types.AssetID{req.AssetID}); err != nil {
		return decimal.Zero, false
	}
	snap, ok := s.market.Price(req.AssetID)
	return snap.Price, ok
}
