package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/market"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
	"github.com/gorilla/mux"
)

const maxTopLimit = 500

// marketResponse wraps market data with the cache status it was served under
type marketResponse struct {
	Data   interface{}       `json:"data"`
	Status market.StatusInfo `json:"status"`
}

// respondMarket writes data with the cache status. A refresh error is
// surfaced only when nothing usable is cached or the caller sent bad input;
// otherwise the cached data is served as stale.
func (s *Server) respondMarket(w http.ResponseWriter, r *http.Request, refreshErr error, cached bool, data interface{}) {
	if refreshErr != nil && (!cached || errors.IsInvalidInput(refreshErr)) {
		respondServiceError(w, r, refreshErr)
		return
	}
	respondJSON(w, http.StatusOK, marketResponse{Data: data, Status: s.market.Info()})
}

func sortedPrices(prices map[types.AssetID]models.PriceSnapshot, ids []types.AssetID) []models.PriceSnapshot {
	out := make([]models.PriceSnapshot, 0, len(prices))
	if ids == nil {
		for _, p := range prices {
			out = append(out, p)
		}
	} else {
		for _, id := range ids {
			if p, ok := prices[id]; ok {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// handleGetPrices handles GET /api/market/prices?ids=1,1027. Requested ids that
// are not cached yet are fetched first; without ids every cached price is returned.
func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		respondJSON(w, http.StatusOK, marketResponse{Data: sortedPrices(s.market.Prices(), nil), Status: s.market.Info()})
		return
	}

	ids, err := types.ParseAssetIDs(raw)
	ids = dedupeIDs(ids)
	if err != nil || len(ids) == 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "ids must be a comma separated list of positive asset ids", nil)
		return
	}

	var missing []types.AssetID
	for _, id := range ids {
		if _, ok := s.market.Price(id); !ok {
			missing = append(missing, id)
		}
	}

	var refreshErr error
	if len(missing) > 0 {
		refreshErr = s.market.RefreshPrices(r.Context(), missing)
	}

	prices := sortedPrices(s.market.Prices(), ids)
	s.respondMarket(w, r, refreshErr, len(prices) == len(ids), prices)
}

// handleRefreshPrices handles POST /api/market/prices/refresh. The body may
// name ids; otherwise every cached asset is refreshed.
func (s *Server) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []types.AssetID `json:"ids"`
	}
	if r.ContentLength != 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
			return
		}
	}

	ids := req.IDs
	if len(ids) == 0 {
		for id := range s.market.Prices() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "no asset ids to refresh", nil)
		return
	}

	if err := s.market.RefreshPrices(r.Context(), ids); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, marketResponse{Data: sortedPrices(s.market.Prices(), ids), Status: s.market.Info()})
}

// handleGetTopAssets handles GET /api/market/top?limit=N
func (s *Server) handleGetTopAssets(w http.ResponseWriter, r *http.Request) {
	limit := s.config.TopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", map[string]interface{}{"limit": raw})
			return
		}
		limit = n
	}
	if limit > maxTopLimit {
		limit = maxTopLimit
	}

	refreshErr := s.market.RefreshTopAssets(r.Context(), limit)

	top := s.market.TopAssets()
	if len(top) > limit {
		top = top[:limit]
	}
	s.respondMarket(w, r, refreshErr, len(top) > 0, top)
}

// handleGetHistorical handles GET /api/market/historical/{id}/{timeframe}
func (s *Server) handleGetHistorical(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	id, err := types.ParseAssetID(vars["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	tf, err := types.ParseTimeframe(vars["timeframe"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	refreshErr := s.market.RefreshHistorical(r.Context(), id, tf)

	series, ok := s.market.Historical(id, tf)
	s.respondMarket(w, r, refreshErr, ok, series)
}

// handleGetGlobal handles GET /api/market/global
func (s *Server) handleGetGlobal(w http.ResponseWriter, r *http.Request) {
	refreshErr := s.market.RefreshGlobalMarket(r.Context())

	global, ok := s.market.Global()
	s.respondMarket(w, r, refreshErr, ok, global)
}

// handleGetMarketStatus handles GET /api/market/status
func (s *Server) handleGetMarketStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.market.Info())
}

// handleGetArchive handles GET /api/market/archive/{id}?from=..&to=.. with
// RFC 3339 bounds. The default window is the last 24 hours.
func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotConfigured, "price archive is not configured", nil)
		return
	}

	id, err := types.ParseAssetID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "from must be an RFC 3339 timestamp", nil)
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "to must be an RFC 3339 timestamp", nil)
			return
		}
	}
	if from.After(to) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "from must not be after to", nil)
		return
	}

	points, err := s.archive.Range(r.Context(), id, from, to)
	if err != nil {
		respondServiceError(w, r, errors.NewStorageError("read price archive", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"from":   from,
		"to":     to,
		"points": points,
	})
}

// dedupeIDs drops repeated ids, keeping first occurrence order
func dedupeIDs(ids []types.AssetID) []types.AssetID {
	seen := make(map[types.AssetID]struct{}, len(ids))
	out := make([]types.AssetID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
