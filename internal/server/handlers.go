package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rickgao/kabu-market/internal/exchange"
	"github.com/rickgao/kabu-market/internal/model"
	"github.com/rickgao/kabu-market/internal/version"
)

type marketResponse struct {
	Price             int64 `json:"price"`
	Delta             int64 `json:"delta"`
	LastUpdateDay     int   `json:"last_update_day"`
	DaysUntilBoundary int   `json:"days_until_boundary"`
	UnitSize          int64 `json:"unit_size"`
}

type balanceResponse struct {
	Player   model.PlayerID `json:"player"`
	Quantity int64          `json:"quantity"`
}

type leaderboardResponse struct {
	Holdings []model.Holding `json:"holdings"`
	Count    int             `json:"count"`
}

type tradeRequest struct {
	Amount int64 `json:"amount"`
}

type evaluateRequest struct {
	Day int `json:"day"` // 0 = today
}

type evaluateResponse struct {
	Outcome string            `json:"outcome"`
	State   stateResponse     `json:"state"`
	Event   *model.PriceEvent `json:"event,omitempty"`
}

type stateResponse struct {
	Price         int64 `json:"price"`
	Delta         int64 `json:"delta"`
	LastUpdateDay int   `json:"last_update_day"`
}

func toStateResponse(s model.MarketState) stateResponse {
	return stateResponse{Price: s.Price, Delta: s.Delta, LastUpdateDay: s.LastUpdateDay}
}

type priceRequest struct {
	Price int64 `json:"price"`
}

type deltaRequest struct {
	Delta int64 `json:"delta"`
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

func (s *Server) playerID(w http.ResponseWriter, r *http.Request) (model.PlayerID, bool) {
	id, err := model.ParsePlayerID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidPlayer, err.Error())
		return id, false
	}
	return id, true
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Version    string         `json:"version"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Version:    version.String(),
		Components: make(map[string]any),
	}

	if err := s.deps.Market.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.Components["store"] = map[string]string{
			"status": "disconnected",
			"error":  err.Error(),
		}
	} else {
		health.Components["store"] = "connected"
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Market.State(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := marketResponse{
		Price:             state.Price,
		Delta:             state.Delta,
		LastUpdateDay:     state.LastUpdateDay,
		DaysUntilBoundary: s.deps.Market.DaysUntilNextBoundary(),
	}
	if s.deps.Exchange != nil {
		resp.UnitSize = s.deps.Exchange.UnitSize()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "n must be an integer")
			return
		}
		n = parsed
	}

	holdings, err := s.deps.Market.TopN(r.Context(), n)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Holdings: holdings, Count: len(holdings)})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playerID(w, r)
	if !ok {
		return
	}
	qty, err := s.deps.Market.BalanceOf(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Player: id, Quantity: qty})
}

func (s *Server) getWelcome(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playerID(w, r)
	if !ok {
		return
	}
	welcome, ok, err := s.deps.Market.Welcome(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, welcome)
}

func (s *Server) postBuy(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, s.deps.Exchange.Buy)
}

func (s *Server) postSell(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, s.deps.Exchange.Sell)
}

func (s *Server) trade(w http.ResponseWriter, r *http.Request, do func(context.Context, model.PlayerID, int64) (exchange.Receipt, error)) {
	id, ok := s.playerID(w, r)
	if !ok {
		return
	}
	var req tradeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	receipt, err := do(r.Context(), id, req.Amount)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) postEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
			return
		}
	}

	res, err := s.deps.Market.ForceEvaluate(r.Context(), req.Day)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{
		Outcome: string(res.Outcome),
		State:   toStateResponse(res.State),
		Event:   res.Event,
	})
}

func (s *Server) putPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	state, err := s.deps.Market.OverridePrice(r.Context(), req.Price)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

func (s *Server) putDelta(w http.ResponseWriter, r *http.Request) {
	var req deltaRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	state, err := s.deps.Market.OverrideDelta(r.Context(), req.Delta)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

func (s *Server) putState(w http.ResponseWriter, r *http.Request) {
	var req stateResponse
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	state := model.MarketState{Price: req.Price, Delta: req.Delta, LastUpdateDay: req.LastUpdateDay}
	if err := state.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if err := s.deps.Market.Restore(r.Context(), state); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

func (s *Server) postAdjust(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playerID(w, r)
	if !ok {
		return
	}
	var req deltaRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	qty, err := s.deps.Market.AdjustBalance(r.Context(), id, req.Delta)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Player: id, Quantity: qty})
}

func (s *Server) putBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.playerID(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	if err := s.deps.Market.SetBalance(r.Context(), id, req.Quantity); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Player: id, Quantity: req.Quantity})
}

func (s *Server) deleteBalances(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Market.ClearAllBalances(r.Context()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
