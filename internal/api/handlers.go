package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"feedrouter/internal/model"
	"feedrouter/internal/paper"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.engine.Register(req.Username, req.Password); err != nil {
		s.writeEngineError(w, err)
		return
	}
	token, err := s.tokens.Issue(req.Username)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.engine.Authenticate(req.Username, req.Password, req.OtpCode); err != nil {
		s.writeEngineError(w, err)
		return
	}
	token, err := s.tokens.Issue(req.Username)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Assets: s.engine.Assets(),
		Pairs:  s.symbols,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeDetail(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	username := userFrom(r.Context())
	if err := s.engine.Deposit(username, req.Asset, decimal.NewFromFloat(req.Amount)); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	username := userFrom(r.Context())
	order, err := s.engine.PlaceOrder(username, req.TokenID, req.Symbol,
		model.OrderSide(req.Side), decimal.NewFromFloat(req.Price), decimal.NewFromFloat(req.Quantity))
	if err != nil {
		if s.OnOrderRejected != nil {
			s.OnOrderRejected()
		}
		s.writeEngineError(w, err)
		return
	}
	if s.OnOrderPlaced != nil {
		s.OnOrderPlaced()
	}
	writeJSON(w, http.StatusOK, orderResponse{TokenID: order.TokenID, Status: string(order.Status)})
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	username := userFrom(r.Context())
	tokenID := mux.Vars(r)["token_id"]

	order, err := s.engine.GetOrder(username, tokenID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToStatus(order))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	username := userFrom(r.Context())
	tokenID := mux.Vars(r)["token_id"]

	if err := s.engine.CancelOrder(username, tokenID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	if s.OnOrderCancelled != nil {
		s.OnOrderCancelled()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	username := userFrom(r.Context())
	lines := make([]balanceLine, 0)
	for _, b := range s.engine.Balances(username) {
		lines = append(lines, balanceLine{
			Asset:     b.Asset,
			Total:     b.Total.InexactFloat64(),
			Available: b.Available.InexactFloat64(),
		})
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balances: lines})
}

func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	username := userFrom(r.Context())
	enr, err := s.engine.BeginTOTP(username)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totpSetupResponse{Secret: enr.Secret, OtpauthURL: enr.OtpauthURL})
}

func (s *Server) handleTOTPActivate(w http.ResponseWriter, r *http.Request) {
	var req totpActivateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	username := userFrom(r.Context())
	if err := s.engine.ActivateTOTP(username, req.Code); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	username := userFrom(r.Context())
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	fills, err := s.journal.RecentFills(username, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("fills query failed")
		writeDetail(w, http.StatusInternalServerError, "fills query failed")
		return
	}
	if fills == nil {
		fills = []paper.Fill{}
	}
	writeJSON(w, http.StatusOK, fillsResponse{Fills: fills})
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeDetail(w, http.StatusNotFound, "candle archive disabled")
		return
	}

	q := r.URL.Query()
	symbol := q.Get("symbol")
	venue := q.Get("exchange")
	if venue == "" {
		venue = model.VenueAll
	}
	interval, err := strconv.Atoi(q.Get("interval"))
	if symbol == "" || err != nil || interval <= 0 {
		writeDetail(w, http.StatusBadRequest, "symbol and interval are required")
		return
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	candles, err := s.archive.Recent(symbol, venue, interval, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("candle query failed")
		writeDetail(w, http.StatusInternalServerError, "candle query failed")
		return
	}
	if candles == nil {
		candles = []model.KlineEvent{}
	}
	writeJSON(w, http.StatusOK, candles)
}

// writeEngineError maps domain errors onto status codes and the
// {"detail": ...} body.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var insufficient *paper.InsufficientBalanceError
	switch {
	case errors.Is(err, paper.ErrInvalidCredentials), errors.Is(err, paper.ErrInvalidOTP):
		writeDetail(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, paper.ErrOrderNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, paper.ErrUserExists),
		errors.Is(err, paper.ErrUnknownAsset),
		errors.Is(err, paper.ErrInvalidSymbol),
		errors.Is(err, paper.ErrDuplicateTokenID),
		errors.Is(err, paper.ErrOrderNotOpen),
		errors.As(err, &insufficient):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("unhandled engine error")
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}
