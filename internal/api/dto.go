package api

import (
	"errors"

	"feedrouter/internal/model"
	"feedrouter/internal/paper"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *registerRequest) validate() error {
	if len(r.Username) < 3 {
		return errors.New("username must be at least 3 characters")
	}
	if len(r.Password) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	OtpCode  string `json:"otp_code,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type depositRequest struct {
	Asset  string  `json:"asset"`
	Amount float64 `json:"amount"`
}

type orderRequest struct {
	TokenID  string  `json:"token_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

func (r *orderRequest) validate() error {
	if len(r.TokenID) < 3 {
		return errors.New("token_id must be at least 3 characters")
	}
	if !model.OrderSide(r.Side).Valid() {
		return errors.New("side must be buy or sell")
	}
	if r.Price <= 0 {
		return errors.New("price must be positive")
	}
	if r.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	return nil
}

type orderResponse struct {
	TokenID string `json:"token_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type orderStatusResponse struct {
	TokenID     string   `json:"token_id"`
	Status      string   `json:"status"`
	Symbol      string   `json:"symbol"`
	Side        string   `json:"side"`
	Price       float64  `json:"price"`
	Quantity    float64  `json:"quantity"`
	FilledPrice *float64 `json:"filled_price"`
	Reason      string   `json:"reason,omitempty"`
}

type balanceLine struct {
	Asset     string  `json:"asset"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

type balanceResponse struct {
	Balances []balanceLine `json:"balances"`
}

type infoResponse struct {
	Assets []string `json:"assets"`
	Pairs  []string `json:"pairs"`
}

type totpSetupResponse struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
}

type totpActivateRequest struct {
	Code string `json:"code"`
}

type fillsResponse struct {
	Fills []paper.Fill `json:"fills"`
}

func orderToStatus(o model.Order) orderStatusResponse {
	resp := orderStatusResponse{
		TokenID:  o.TokenID,
		Status:   string(o.Status),
		Symbol:   o.Symbol,
		Side:     string(o.Side),
		Price:    o.Price.InexactFloat64(),
		Quantity: o.Quantity.InexactFloat64(),
		Reason:   o.Reason,
	}
	if o.FilledPrice != nil {
		fp := o.FilledPrice.InexactFloat64()
		resp.FilledPrice = &fp
	}
	return resp
}
