package paper

import (
	"errors"
	"fmt"
)

// Domain rejections surfaced to the HTTP layer, which maps them to
// status codes and {"detail": ...} bodies.
var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidOTP         = errors.New("invalid otp code")
	ErrUnknownAsset       = errors.New("unknown asset")
	ErrInvalidSymbol      = errors.New("invalid symbol")
	ErrDuplicateTokenID   = errors.New("token_id already exists")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotOpen       = errors.New("order is not open")
)

// InsufficientBalanceError names the asset that came up short.
type InsufficientBalanceError struct {
	Asset string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance", e.Asset)
}
