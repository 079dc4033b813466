// Package paper is the paper-trading account engine: registration,
// balances, limit orders with fund reservation, and fills against the
// synthetic best-touch. All state lives under one mutex and is
// snapshotted to disk after every mutation.
package paper

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feedrouter/internal/auth"
	"feedrouter/internal/model"
	"feedrouter/internal/store/snapshot"
)

// Saver persists a full state document.
type Saver interface {
	Save(snapshot.Document) error
}

// AssetBalance is one row of a /balance response.
type AssetBalance struct {
	Asset     string          `json:"asset"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// Engine owns all account state. Mutations copy the state under the
// lock and persist the copy outside it, so a slow disk never stalls
// the matcher.
type Engine struct {
	mu           sync.Mutex
	users        map[string]model.User
	balances     map[string]map[string]model.Balance
	orders       map[string]model.Order
	openBySymbol map[string][]string

	symbols map[string]bool
	assets  []string

	store Saver
	log   zerolog.Logger

	// OnFill runs outside the lock after a fill persists. Wired to the
	// journal, notifications and metrics.
	OnFill func(model.Order)
	// OnSnapshot observes every persistence attempt.
	OnSnapshot func(err error)
}

// NewEngine builds an engine over a loaded state document. symbols is
// the tradable universe; the asset set derives from it.
func NewEngine(doc snapshot.Document, symbols []string, store Saver, log zerolog.Logger) *Engine {
	symSet := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		symSet[s] = true
	}
	return &Engine{
		users:        doc.Users,
		balances:     doc.Balances,
		orders:       doc.Orders,
		openBySymbol: doc.OpenOrdersBySymbol,
		symbols:      symSet,
		assets:       model.Assets(symbols),
		store:        store,
		log:          log,
	}
}

// Assets returns the configured asset universe, sorted.
func (e *Engine) Assets() []string { return e.assets }

// ValidSymbol reports whether the symbol is tradable.
func (e *Engine) ValidSymbol(symbol string) bool { return e.symbols[symbol] }

// Register creates a user and returns ErrUserExists on duplicates.
func (e *Engine) Register(username, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if _, ok := e.users[username]; ok {
		e.mu.Unlock()
		return ErrUserExists
	}
	e.users[username] = model.User{Username: username, PasswordHash: hash}
	if e.balances[username] == nil {
		e.balances[username] = make(map[string]model.Balance)
	}
	doc := e.copyStateLocked()
	e.mu.Unlock()

	e.persist(doc)
	return nil
}

// Authenticate checks credentials and, when two-factor is enabled, the
// TOTP code. Unknown users and bad passwords both return
// ErrInvalidCredentials.
func (e *Engine) Authenticate(username, password, otpCode string) error {
	e.mu.Lock()
	user, ok := e.users[username]
	e.mu.Unlock()

	if !ok || !auth.VerifyPassword(password, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if user.TOTPEnabled {
		if otpCode == "" || !auth.ValidateTOTP(otpCode, user.TOTPSecret) {
			return ErrInvalidOTP
		}
	}
	return nil
}

// BeginTOTP generates and stores a pending TOTP secret for the user.
// The secret is not enforced until ActivateTOTP verifies a first code.
func (e *Engine) BeginTOTP(username string) (auth.Enrollment, error) {
	enr, err := auth.BeginTOTPEnrollment(username)
	if err != nil {
		return auth.Enrollment{}, err
	}

	e.mu.Lock()
	user, ok := e.users[username]
	if !ok {
		e.mu.Unlock()
		return auth.Enrollment{}, ErrInvalidCredentials
	}
	user.TOTPSecret = enr.Secret
	user.TOTPEnabled = false
	e.users[username] = user
	doc := e.copyStateLocked()
	e.mu.Unlock()

	e.persist(doc)
	return enr, nil
}

// ActivateTOTP verifies a code against the pending secret and enables
// two-factor for the user.
func (e *Engine) ActivateTOTP(username, code string) error {
	e.mu.Lock()
	user, ok := e.users[username]
	if !ok || user.TOTPSecret == "" {
		e.mu.Unlock()
		return ErrInvalidOTP
	}
	if !auth.ValidateTOTP(code, user.TOTPSecret) {
		e.mu.Unlock()
		return ErrInvalidOTP
	}
	user.TOTPEnabled = true
	e.users[username] = user
	doc := e.copyStateLocked()
	e.mu.Unlock()

	e.persist(doc)
	return nil
}

// Deposit credits an asset. The asset must belong to the configured
// universe and the amount must be positive.
func (e *Engine) Deposit(username, asset string, amount decimal.Decimal) error {
	if !e.knownAsset(asset) {
		return ErrUnknownAsset
	}

	e.mu.Lock()
	bal := e.balanceLocked(username, asset)
	bal.Total = bal.Total.Add(amount)
	bal.Available = bal.Available.Add(amount)
	e.balances[username][asset] = bal
	doc := e.copyStateLocked()
	e.mu.Unlock()

	e.persist(doc)
	return nil
}

// PlaceOrder reserves funds and opens a limit order. Buys reserve
// price*quantity of the quote asset, sells reserve quantity of the
// base asset.
func (e *Engine) PlaceOrder(username, tokenID, symbol string, side model.OrderSide, price, qty decimal.Decimal) (model.Order, error) {
	if !e.symbols[symbol] {
		return model.Order{}, ErrInvalidSymbol
	}

	e.mu.Lock()
	if _, exists := e.orders[tokenID]; exists {
		e.mu.Unlock()
		return model.Order{}, ErrDuplicateTokenID
	}

	base, quote := model.SplitSymbol(symbol)
	var reserved decimal.Decimal
	if side == model.SideBuy {
		cost := price.Mul(qty)
		bal := e.balanceLocked(username, quote)
		if bal.Available.LessThan(cost) {
			e.mu.Unlock()
			return model.Order{}, &InsufficientBalanceError{Asset: quote}
		}
		bal.Available = bal.Available.Sub(cost)
		e.balances[username][quote] = bal
		reserved = cost
	} else {
		bal := e.balanceLocked(username, base)
		if bal.Available.LessThan(qty) {
			e.mu.Unlock()
			return model.Order{}, &InsufficientBalanceError{Asset: base}
		}
		bal.Available = bal.Available.Sub(qty)
		e.balances[username][base] = bal
		reserved = qty
	}

	order := model.Order{
		TokenID:        tokenID,
		Username:       username,
		Symbol:         symbol,
		Side:           side,
		Price:          price,
		Quantity:       qty,
		Status:         model.OrderOpen,
		ReservedAmount: reserved,
		CreatedAt:      float64(time.Now().UnixNano()) / 1e9,
	}
	e.orders[tokenID] = order
	e.openBySymbol[symbol] = append(e.openBySymbol[symbol], tokenID)
	doc := e.copyStateLocked()
	e.mu.Unlock()

	e.persist(doc)
	return order, nil
}

// CancelOrder cancels an open order and releases its reserve back to
// the available balance.
func (e *Engine) CancelOrder(username, tokenID string) error {
	e.mu.Lock()
	order, ok := e.orders[tokenID]
	if !ok || order.Username != username {
		e.mu.Unlock()
		return ErrOrderNotFound
	}
	if order.Status != model.OrderOpen {
		e.mu.Unlock()
		return ErrOrderNotOpen
	}

	order.Status = model.OrderCancelled
	e.orders[tokenID] = order

	base, quote := model.SplitSymbol(order.Symbol)
	asset := quote
	if order.Side == model.SideSell {
		asset = base
	}
	bal := e.balanceLocked(username, asset)
	bal.Available = bal.Available.Add(order.ReservedAmount)
	e.balances[username][asset] = bal

	e.removeOpenLocked(order.Symbol, tokenID)
	doc := e.copyStateLocked()
	e.mu.Unlock()

	e.persist(doc)
	return nil
}

// GetOrder returns an order owned by the user.
func (e *Engine) GetOrder(username, tokenID string) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[tokenID]
	if !ok || order.Username != username {
		return model.Order{}, ErrOrderNotFound
	}
	return order, nil
}

// Balances returns one row per configured asset, sorted, with zero
// defaults for assets the user never touched.
func (e *Engine) Balances(username string) []AssetBalance {
	e.mu.Lock()
	userBal := e.balances[username]
	out := make([]AssetBalance, 0, len(e.assets))
	for _, asset := range e.assets {
		bal := userBal[asset]
		out = append(out, AssetBalance{Asset: asset, Total: bal.Total, Available: bal.Available})
	}
	e.mu.Unlock()
	return out
}

// ExecuteBestTouch fills open orders crossed by the synthetic best
// touch: buys when the ask trades at or through the limit, sells when
// the bid does. Fills are whole-quantity at the touch price; a buy
// filling below its limit returns the excess reserve.
func (e *Engine) ExecuteBestTouch(symbol string, bestBid, bestAsk *float64) {
	if bestBid == nil && bestAsk == nil {
		return
	}

	e.mu.Lock()
	ids := append([]string(nil), e.openBySymbol[symbol]...)
	e.mu.Unlock()

	for _, tokenID := range ids {
		e.mu.Lock()
		order, ok := e.orders[tokenID]
		if !ok || order.Status != model.OrderOpen {
			e.mu.Unlock()
			continue
		}

		var fillPrice *decimal.Decimal
		if order.Side == model.SideBuy && bestAsk != nil {
			ask := decimal.NewFromFloat(*bestAsk)
			if ask.LessThanOrEqual(order.Price) {
				fillPrice = &ask
			}
		}
		if order.Side == model.SideSell && bestBid != nil {
			bid := decimal.NewFromFloat(*bestBid)
			if bid.GreaterThanOrEqual(order.Price) {
				fillPrice = &bid
			}
		}
		if fillPrice == nil {
			e.mu.Unlock()
			continue
		}

		order.Status = model.OrderFilled
		order.FilledPrice = fillPrice
		e.orders[tokenID] = order
		e.applyFillLocked(order, *fillPrice)
		e.removeOpenLocked(symbol, tokenID)
		doc := e.copyStateLocked()
		e.mu.Unlock()

		e.persist(doc)
		e.log.Info().
			Str("token_id", order.TokenID).
			Str("symbol", order.Symbol).
			Str("side", string(order.Side)).
			Str("price", fillPrice.String()).
			Msg("order filled")
		if e.OnFill != nil {
			e.OnFill(order)
		}
	}
}

// applyFillLocked settles a fill into the balances. Buy: quote total
// drops by the actual cost and any excess reserve returns to
// available; base total and available rise by the quantity. Sell: base
// total drops by the quantity; quote total and available rise by the
// proceeds.
func (e *Engine) applyFillLocked(order model.Order, fillPrice decimal.Decimal) {
	base, quote := model.SplitSymbol(order.Symbol)
	username := order.Username

	if order.Side == model.SideBuy {
		cost := fillPrice.Mul(order.Quantity)
		quoteBal := e.balanceLocked(username, quote)
		baseBal := e.balanceLocked(username, base)
		quoteBal.Total = quoteBal.Total.Sub(cost)
		if order.ReservedAmount.GreaterThan(cost) {
			quoteBal.Available = quoteBal.Available.Add(order.ReservedAmount.Sub(cost))
		}
		baseBal.Total = baseBal.Total.Add(order.Quantity)
		baseBal.Available = baseBal.Available.Add(order.Quantity)
		e.balances[username][quote] = quoteBal
		e.balances[username][base] = baseBal
	} else {
		proceeds := fillPrice.Mul(order.Quantity)
		baseBal := e.balanceLocked(username, base)
		quoteBal := e.balanceLocked(username, quote)
		baseBal.Total = baseBal.Total.Sub(order.Quantity)
		quoteBal.Total = quoteBal.Total.Add(proceeds)
		quoteBal.Available = quoteBal.Available.Add(proceeds)
		e.balances[username][base] = baseBal
		e.balances[username][quote] = quoteBal
	}
}

func (e *Engine) balanceLocked(username, asset string) model.Balance {
	if e.balances[username] == nil {
		e.balances[username] = make(map[string]model.Balance)
	}
	return e.balances[username][asset]
}

func (e *Engine) removeOpenLocked(symbol, tokenID string) {
	open := e.openBySymbol[symbol]
	kept := open[:0]
	for _, id := range open {
		if id != tokenID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(e.openBySymbol, symbol)
	} else {
		e.openBySymbol[symbol] = kept
	}
}

func (e *Engine) knownAsset(asset string) bool {
	i := sort.SearchStrings(e.assets, asset)
	return i < len(e.assets) && e.assets[i] == asset
}

// copyStateLocked deep-copies the whole state into a document safe to
// serialize after the lock is released.
func (e *Engine) copyStateLocked() snapshot.Document {
	doc := snapshot.Document{
		Users:              make(map[string]model.User, len(e.users)),
		Balances:           make(map[string]map[string]model.Balance, len(e.balances)),
		Orders:             make(map[string]model.Order, len(e.orders)),
		OpenOrdersBySymbol: make(map[string][]string, len(e.openBySymbol)),
	}
	for k, v := range e.users {
		doc.Users[k] = v
	}
	for user, bals := range e.balances {
		cp := make(map[string]model.Balance, len(bals))
		for asset, bal := range bals {
			cp[asset] = bal
		}
		doc.Balances[user] = cp
	}
	for k, v := range e.orders {
		if v.FilledPrice != nil {
			fp := *v.FilledPrice
			v.FilledPrice = &fp
		}
		doc.Orders[k] = v
	}
	for sym, ids := range e.openBySymbol {
		doc.OpenOrdersBySymbol[sym] = append([]string(nil), ids...)
	}
	return doc
}

func (e *Engine) persist(doc snapshot.Document) {
	err := e.store.Save(doc)
	if err != nil {
		e.log.Error().Err(err).Msg("state snapshot failed")
	}
	if e.OnSnapshot != nil {
		e.OnSnapshot(err)
	}
}
