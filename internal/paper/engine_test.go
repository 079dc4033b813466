package paper

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feedrouter/internal/model"
	"feedrouter/internal/store/snapshot"
)

// recordSaver counts persistence calls and keeps the last document.
type recordSaver struct {
	mu    sync.Mutex
	saves int
	last  snapshot.Document
}

func (s *recordSaver) Save(doc snapshot.Document) error {
	s.mu.Lock()
	s.saves++
	s.last = doc
	s.mu.Unlock()
	return nil
}

func (s *recordSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func newTestEngine() (*Engine, *recordSaver) {
	saver := &recordSaver{}
	doc := snapshot.NewDocument()
	return NewEngine(doc, []string{"BTCUSDT", "ETHUSDT"}, saver, zerolog.Nop()), saver
}

func balanceOf(t *testing.T, e *Engine, username, asset string) AssetBalance {
	t.Helper()
	for _, row := range e.Balances(username) {
		if row.Asset == asset {
			return row
		}
	}
	t.Fatalf("no balance row for %s", asset)
	return AssetBalance{}
}

func checkBalanceInvariant(t *testing.T, e *Engine, username string) {
	t.Helper()
	for _, row := range e.Balances(username) {
		if row.Available.IsNegative() || row.Available.GreaterThan(row.Total) {
			t.Errorf("balance invariant violated for %s: total=%s available=%s",
				row.Asset, row.Total, row.Available)
		}
	}
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestRegisterAndAuthenticate(t *testing.T) {
	e, saver := newTestEngine()

	if err := e.Register("alice", "hunter22"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := e.Register("alice", "other"); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate register = %v, want ErrUserExists", err)
	}
	if err := e.Authenticate("alice", "hunter22", ""); err != nil {
		t.Errorf("authenticate: %v", err)
	}
	if err := e.Authenticate("alice", "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("bad password = %v, want ErrInvalidCredentials", err)
	}
	if err := e.Authenticate("nobody", "hunter22", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user = %v, want ErrInvalidCredentials", err)
	}
	if saver.count() == 0 {
		t.Error("register did not persist")
	}
}

func TestTOTPEnrollmentAndLogin(t *testing.T) {
	e, _ := newTestEngine()
	if err := e.Register("alice", "hunter22"); err != nil {
		t.Fatalf("register: %v", err)
	}

	enr, err := e.BeginTOTP("alice")
	if err != nil {
		t.Fatalf("begin totp: %v", err)
	}
	if enr.Secret == "" || enr.OtpauthURL == "" {
		t.Fatalf("empty enrollment: %+v", enr)
	}

	// Pending secret is not enforced yet.
	if err := e.Authenticate("alice", "hunter22", ""); err != nil {
		t.Errorf("login before activation: %v", err)
	}

	code, err := totp.GenerateCode(enr.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := e.ActivateTOTP("alice", code); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := e.Authenticate("alice", "hunter22", ""); !errors.Is(err, ErrInvalidOTP) {
		t.Errorf("login without code = %v, want ErrInvalidOTP", err)
	}
	code2, _ := totp.GenerateCode(enr.Secret, time.Now())
	if err := e.Authenticate("alice", "hunter22", code2); err != nil {
		t.Errorf("login with code: %v", err)
	}
}

func TestActivateTOTPRejectsBadCode(t *testing.T) {
	e, _ := newTestEngine()
	e.Register("alice", "hunter22")
	if _, err := e.BeginTOTP("alice"); err != nil {
		t.Fatalf("begin totp: %v", err)
	}
	if err := e.ActivateTOTP("alice", "000000"); !errors.Is(err, ErrInvalidOTP) {
		t.Errorf("bad code = %v, want ErrInvalidOTP", err)
	}
	if err := e.ActivateTOTP("bob", "000000"); !errors.Is(err, ErrInvalidOTP) {
		t.Errorf("unknown user = %v, want ErrInvalidOTP", err)
	}
}

func TestDepositValidation(t *testing.T) {
	e, _ := newTestEngine()
	e.Register("alice", "hunter22")

	if err := e.Deposit("alice", "DOGE", dec(10)); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("unknown asset = %v, want ErrUnknownAsset", err)
	}
	if err := e.Deposit("alice", "USDT", dec(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	bal := balanceOf(t, e, "alice", "USDT")
	if !bal.Total.Equal(dec(1000)) || !bal.Available.Equal(dec(1000)) {
		t.Errorf("balance = %s/%s, want 1000/1000", bal.Total, bal.Available)
	}
}

func TestPlaceOrderReservesQuoteForBuy(t *testing.T) {
	e, _ := newTestEngine()
	e.Register("alice", "hunter22")
	e.Deposit("alice", "USDT", dec(1000))

	order, err := e.PlaceOrder("alice", "ord-1", "BTCUSDT", model.SideBuy, dec(100), dec(2))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.Status != model.OrderOpen || !order.ReservedAmount.Equal(dec(200)) {
		t.Errorf("order = %+v", order)
	}

	bal := balanceOf(t, e, "alice", "USDT")
	if !bal.Total.Equal(dec(1000)) || !bal.Available.Equal(dec(800)) {
		t.Errorf("quote balance = %s/%s, want 1000/800", bal.Total, bal.Available)
	}
	checkBalanceInvariant(t, e, "alice")
}

func TestPlaceOrderReservesBaseForSell(t *testing.T) {
	e, _ := newTestEngine()
	e.Register("alice", "hunter22")
	e.Deposit("alice", "BTC", dec(3))

	if _, err := e.PlaceOrder("alice", "ord-1", "BTCUSDT", model.SideSell, dec(100), dec(2)); err != nil {
		t.Fatalf("place: %v", err)
	}
	bal := balanceOf(t, e, "alice", "BTC")
	if !bal.Total.Equal(dec(3)) || !bal.Available.Equal(dec(1)) {
		t.Errorf("base balance = %s/%s, want 3/1", bal.Total, bal.Available)
	}
}

func TestPlaceOrderRejections(t *testing.T) {
	e, _ := newTestEngine()
	e.Register("alice", "hunter22")
	e.Deposit("alice", "USDT", dec(100))

	if _, err := e.PlaceOrder("alice", "ord-1", "DOGEUSDT", model.SideBuy, dec(1), dec(1)); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("bad symbol = %v, want ErrInvalidSymbol", err)
	}

	_, err := e.PlaceOrder("alice", "ord-1", "BTCUSDT", model.SideBuy, dec(100), dec(2))
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) || insufficient.Asset != "USDT" {
		t.Errorf("overdraft = %v, want insufficient USDT balance", err)
	}
	// A rejected order must not leak a reservation.
	bal := balanceOf(t, e, "alice", "USDT")
	if !bal.Available.Equal(dec(100)) {
		t.Errorf("available after rejection = %s, want 100", bal.Available)
	}

	if _, err := e.PlaceOrder("alice", "ord-1", "BTCUSDT", model.SideBuy, dec(10), dec(1)); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := e.PlaceOrder("alice", "ord-1", "BTCUSDT", model.SideBuy, dec(10), dec(1)); !errors.Is(err, ErrDuplicateTokenID) {
		t.Errorf("duplicate token = %v, want ErrDuplicateTokenID", err)
	}
}

func TestCancelReleasesReserve(t *testing.T) {
	e, _ := newTestEngine()
	e.Register("alice", "hunter22")
	e.Deposit("alice", "USDT", dec(1000))
	e.PlaceOrder("alice", "ord-1", "BTCUSDT", model.SideBuy, dec(100), dec(2))

	if err := e.CancelOrder("alice", "ord-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	bal := balanceOf(t, e, "alice", "USDT")
	if !bal.Total.Equal(dec(1000)) || !bal.Available.Equal(dec(1000)) {
		t.Errorf("balance after cancel = %s/%s, want 1000/1000", bal.Total, bal.Available)
	}

	order, err := e.GetOrder("alice", "ord-1")
	if err != nil || order.Status != model.OrderCancelled {
		t.Errorf("order = %+v, err = %v", order, err)
	}

	if err := e.CancelOrder("alice", "ord-1"); !errors.Is(err, ErrOrderNotOpen) {
		t.Errorf("double cancel = %v, want ErrOrderNotOpen", err)
	}
	if err := e.CancelOrder("alice", "ord-9"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("unknown order = %v, want ErrOrderNotFound", err)
	}
}

func TestOrdersAreScopedToOwner(t *testing.T) {
	e, _ := newTestEngine()
	e.Register("alice", "hunter22")
	e.Register("bob", "hunter23")
	e.Deposit("alice", "USDT", dec(1000))
	e.PlaceOrder("alice", "ord-1", "BTCUSDT", model.SideBuy, dec(100), dec(1))

	if _, err := e.GetOrder("bob", "ord-1"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("cross-user get = %v, want ErrOrderNotFound", err)
	}
	if err := e.CancelOrder("bob", "ord-1"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("cross-user cancel = %v, want ErrOrderNotFound", err)
	}
}

func TestBuyFillReturnsExcessReserve(t *testing.T) {
	e, _ := newTestEngine()
	e.Register("alice", "hunter22")
	e.Deposit("alice", "USDT", dec(1000))
	e.PlaceOrder("alice", "ord-1", "BTCUSDT", model.SideBuy, dec(100), dec(2))

	var fills []model.Order
	e.OnFill = func(o model.Order) { fills = append(fills, o) }

	ask := 90.0
	e.ExecuteBestTouch("BTCUSDT", nil, &ask)

	order, _ := e.GetOrder("alice", "ord-1")
	if order.Status != model.OrderFilled {
		t.Fatalf("status = %s, want filled", order.Status)
	}
	if order.FilledPrice == nil || !order.FilledPrice.Equal(dec(90)) {
		t.Errorf("filled price = %v, want 90", order.FilledPrice)
	}

	// Cost 180, reserve 200: the 20 excess returns to available.
	usdt := balanceOf(t, e, "alice", "USDT")
	if !usdt.Total.Equal(dec(820)) || !usdt.Available.Equal(dec(820)) {
		t.Errorf("USDT = %s/%s, want 820/820", usdt.Total, usdt.Available)
	}
	btc := balanceOf(t, e, "alice", "BTC")
	if !btc.Total.Equal(dec(2)) || !btc.Available.Equal(dec(2)) {
		t.Errorf("BTC = %s/%s, want 2/2", btc.Total, btc.Available)
	}
	checkBalanceInvariant(t, e, "alice")

	if len(fills) != 1 || fills[0].TokenID != "ord-1" {
		t.Errorf("fill hook calls = %+v", fills)
	}

	// A second pass over the same touch must not fill again.
	e.ExecuteBestTouch("BTCUSDT", nil, &ask)
	if len(fills) != 1 {
		t.Errorf("refill after terminal state: %d hook calls", len(fills))
	}
}

func TestSellFillCreditsProceeds(t *testing.T) {
	e, _ := newTestEngine()
	e.Register("alice", "hunter22")
	e.Deposit("alice", "BTC", dec(1))
	e.PlaceOrder("alice", "ord-1", "BTCUSDT", model.SideSell, dec(100), dec(1))

	bid := 105.0
	e.ExecuteBestTouch("BTCUSDT", &bid, nil)

	order, _ := e.GetOrder("alice", "ord-1")
	if order.Status != model.OrderFilled || !order.FilledPrice.Equal(dec(105)) {
		t.Fatalf("order = %+v", order)
	}
	btc := balanceOf(t, e, "alice", "BTC")
	if !btc.Total.Equal(dec(0)) || !btc.Available.Equal(dec(0)) {
		t.Errorf("BTC = %s/%s, want 0/0", btc.Total, btc.Available)
	}
	usdt := balanceOf(t, e, "alice", "USDT")
	if !usdt.Total.Equal(dec(105)) || !usdt.Available.Equal(dec(105)) {
		t.Errorf("USDT = %s/%s, want 105/105", usdt.Total, usdt.Available)
	}
	checkBalanceInvariant(t, e, "alice")
}

func TestNonCrossingTouchLeavesOrderOpen(t *testing.T) {
	e, _ := newTestEngine()
	e.Register("alice", "hunter22")
	e.Deposit("alice", "USDT", dec(1000))
	e.PlaceOrder("alice", "ord-1", "BTCUSDT", model.SideBuy, dec(100), dec(1))

	ask := 100.5
	e.ExecuteBestTouch("BTCUSDT", nil, &ask)

	order, _ := e.GetOrder("alice", "ord-1")
	if order.Status != model.OrderOpen {
		t.Errorf("status = %s, want open", order.Status)
	}

	e.ExecuteBestTouch("BTCUSDT", nil, nil)
	order, _ = e.GetOrder("alice", "ord-1")
	if order.Status != model.OrderOpen {
		t.Errorf("empty touch changed status to %s", order.Status)
	}
}

func TestEngineRestoresFromDocument(t *testing.T) {
	e, saver := newTestEngine()
	e.Register("alice", "hunter22")
	e.Deposit("alice", "USDT", dec(1000))
	e.PlaceOrder("alice", "ord-1", "BTCUSDT", model.SideBuy, dec(100), dec(2))

	saver.mu.Lock()
	doc := saver.last
	saver.mu.Unlock()

	restored := NewEngine(doc, []string{"BTCUSDT", "ETHUSDT"}, &recordSaver{}, zerolog.Nop())
	if err := restored.Authenticate("alice", "hunter22", ""); err != nil {
		t.Errorf("authenticate after restore: %v", err)
	}
	bal := balanceOf(t, restored, "alice", "USDT")
	if !bal.Available.Equal(dec(800)) {
		t.Errorf("restored available = %s, want 800", bal.Available)
	}

	ask := 100.0
	restored.ExecuteBestTouch("BTCUSDT", nil, &ask)
	order, err := restored.GetOrder("alice", "ord-1")
	if err != nil || order.Status != model.OrderFilled {
		t.Errorf("restored order fill = %+v, err = %v", order, err)
	}
}
