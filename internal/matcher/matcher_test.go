package matcher

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/a3st/exchanged/internal/ledger"
	"github.com/a3st/exchanged/internal/orderbook"
	"github.com/a3st/exchanged/internal/storage"
)

type fixture struct {
	led *ledger.Ledger
	book *orderbook.Book
	m    *Matcher
}

func newFixture(t *testing.T, userCount int) *fixture {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "exchange-matcher-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	db := store.DB()
	led := ledger.New(db)
	book := orderbook.New(db)
	m := New(db, book, led)

	for userID := int64(1); userID <= int64(userCount); userID++ {
		if _, err := led.CreateWallet(userID, "RUB"); err != nil {
			t.Fatalf("CreateWallet(RUB) error = %v", err)
		}
		if _, err := led.CreateWallet(userID, "USD"); err != nil {
			t.Fatalf("CreateWallet(USD) error = %v", err)
		}
	}

	return &fixture{led: led, book: book, m: m}
}

func (f *fixture) order(t *testing.T, userID int64, side orderbook.Side, amount, price string) {
	t.Helper()
	ok, err := f.book.MakeRequest(userID, "USD/RUB", d(amount), d(price), side)
	if err != nil || !ok {
		t.Fatalf("MakeRequest() = %v, %v", ok, err)
	}
}

func (f *fixture) assertBalances(t *testing.T, userID int64, wantRUB, wantUSD string) {
	t.Helper()
	wallets, err := f.led.Wallets(userID)
	if err != nil {
		t.Fatalf("Wallets(%d) error = %v", userID, err)
	}
	balances := map[string]decimal.Decimal{}
	for _, w := range wallets {
		balances[w.Currency] = w.Balance
	}
	if !balances["RUB"].Equal(d(wantRUB)) {
		t.Errorf("user %d RUB balance = %s, want %s", userID, balances["RUB"], wantRUB)
	}
	if !balances["USD"].Equal(d(wantUSD)) {
		t.Errorf("user %d USD balance = %s, want %s", userID, balances["USD"], wantUSD)
	}
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Full-match parity: five users, two buyers and two sellers settle exactly, one
// buyer (user 4, bidding 60) never finds a seller at or below its price and
// is left open.
func TestProcessRequestsFullMatchParity(t *testing.T) {
	f := newFixture(t, 5)
	f.order(t, 1, orderbook.Sell, "50", "62")
	f.order(t, 2, orderbook.Buy, "50", "63")
	f.order(t, 3, orderbook.Buy, "50", "64")
	f.order(t, 4, orderbook.Buy, "50", "60")
	f.order(t, 5, orderbook.Sell, "50", "61")

	if err := f.m.ProcessRequests(); err != nil {
		t.Fatalf("ProcessRequests() error = %v", err)
	}

	f.assertBalances(t, 1, "3150", "-50")
	f.assertBalances(t, 2, "-3150", "50")
	f.assertBalances(t, 3, "-3200", "50")
	f.assertBalances(t, 4, "0", "0")
	f.assertBalances(t, 5, "3200", "-50")

	buys, err := f.book.OpenBuys()
	if err != nil {
		t.Fatalf("OpenBuys() error = %v", err)
	}
	if len(buys) != 1 || buys[0].UserID != 4 {
		t.Fatalf("OpenBuys() after pass = %+v, want only user 4's order left", buys)
	}
}

// Full-match with asymmetric amounts: a single large seller is drawn down
// across three buyers; the last buyer is only partially filled because the
// seller's remaining amount is smaller than what it asked for.
func TestProcessRequestsAsymmetricAmounts(t *testing.T) {
	f := newFixture(t, 4)
	f.order(t, 1, orderbook.Sell, "100", "62")
	f.order(t, 2, orderbook.Buy, "50", "63")
	f.order(t, 3, orderbook.Buy, "40", "64")
	f.order(t, 4, orderbook.Buy, "50", "62")

	if err := f.m.ProcessRequests(); err != nil {
		t.Fatalf("ProcessRequests() error = %v", err)
	}

	f.assertBalances(t, 1, "6330", "-100")
	f.assertBalances(t, 2, "-3150", "50")
	f.assertBalances(t, 3, "-2560", "40")
	f.assertBalances(t, 4, "-620", "10")
}

// One seller is split across two buyers, each filled in full by a
// single-shot match, leaving a single reduced-amount seller row behind.
func TestProcessRequestsPartialFill(t *testing.T) {
	f := newFixture(t, 3)
	f.order(t, 1, orderbook.Buy, "10", "62")
	f.order(t, 2, orderbook.Buy, "20", "63")
	f.order(t, 3, orderbook.Sell, "50", "61")

	if err := f.m.ProcessRequests(); err != nil {
		t.Fatalf("ProcessRequests() error = %v", err)
	}

	f.assertBalances(t, 1, "-620", "10")
	f.assertBalances(t, 2, "-1260", "20")
	f.assertBalances(t, 3, "1880", "-30")

	sellers, err := f.book.PartialSellers("USD/RUB", d("1000"), d("1000"), 0)
	if err != nil {
		t.Fatalf("PartialSellers() error = %v", err)
	}
	if len(sellers) != 1 || !sellers[0].Amount.Equal(d("20")) {
		t.Fatalf("remaining seller row = %+v, want amount=20", sellers)
	}
}

// The matcher never pairs an order against another order from the same
// user, even when the price and amount would otherwise qualify.
func TestProcessRequestsNeverSelfMatches(t *testing.T) {
	f := newFixture(t, 1)
	f.order(t, 1, orderbook.Buy, "10", "65")
	f.order(t, 1, orderbook.Sell, "10", "60")

	if err := f.m.ProcessRequests(); err != nil {
		t.Fatalf("ProcessRequests() error = %v", err)
	}

	f.assertBalances(t, 1, "0", "0")
	buys, err := f.book.OpenBuys()
	if err != nil {
		t.Fatalf("OpenBuys() error = %v", err)
	}
	if len(buys) != 1 {
		t.Fatalf("OpenBuys() = %d, want the untouched self-order to remain", len(buys))
	}
}
