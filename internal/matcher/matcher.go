// Package matcher implements the order-matching algorithm: an outer pass
// over open Buy orders, a single-shot full-match attempt, a partial-fill
// fallback, and atomic four-row ledger settlement per trade.
package matcher

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/a3st/exchanged/internal/ledger"
	"github.com/a3st/exchanged/internal/metrics"
	"github.com/a3st/exchanged/internal/orderbook"
	"github.com/a3st/exchanged/pkg/logging"
)

// Matcher pairs compatible orders and settles them against the ledger.
type Matcher struct {
	db     *sql.DB
	book   *orderbook.Book
	ledger *ledger.Ledger
	log    *logging.Logger

	// mu runs one pass at a time: a pass reads order rows outside its
	// settlement transactions, so two concurrent passes could otherwise
	// settle against seller amounts the other has already changed.
	mu sync.Mutex
}

// New returns a Matcher operating over db via book and ledger. db must be
// the same handle book and ledger were constructed with, since settlement
// needs a *sql.Tx spanning both the requests and transactions tables.
func New(db *sql.DB, book *orderbook.Book, ledger *ledger.Ledger) *Matcher {
	return &Matcher{db: db, book: book, ledger: ledger, log: logging.GetDefault().Component("matcher")}
}

// settlementDescription is the fixed annotation the original system writes
// on every trade-generated ledger row.
const settlementDescription = "Exchange actions"

// ProcessRequests runs one matching pass. It is invoked unconditionally at
// startup to drain orders persisted from a prior run, and after every
// successful MakeRequest. Any storage error, from a read or from a trade's
// settlement, is logged and returned and ends the pass; the trade in
// progress is rolled back, and trades already committed stay. A trade
// rolled back because an order row was already gone is not an error, and
// the pass goes on. Callers log a returned error and carry on.
func (m *Matcher) ProcessRequests() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer := prometheus.NewTimer(metrics.MatcherPassDuration)
	defer timer.ObserveDuration()

	// The outer cursor is re-read after every trade rather than held open
	// across mutations: database/sql forbids mutating a table out from
	// under an open *sql.Rows on it, and re-querying is also what the spec
	// this engine implements requires to tolerate concurrent deletions.
	for {
		buyers, err := m.book.OpenBuys()
		if err != nil {
			m.log.Error("list open buys failed", "err", err)
			return fmt.Errorf("matcher: list open buys: %w", err)
		}

		progressed := false
		for _, buyer := range buyers {
			traded, err := m.matchBuyer(buyer)
			if err != nil {
				m.log.Error("match buyer failed", "order_id", buyer.ID, "err", err)
				return fmt.Errorf("matcher: match buyer %d: %w", buyer.ID, err)
			}
			if traded {
				progressed = true
				break // re-read the outer cursor; the book just changed.
			}
		}
		if !progressed {
			return nil
		}
	}
}

// matchBuyer attempts to settle one buyer against the book, returning true
// if at least one trade was executed for it.
func (m *Matcher) matchBuyer(buyer orderbook.Order) (bool, error) {
	base, quote, err := splitPair(buyer.Pair)
	if err != nil {
		m.log.Warn("skipping order with malformed pair", "order_id", buyer.ID, "pair", buyer.Pair)
		return false, nil
	}

	seller, err := m.book.SingleShotSeller(buyer.Pair, buyer.Price, buyer.Amount, buyer.UserID)
	if err != nil {
		return false, err
	}
	if seller != nil {
		if err := m.settle(buyer, *seller, buyer.Amount, buyer.Price, base, quote); err != nil {
			return false, err
		}
		return true, nil
	}

	// Partial-fill mode: walk eligible sellers, each one fully consumed,
	// until the buyer's remaining amount is exhausted or sellers run out.
	sellers, err := m.book.PartialSellers(buyer.Pair, buyer.Price, buyer.Amount, buyer.UserID)
	if err != nil {
		return false, err
	}

	remaining := buyer.Amount
	traded := false
	for _, s := range sellers {
		if !remaining.IsPositive() {
			break
		}
		tradeBuyer := buyer
		tradeBuyer.Amount = remaining
		tradeAmount := decimal.Min(remaining, s.Amount)
		if err := m.settle(tradeBuyer, s, tradeAmount, buyer.Price, base, quote); err != nil {
			return traded, err
		}
		// The outer seller amount, not the trade amount actually used, is
		// what the buyer's remaining intent is reduced by — reproduced
		// verbatim from the original matching loop.
		remaining = remaining.Sub(s.Amount)
		traded = true
	}
	return traded, nil
}

// settle executes one trade between buyer and seller at tradeAmount and the
// buyer's price, inside a single atomic transaction. It reproduces the
// original system's settlement sequence exactly, including the asymmetry
// documented in the design notes: the buyer's request row is deleted
// unconditionally, while the seller's row is deleted only when the trade
// consumed the seller in full (buyer.Amount >= seller.Amount) and otherwise
// updated to its remaining amount.
func (m *Matcher) settle(buyer, seller orderbook.Order, tradeAmount, price decimal.Decimal, base, quote string) error {
	buyerFromID, err := m.ledger.WalletIDByCurrency(buyer.UserID, quote)
	if err != nil {
		return err
	}
	buyerToID, err := m.ledger.WalletIDByCurrency(buyer.UserID, base)
	if err != nil {
		return err
	}
	sellerFromID, err := m.ledger.WalletIDByCurrency(seller.UserID, base)
	if err != nil {
		return err
	}
	sellerToID, err := m.ledger.WalletIDByCurrency(seller.UserID, quote)
	if err != nil {
		return err
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("matcher: begin settlement: %w", err)
	}

	quoteAmount := tradeAmount.Mul(price)

	ok, err := m.ledger.MakeTransactionTx(tx, buyerFromID, quoteAmount, ledger.Withdraw, settlementDescription)
	if err != nil || !ok {
		tx.Rollback()
		return err
	}
	ok, err = m.ledger.MakeTransactionTx(tx, buyerToID, tradeAmount, ledger.Deposit, settlementDescription)
	if err != nil || !ok {
		tx.Rollback()
		return err
	}
	ok, err = m.ledger.MakeTransactionTx(tx, sellerFromID, tradeAmount, ledger.Withdraw, settlementDescription)
	if err != nil || !ok {
		tx.Rollback()
		return err
	}
	ok, err = m.ledger.MakeTransactionTx(tx, sellerToID, quoteAmount, ledger.Deposit, settlementDescription)
	if err != nil || !ok {
		tx.Rollback()
		return err
	}

	ok, err = m.book.RemoveRequestTx(tx, buyer.ID)
	if err != nil || !ok {
		tx.Rollback()
		return err
	}

	if buyer.Amount.GreaterThanOrEqual(seller.Amount) {
		ok, err = m.book.RemoveRequestTx(tx, seller.ID)
	} else {
		ok, err = m.book.UpdateAmountTx(tx, seller.ID, seller.Amount.Sub(tradeAmount))
	}
	if err != nil || !ok {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("matcher: commit settlement: %w", err)
	}

	metrics.MatchesTotal.Inc()
	m.log.Debug("trade settled",
		"buyer_user_id", buyer.UserID, "seller_user_id", seller.UserID,
		"pair", base+"/"+quote, "amount", tradeAmount.String(), "price", price.String(),
	)
	return nil
}

func splitPair(pair string) (base, quote string, err error) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("matcher: malformed pair %q", pair)
	}
	return parts[0], parts[1], nil
}
