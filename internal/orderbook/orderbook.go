// Package orderbook is the persistent store of open buy/sell limit orders.
package orderbook

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/a3st/exchanged/pkg/logging"
)

// Side is the direction of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

// Order is one open order-book entry.
type Order struct {
	ID     int64
	UserID int64
	Pair   string
	Amount decimal.Decimal
	Price  decimal.Decimal
	Side   Side
}

// Book owns the requests table. It does not validate the semantic
// correctness of its inputs (amount > 0, price > 0): that is the
// Dispatcher's job before it calls MakeRequest.
type Book struct {
	db  *sql.DB
	log *logging.Logger
}

// New returns a Book backed by db.
func New(db *sql.DB) *Book {
	return &Book{db: db, log: logging.GetDefault().Component("orderbook")}
}

// MakeRequest inserts a new order. Returns true iff the row was written.
func (b *Book) MakeRequest(userID int64, pair string, amount, price decimal.Decimal, side Side) (bool, error) {
	res, err := b.db.Exec(
		"INSERT INTO requests (user_id, side, currency, amount, price, created_at) VALUES (?, ?, ?, ?, ?, strftime('%s','now'))",
		userID, int(side), pair, amount.String(), price.String(),
	)
	if err != nil {
		b.log.Error("make request failed", "user_id", userID, "err", err)
		return false, fmt.Errorf("orderbook: make request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("orderbook: make request: %w", err)
	}
	return rows > 0, nil
}

// RemoveRequest deletes the order with the given id. Returns true iff a row
// was deleted.
func (b *Book) RemoveRequest(orderID int64) (bool, error) {
	res, err := b.db.Exec("DELETE FROM requests WHERE id = ?", orderID)
	if err != nil {
		b.log.Error("remove request failed", "order_id", orderID, "err", err)
		return false, fmt.Errorf("orderbook: remove request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("orderbook: remove request: %w", err)
	}
	return rows > 0, nil
}

// OpenBuys returns all open Buy orders, price descending then id ascending —
// the outer iteration order of the matcher.
func (b *Book) OpenBuys() ([]Order, error) {
	orders, err := b.query("SELECT id, user_id, currency, amount, price, side FROM requests WHERE side = 0")
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].Price.Equal(orders[j].Price) {
			return orders[i].Price.GreaterThan(orders[j].Price)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

// SingleShotSeller finds one Sell order that can fully satisfy a buy at
// buyerAmount/buyerPrice for pair: price <= buyerPrice, amount >= buyerAmount,
// same pair, different user, ordered by ascending price then id.
//
// Filtering and sorting happen in Go rather than in SQL because amount and
// price are stored as decimal-preserving TEXT, not a numeric column type;
// SQLite's text comparison would order "10" before "9".
func (b *Book) SingleShotSeller(pair string, buyerPrice, buyerAmount decimal.Decimal, buyerUserID int64) (*Order, error) {
	candidates, err := b.sellersForPair(pair, buyerUserID)
	if err != nil {
		return nil, err
	}
	sortByPriceThenID(candidates)

	for i := range candidates {
		c := candidates[i]
		if c.Price.LessThanOrEqual(buyerPrice) && c.Amount.GreaterThanOrEqual(buyerAmount) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// PartialSellers returns Sell orders that are each individually smaller than
// buyerAmount, eligible for the partial-fill pass, ordered by ascending
// price then id.
func (b *Book) PartialSellers(pair string, buyerPrice, buyerAmount decimal.Decimal, buyerUserID int64) ([]Order, error) {
	candidates, err := b.sellersForPair(pair, buyerUserID)
	if err != nil {
		return nil, err
	}
	sortByPriceThenID(candidates)

	var eligible []Order
	for _, c := range candidates {
		if c.Price.LessThanOrEqual(buyerPrice) && c.Amount.LessThan(buyerAmount) {
			eligible = append(eligible, c)
		}
	}
	return eligible, nil
}

func (b *Book) sellersForPair(pair string, excludeUserID int64) ([]Order, error) {
	return b.query(
		"SELECT id, user_id, currency, amount, price, side FROM requests WHERE side = 1 AND currency = ? AND user_id != ?",
		pair, excludeUserID,
	)
}

func sortByPriceThenID(orders []Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].Price.Equal(orders[j].Price) {
			return orders[i].Price.LessThan(orders[j].Price)
		}
		return orders[i].ID < orders[j].ID
	})
}

// UpdateAmount sets an order's remaining amount, used for the partial-fill
// leg where a seller survives a trade with a reduced amount.
func (b *Book) UpdateAmount(orderID int64, amount decimal.Decimal) (bool, error) {
	res, err := b.db.Exec("UPDATE requests SET amount = ? WHERE id = ?", amount.String(), orderID)
	if err != nil {
		return false, fmt.Errorf("orderbook: update amount: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("orderbook: update amount: %w", err)
	}
	return rows > 0, nil
}

// UpdateAmountTx is UpdateAmount run against an existing transaction, used by
// the matcher to fold a seller's partial-fill update into the trade's atomic
// settlement.
func (b *Book) UpdateAmountTx(tx *sql.Tx, orderID int64, amount decimal.Decimal) (bool, error) {
	res, err := tx.Exec("UPDATE requests SET amount = ? WHERE id = ?", amount.String(), orderID)
	if err != nil {
		return false, fmt.Errorf("orderbook: update amount: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("orderbook: update amount: %w", err)
	}
	return rows > 0, nil
}

// RemoveRequestTx is RemoveRequest run against an existing transaction, used
// by the matcher for the always-delete-the-buyer leg of a trade.
func (b *Book) RemoveRequestTx(tx *sql.Tx, orderID int64) (bool, error) {
	res, err := tx.Exec("DELETE FROM requests WHERE id = ?", orderID)
	if err != nil {
		return false, fmt.Errorf("orderbook: remove request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("orderbook: remove request: %w", err)
	}
	return rows > 0, nil
}

func (b *Book) query(query string, args ...interface{}) ([]Order, error) {
	// Rows come back in no particular order: amount and price are TEXT
	// columns, so callers sort the parsed decimals in Go rather than using
	// ORDER BY.
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("orderbook: query: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		var amount, price string
		var side int
		if err := rows.Scan(&o.ID, &o.UserID, &o.Pair, &amount, &price, &side); err != nil {
			return nil, fmt.Errorf("orderbook: scan: %w", err)
		}
		o.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("orderbook: parse amount: %w", err)
		}
		o.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("orderbook: parse price: %w", err)
		}
		o.Side = Side(side)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
