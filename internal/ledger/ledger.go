// Package ledger implements per-user currency wallets and the append-only
// transaction log that backs their balances.
package ledger

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/a3st/exchanged/pkg/logging"
)

// Kind distinguishes a withdrawal from a deposit in the transaction log.
type Kind int

const (
	Withdraw Kind = iota
	Deposit
)

// WalletInfo is a wallet together with its computed balance.
type WalletInfo struct {
	ID       int64
	Currency string
	Balance  decimal.Decimal
}

// Ledger owns the wallets and transactions tables.
type Ledger struct {
	db  *sql.DB
	log *logging.Logger
}

// New returns a Ledger backed by db.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, log: logging.GetDefault().Component("ledger")}
}

// CreateWallet inserts a new wallet row for user_id/currency and returns its id.
// A second wallet for the same user and currency is rejected by the
// wallets table's UNIQUE(user_id, currency) constraint and returns an error.
func (l *Ledger) CreateWallet(userID int64, currency string) (int64, error) {
	res, err := l.db.Exec(
		"INSERT INTO wallets (user_id, currency, created_at) VALUES (?, ?, strftime('%s','now'))",
		userID, currency,
	)
	if err != nil {
		l.log.Error("create wallet failed", "user_id", userID, "currency", currency, "err", err)
		return 0, fmt.Errorf("ledger: create wallet: %w", err)
	}
	return res.LastInsertId()
}

// MakeTransaction appends one ledger row. Amount is stored verbatim; the
// sign of the movement is carried entirely by kind, never by the sign of
// amount. Returns true iff the row was written.
func (l *Ledger) MakeTransaction(walletID int64, amount decimal.Decimal, kind Kind, description string) (bool, error) {
	res, err := l.db.Exec(
		"INSERT INTO transactions (wallet_id, transaction_type, amount, description, created_at) VALUES (?, ?, ?, ?, strftime('%s','now'))",
		walletID, int(kind), amount.String(), description,
	)
	if err != nil {
		l.log.Error("make transaction failed", "wallet_id", walletID, "err", err)
		return false, fmt.Errorf("ledger: make transaction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: make transaction: %w", err)
	}
	return rows > 0, nil
}

// MakeTransactionTx is MakeTransaction run against an existing transaction,
// used by the matcher to bundle the four settlement rows of one trade into
// a single atomic commit.
func (l *Ledger) MakeTransactionTx(tx *sql.Tx, walletID int64, amount decimal.Decimal, kind Kind, description string) (bool, error) {
	res, err := tx.Exec(
		"INSERT INTO transactions (wallet_id, transaction_type, amount, description, created_at) VALUES (?, ?, ?, ?, strftime('%s','now'))",
		walletID, int(kind), amount.String(), description,
	)
	if err != nil {
		return false, fmt.Errorf("ledger: make transaction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: make transaction: %w", err)
	}
	return rows > 0, nil
}

// Wallets returns every wallet owned by userID along with its balance,
// computed as Σdeposits − Σwithdrawals over the append-only ledger. Returns
// (nil, err) on storage failure so callers can translate that into DBFailed.
func (l *Ledger) Wallets(userID int64) ([]WalletInfo, error) {
	rows, err := l.db.Query("SELECT id, currency FROM wallets WHERE user_id = ?", userID)
	if err != nil {
		l.log.Error("list wallets failed", "user_id", userID, "err", err)
		return nil, fmt.Errorf("ledger: list wallets: %w", err)
	}
	defer rows.Close()

	var infos []WalletInfo
	for rows.Next() {
		var info WalletInfo
		if err := rows.Scan(&info.ID, &info.Currency); err != nil {
			return nil, fmt.Errorf("ledger: scan wallet: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list wallets: %w", err)
	}

	for i := range infos {
		balance, err := l.balance(infos[i].ID)
		if err != nil {
			return nil, err
		}
		infos[i].Balance = balance
	}
	return infos, nil
}

func (l *Ledger) balance(walletID int64) (decimal.Decimal, error) {
	deposits, err := l.sumByKind(walletID, Deposit)
	if err != nil {
		return decimal.Zero, err
	}
	withdrawals, err := l.sumByKind(walletID, Withdraw)
	if err != nil {
		return decimal.Zero, err
	}
	return deposits.Sub(withdrawals), nil
}

func (l *Ledger) sumByKind(walletID int64, kind Kind) (decimal.Decimal, error) {
	var amounts []string
	rows, err := l.db.Query(
		"SELECT amount FROM transactions WHERE wallet_id = ? AND transaction_type = ?",
		walletID, int(kind),
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: sum transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("ledger: scan transaction: %w", err)
		}
		amounts = append(amounts, amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("ledger: sum transactions: %w", err)
	}

	total := decimal.Zero
	for _, a := range amounts {
		d, err := decimal.NewFromString(a)
		if err != nil {
			return decimal.Zero, fmt.Errorf("ledger: parse amount %q: %w", a, err)
		}
		total = total.Add(d)
	}
	return total, nil
}

// WalletIDByCurrency finds userID's wallet id for currency, used by the
// matcher to resolve buyer/seller settlement legs.
func (l *Ledger) WalletIDByCurrency(userID int64, currency string) (int64, error) {
	var id int64
	err := l.db.QueryRow("SELECT id FROM wallets WHERE user_id = ? AND currency = ?", userID, currency).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("ledger: no %s wallet for user %d", currency, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: wallet lookup: %w", err)
	}
	return id, nil
}
