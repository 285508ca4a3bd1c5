// SPDX-License-Identifier: MIT

// Package credits implements the per-user balance ledger: an accounts table
// plus an append-only transaction log, mutated atomically so a balance and
// its log can never diverge.
package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

var (
	ErrClosed = errors.New("credits: closed")

	// ErrInsufficient is returned by Debit when the balance cannot cover
	// the amount. Callers surface it as a payment error, not a server one.
	ErrInsufficient = errors.New("credits: insufficient balance")
)

// TxType classifies a ledger transaction.
type TxType string

const (
	TxDebit      TxType = "debit"
	TxRefund     TxType = "refund"
	TxTopup      TxType = "topup"
	TxAdjustment TxType = "adjustment"
)

// Transaction is one immutable row of the ledger log. Delta is negative for
// debits and positive for credits.
type Transaction struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Delta       int64     `json:"delta"`
	Type        TxType    `json:"type"`
	JobID       string    `json:"job_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ledger owns its own database handle so ledger transactions never contend
// with job-store writes on the same connection.
type Ledger struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens (or creates) the ledger database at dbPath.
func Open(dbPath string) (*Ledger, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// One connection serializes every check-and-append; BEGIN IMMEDIATE
	// then guarantees the balance read cannot race the update.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return &Ledger{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credit_accounts (
			user_id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			delta INTEGER NOT NULL,
			type TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_tx_user ON credit_transactions(user_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_tx_job ON credit_transactions(job_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle. Safe to call more than once.
func (l *Ledger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.db.Close()
}

// Debit atomically checks that user's balance covers amount, appends a debit
// transaction, and lowers the balance. ErrInsufficient means the balance was
// untouched.
func (l *Ledger) Debit(ctx context.Context, user string, amount int64, jobID, description string) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if user == "" {
		return errors.New("credits: user is empty")
	}
	if amount <= 0 {
		return fmt.Errorf("credits: debit amount must be positive, got %d", amount)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("debit %s: begin: %w", user, err)
	}
	defer func() { _ = tx.Rollback() }()

	balance, err := balanceTx(ctx, tx, user)
	if err != nil {
		return fmt.Errorf("debit %s: read balance: %w", user, err)
	}
	if balance < amount {
		return ErrInsufficient
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE credit_accounts SET balance = balance - ? WHERE user_id = ?`,
		amount, user,
	); err != nil {
		return fmt.Errorf("debit %s: update balance: %w", user, err)
	}
	if err := appendTx(ctx, tx, user, -amount, TxDebit, jobID, description); err != nil {
		return fmt.Errorf("debit %s: append: %w", user, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("debit %s: commit: %w", user, err)
	}
	return nil
}

// Credit appends a positive transaction and raises the balance, creating the
// account on first touch. typ must be refund, topup, or adjustment.
func (l *Ledger) Credit(ctx context.Context, user string, amount int64, typ TxType, jobID, description string) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if user == "" {
		return errors.New("credits: user is empty")
	}
	if amount <= 0 {
		return fmt.Errorf("credits: credit amount must be positive, got %d", amount)
	}
	switch typ {
	case TxRefund, TxTopup, TxAdjustment:
	default:
		return fmt.Errorf("credits: invalid credit type %q", typ)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credit %s: begin: %w", user, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, balance) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance`,
		user, amount,
	); err != nil {
		return fmt.Errorf("credit %s: update balance: %w", user, err)
	}
	if err := appendTx(ctx, tx, user, amount, typ, jobID, description); err != nil {
		return fmt.Errorf("credit %s: append: %w", user, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("credit %s: commit: %w", user, err)
	}
	return nil
}

// Balance returns the user's current balance; unknown users hold zero.
func (l *Ledger) Balance(ctx context.Context, user string) (int64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}

	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_accounts WHERE user_id = ?`, user,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", user, err)
	}
	return balance, nil
}

// History returns the user's transactions, newest first.
func (l *Ledger) History(ctx context.Context, user string, limit int) ([]Transaction, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, delta, type, job_id, description, created_at
		FROM credit_transactions
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		user, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", user, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Transaction
	for rows.Next() {
		var (
			t         Transaction
			typ       string
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Delta, &typ, &t.JobID, &t.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("history %s: %w", user, err)
		}
		t.Type = TxType(typ)
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// HasRefund reports whether the log already carries a refund tagged with
// jobID. The startup sweep uses it to keep refunds exactly-once.
func (l *Ledger) HasRefund(ctx context.Context, jobID string) (bool, error) {
	if l.closed.Load() {
		return false, ErrClosed
	}

	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credit_transactions WHERE job_id = ? AND type = ?`,
		jobID, string(TxRefund),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has refund %s: %w", jobID, err)
	}
	return n > 0, nil
}

func balanceTx(ctx context.Context, tx *sql.Tx, user string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM credit_accounts WHERE user_id = ?`, user,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func appendTx(ctx context.Context, tx *sql.Tx, user string, delta int64, typ TxType, jobID, description string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_id, delta, type, job_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user, delta, string(typ), jobID, description, time.Now().Unix(),
	)
	return err
}
