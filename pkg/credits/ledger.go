// Package credits implements the per-user credit ledger: signup grants,
// conditional debits and idempotent refunds, each recorded as a
// transaction row.
package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrInsufficientCredits is returned when a debit would drive the balance
// negative.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Transaction types recorded in the ledger.
const (
	TypeSignupBonus = "signup_bonus"
	TypeDebit       = "debit"
	TypeRefund      = "refund"
)

// Refund reasons. Every refund path for one job must use the same reason:
// the (job_id, reason) uniqueness guard only dedupes refunds that agree on
// it.
const (
	// RefundReasonAdmissionRollback marks refunds issued when admission
	// debited but failed to enqueue the job.
	RefundReasonAdmissionRollback = "admission_rollback"

	// RefundReasonJobFailed marks refunds issued when a job reached the
	// failed state, whichever component got it there.
	RefundReasonJobFailed = "job_failed"
)

// Account is a user's current credit state.
type Account struct {
	UserKey   string    `db:"user_key" json:"user_key"`
	Balance   int       `db:"balance" json:"balance"`
	TotalUsed int       `db:"total_used" json:"total_used"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is one ledger entry.
type Transaction struct {
	ID           int64     `db:"id" json:"id"`
	UserKey      string    `db:"user_key" json:"user_key"`
	Amount       int       `db:"amount" json:"amount"`
	BalanceAfter int       `db:"balance_after" json:"balance_after"`
	Type         string    `db:"type" json:"type"`
	Reason       string    `db:"reason" json:"reason"`
	JobID        *string   `db:"job_id" json:"job_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Ledger provides credit operations over the shared database.
type Ledger struct {
	db          *sqlx.DB
	signupBonus int
}

// NewLedger creates a Ledger. signupBonus is granted on first contact
// with a user key.
func NewLedger(db *sqlx.DB, signupBonus int) *Ledger {
	return &Ledger{db: db, signupBonus: signupBonus}
}

// GetOrCreateAccount returns the user's account, creating it with the
// signup bonus on first use. Concurrent first calls race safely through
// ON CONFLICT DO NOTHING.
func (l *Ledger) GetOrCreateAccount(ctx context.Context, userKey string) (*Account, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO user_credits (user_key, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_key) DO NOTHING`,
		userKey, l.signupBonus)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure credit account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 && l.signupBonus > 0 {
		_, err = l.db.ExecContext(ctx, `
			INSERT INTO credit_transactions (user_key, amount, balance_after, type, reason)
			VALUES ($1, $2, $2, $3, 'welcome credits')`,
			userKey, l.signupBonus, TypeSignupBonus)
		if err != nil {
			return nil, fmt.Errorf("failed to record signup bonus: %w", err)
		}
	}

	var acct Account
	err = l.db.GetContext(ctx, &acct,
		`SELECT user_key, balance, total_used, created_at, updated_at
		 FROM user_credits WHERE user_key = $1`, userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load credit account: %w", err)
	}
	return &acct, nil
}

// Debit atomically subtracts amount from the user's balance. The
// conditional UPDATE is the entire concurrency story: two racing debits
// both succeed only if the balance covers both.
func (l *Ledger) Debit(ctx context.Context, userKey string, amount int, jobID, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	if _, err := l.GetOrCreateAccount(ctx, userKey); err != nil {
		return err
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin debit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balanceAfter int
	err = tx.GetContext(ctx, &balanceAfter, `
		UPDATE user_credits
		SET balance = balance - $1, total_used = total_used + $1, updated_at = now()
		WHERE user_key = $2 AND balance >= $1
		RETURNING balance`,
		amount, userKey)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInsufficientCredits
	}
	if err != nil {
		return fmt.Errorf("failed to debit credits: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_key, amount, balance_after, type, reason, job_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userKey, -amount, balanceAfter, TypeDebit, reason, nullable(jobID))
	if err != nil {
		return fmt.Errorf("failed to record debit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit debit: %w", err)
	}
	return nil
}

// Refund returns amount to the user's balance. Idempotent per
// (job_id, reason): a second refund for the same failure inserts nothing
// and restores nothing.
func (l *Ledger) Refund(ctx context.Context, userKey string, amount int, jobID, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin refund transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The partial unique index on (job_id, reason) WHERE type='refund'
	// rejects the duplicate before any balance change.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_key, amount, balance_after, type, reason, job_id)
		SELECT $1, $2, balance + $2, $3, $4, $5
		FROM user_credits WHERE user_key = $1
		ON CONFLICT (job_id, reason) WHERE type = 'refund' DO NOTHING`,
		userKey, amount, TypeRefund, reason, nullable(jobID))
	if err != nil {
		return fmt.Errorf("failed to record refund: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Already refunded for this reason.
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE user_credits
		SET balance = balance + $1, total_used = GREATEST(total_used - $1, 0), updated_at = now()
		WHERE user_key = $2`,
		amount, userKey)
	if err != nil {
		return fmt.Errorf("failed to restore balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refund: %w", err)
	}
	return nil
}

// Balance returns the user's current balance, creating the account with
// the signup bonus if needed.
func (l *Ledger) Balance(ctx context.Context, userKey string) (int, error) {
	acct, err := l.GetOrCreateAccount(ctx, userKey)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Transactions returns the user's ledger entries, newest first, capped at
// limit (default 50).
func (l *Ledger) Transactions(ctx context.Context, userKey string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Transaction
	err := l.db.SelectContext(ctx, &out, `
		SELECT id, user_key, amount, balance_after, type, reason, job_id, created_at
		FROM credit_transactions
		WHERE user_key = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		userKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
