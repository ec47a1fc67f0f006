// Package ledger keeps per-user credit balances. Balances change only through
// Debit and Refund, both of which are atomic in the database.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"story-workers/internal/common/database"
	"story-workers/internal/common/logger"
	"story-workers/internal/models"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound   = errors.New("ACCOUNT_NOT_FOUND")
	ErrInsufficientFunds = errors.New("INSUFFICIENT_FUNDS")
	ErrRefundFailed      = errors.New("REFUND_FAILED")
	ErrInvalidCost       = errors.New("INVALID_COST")
)

// Ledger is the credit capability the generation pipeline depends on.
type Ledger interface {
	Debit(ctx context.Context, userID string, cost int64) (*models.Receipt, error)
	Refund(ctx context.Context, receipt *models.Receipt) error
	Balance(ctx context.Context, userID string) (*models.CreditAccount, error)
}

// PostgresLedger stores balances in accounts and an audit trail in
// ledger_entries.
type PostgresLedger struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

func NewPostgresLedger(db *sql.DB, log logger.Logger) *PostgresLedger {
	return &PostgresLedger{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "ledger"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Debit locks the account row, checks the balance and decrements it with a
// floor guard, all in one transaction.
func (l *PostgresLedger) Debit(ctx context.Context, userID string, cost int64) (*models.Receipt, error) {
	if cost <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}

	receipt := &models.Receipt{
		EntryID:   uuid.New().String(),
		UserID:    userID,
		Cost:      cost,
		DebitedAt: l.now(),
	}

	err := database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		var credits int64
		err := tx.QueryRowContext(ctx,
			`SELECT credits FROM accounts WHERE user_id = $1 FOR UPDATE`, userID,
		).Scan(&credits)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
		}
		if err != nil {
			return fmt.Errorf("read account: %w", err)
		}
		if credits < cost {
			return fmt.Errorf("%w: balance %d, cost %d", ErrInsufficientFunds, credits, cost)
		}

		var balance int64
		err = tx.QueryRowContext(ctx, `
			UPDATE accounts
			SET credits = credits - $2, updated_at = $3
			WHERE user_id = $1 AND credits >= $2
			RETURNING credits`,
			userID, cost, receipt.DebitedAt,
		).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: balance changed concurrently", ErrInsufficientFunds)
		}
		if err != nil {
			return fmt.Errorf("decrement credits: %w", err)
		}

		return insertEntry(ctx, tx, models.LedgerEntry{
			ID:        receipt.EntryID,
			UserID:    userID,
			Kind:      models.LedgerDebit,
			Amount:    cost,
			Balance:   balance,
			CreatedAt: receipt.DebitedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("credits debited", map[string]interface{}{
		"userId":  userID,
		"cost":    cost,
		"entryId": receipt.EntryID,
	})
	return receipt, nil
}

// Refund increments the balance by the receipt's cost. The increment is
// relative, so concurrent debits or top-ups are preserved.
func (l *PostgresLedger) Refund(ctx context.Context, receipt *models.Receipt) error {
	if receipt == nil {
		return fmt.Errorf("%w: nil receipt", ErrRefundFailed)
	}

	now := l.now()
	err := database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		var balance int64
		err := tx.QueryRowContext(ctx, `
			UPDATE accounts
			SET credits = credits + $2, updated_at = $3
			WHERE user_id = $1
			RETURNING credits`,
			receipt.UserID, receipt.Cost, now,
		).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("account %s disappeared", receipt.UserID)
		}
		if err != nil {
			return err
		}

		return insertEntry(ctx, tx, models.LedgerEntry{
			ID:        uuid.New().String(),
			UserID:    receipt.UserID,
			Kind:      models.LedgerRefund,
			Amount:    receipt.Cost,
			Balance:   balance,
			ReceiptID: receipt.EntryID,
			CreatedAt: now,
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}

	l.logger.Info("credits refunded", map[string]interface{}{
		"userId":    receipt.UserID,
		"cost":      receipt.Cost,
		"receiptId": receipt.EntryID,
	})
	return nil
}

func (l *PostgresLedger) Balance(ctx context.Context, userID string) (*models.CreditAccount, error) {
	account := &models.CreditAccount{UserID: userID}
	err := l.db.QueryRowContext(ctx,
		`SELECT credits FROM accounts WHERE user_id = $1`, userID,
	).Scan(&account.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	return account, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e models.LedgerEntry) error {
	var receiptID interface{}
	if e.ReceiptID != "" {
		receiptID = e.ReceiptID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, kind, amount, balance, receipt_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.UserID, string(e.Kind), e.Amount, e.Balance, receiptID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}
