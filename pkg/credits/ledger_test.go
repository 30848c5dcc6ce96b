package credits

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/test/util"
)

func newTestLedger(t *testing.T, signupBonus int) *Ledger {
	return NewLedger(util.SetupTestDatabase(t), signupBonus)
}

func TestLedger_GetOrCreateAccount(t *testing.T) {
	l := newTestLedger(t, 10)
	ctx := context.Background()

	acct, err := l.GetOrCreateAccount(ctx, "user-aaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, 10, acct.Balance)
	assert.Equal(t, 0, acct.TotalUsed)

	// Second call returns the same account without a second bonus.
	acct, err = l.GetOrCreateAccount(ctx, "user-aaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, 10, acct.Balance)

	txs, err := l.Transactions(ctx, "user-aaaaaaaaaa", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, TypeSignupBonus, txs[0].Type)
	assert.Equal(t, 10, txs[0].Amount)
}

func TestLedger_Debit(t *testing.T) {
	l := newTestLedger(t, 2)
	ctx := context.Background()

	require.NoError(t, l.Debit(ctx, "user-aaaaaaaaaa", 1, "job_1", "book generation"))

	balance, err := l.Balance(ctx, "user-aaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, 1, balance)

	acct, err := l.GetOrCreateAccount(ctx, "user-aaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, 1, acct.TotalUsed)

	txs, err := l.Transactions(ctx, "user-aaaaaaaaaa", 0)
	require.NoError(t, err)
	require.Len(t, txs, 2) // signup bonus + debit, newest first
	assert.Equal(t, TypeDebit, txs[0].Type)
	assert.Equal(t, -1, txs[0].Amount)
	assert.Equal(t, 1, txs[0].BalanceAfter)
	require.NotNil(t, txs[0].JobID)
	assert.Equal(t, "job_1", *txs[0].JobID)
}

func TestLedger_Debit_Insufficient(t *testing.T) {
	l := newTestLedger(t, 1)
	ctx := context.Background()

	require.NoError(t, l.Debit(ctx, "user-aaaaaaaaaa", 1, "job_1", "book generation"))

	err := l.Debit(ctx, "user-aaaaaaaaaa", 1, "job_2", "book generation")
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	// The failed debit records nothing.
	balance, err := l.Balance(ctx, "user-aaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
	txs, err := l.Transactions(ctx, "user-aaaaaaaaaa", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestLedger_Debit_RejectsNonPositive(t *testing.T) {
	l := newTestLedger(t, 1)
	assert.Error(t, l.Debit(context.Background(), "user-aaaaaaaaaa", 0, "job_1", "x"))
	assert.Error(t, l.Debit(context.Background(), "user-aaaaaaaaaa", -1, "job_1", "x"))
}

func TestLedger_Refund_IdempotentPerJobAndReason(t *testing.T) {
	l := newTestLedger(t, 5)
	ctx := context.Background()

	require.NoError(t, l.Debit(ctx, "user-aaaaaaaaaa", 1, "job_1", "book generation"))

	// Pipeline and monitor may both try to refund the same failure; only
	// the first lands.
	require.NoError(t, l.Refund(ctx, "user-aaaaaaaaaa", 1, "job_1", "IMAGE_FAILED"))
	require.NoError(t, l.Refund(ctx, "user-aaaaaaaaaa", 1, "job_1", "IMAGE_FAILED"))

	balance, err := l.Balance(ctx, "user-aaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	txs, err := l.Transactions(ctx, "user-aaaaaaaaaa", 0)
	require.NoError(t, err)
	refunds := 0
	for _, tx := range txs {
		if tx.Type == TypeRefund {
			refunds++
			assert.Equal(t, 1, tx.Amount)
		}
	}
	assert.Equal(t, 1, refunds)

	// Total used drops back after the refund.
	acct, err := l.GetOrCreateAccount(ctx, "user-aaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, 0, acct.TotalUsed)
}

func TestLedger_ConcurrentDebits_NeverOverspend(t *testing.T) {
	l := newTestLedger(t, 3)
	ctx := context.Background()

	_, err := l.GetOrCreateAccount(ctx, "user-aaaaaaaaaa")
	require.NoError(t, err)

	const attempts = 10
	var wg sync.WaitGroup
	errCh := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errCh <- l.Debit(ctx, "user-aaaaaaaaaa", 1, "", "book generation")
		}(i)
	}
	wg.Wait()
	close(errCh)

	succeeded := 0
	for err := range errCh {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrInsufficientCredits)
		}
	}
	assert.Equal(t, 3, succeeded)

	balance, err := l.Balance(ctx, "user-aaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestLedger_TransactionsLimit(t *testing.T) {
	l := newTestLedger(t, 10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Debit(ctx, "user-aaaaaaaaaa", 1, "", "book generation"))
	}

	txs, err := l.Transactions(ctx, "user-aaaaaaaaaa", 3)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}
