//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/platform/postgres"
	"github.com/phrazzld/tollgate/internal/store"
	"github.com/phrazzld/tollgate/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLedgerStoreIntegration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	testdb.TruncateAll(t, db)
	ctx := context.Background()
	s := postgres.NewPostgresLedgerStore(db, nil)

	deposit := newEntry(t, "acct-int", 10000, domain.TransactionDeposit)
	balance, err := s.Credit(ctx, deposit)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(10000), balance)

	withdrawal := newEntry(t, "acct-int", 1000, domain.TransactionWithdrawal)
	balance, err = s.Debit(ctx, withdrawal)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(9000), balance)

	_, err = s.Debit(ctx, newEntry(t, "acct-int", 9500, domain.TransactionWithdrawal))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	refund := newEntry(t, "acct-int", 1000, domain.TransactionRefund)
	refund.Reference = withdrawal.ID
	balance, err = s.Reverse(ctx, withdrawal.ID, refund)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(10000), balance)

	again := newEntry(t, "acct-int", 1000, domain.TransactionRefund)
	again.Reference = withdrawal.ID
	_, err = s.Reverse(ctx, withdrawal.ID, again)
	assert.ErrorIs(t, err, domain.ErrAlreadyReversed)

	history, err := s.ListTransactions(ctx, "acct-int", 0)
	require.NoError(t, err)
	assert.Len(t, history, 3, "the rejected debit leaves no row")
}

func TestLedgerStoreIntegration_ConcurrentDebits(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	testdb.TruncateAll(t, db)
	ctx := context.Background()
	s := postgres.NewPostgresLedgerStore(db, nil)

	_, err := s.Credit(ctx, newEntry(t, "acct-race", 1000, domain.TransactionDeposit))
	require.NoError(t, err)

	var succeeded atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		entry := newEntry(t, "acct-race", 100, domain.TransactionPayment)
		g.Go(func() error {
			_, err := s.Debit(ctx, entry)
			if err == nil {
				succeeded.Add(1)
				return nil
			}
			if assert.ErrorIs(t, err, domain.ErrInsufficientFunds) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(10), succeeded.Load())
	balance, err := s.Balance(ctx, "acct-race")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(0), balance)
}

func TestTaskStoreIntegration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		s := postgres.NewPostgresTaskStore(tx, nil)

		task, err := domain.NewTask("acct-int", "payload", domain.NewAmount(10, 0))
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, task))

		next := *task
		require.NoError(t, next.TransitionTo(domain.TaskStatusQueued, time.Now()))
		require.NoError(t, s.CompareAndSwap(ctx, domain.TaskStatusNew, &next))

		stale := next
		require.NoError(t, stale.Fail("late", time.Now()))
		err = s.CompareAndSwap(ctx, domain.TaskStatusNew, &stale)
		assert.ErrorIs(t, err, store.ErrConflict)

		got, err := s.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusQueued, got.Status)

		old, err := s.ListStale(ctx, []domain.TaskStatus{domain.TaskStatusQueued}, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Len(t, old, 1)
	})
}
