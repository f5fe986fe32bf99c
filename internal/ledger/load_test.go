package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type loadOpKind int

const (
	opDeposit loadOpKind = iota
	opWithdraw
	opPay
	opPayRefund
)

type loadOp struct {
	kind   loadOpKind
	amount domain.Amount
}

// runRandomLoad fires a seeded random mix of deposits, withdrawals,
// payments and refunds at one account while observers poll the balance. The
// balance must never be negative and must end equal to both the sum of
// successful operations and the sum of completed history deltas.
func runRandomLoad(t *testing.T, svc *ledger.Service, account string) {
	t.Helper()
	ctx := context.Background()

	seed := time.Now().UnixNano()
	t.Logf("random load seed: %d", seed)
	rng := rand.New(rand.NewSource(seed))

	initial := domain.Amount(rng.Int63n(1000) + 1)
	_, err := svc.Deposit(ctx, account, initial, "initial")
	require.NoError(t, err)

	ops := make([]loadOp, 50+rng.Intn(100))
	for i := range ops {
		ops[i] = loadOp{
			kind:   loadOpKind(rng.Intn(4)),
			amount: domain.Amount(rng.Int63n(800) + 1),
		}
	}

	var applied atomic.Int64
	applied.Add(initial.Cents())

	stop := make(chan struct{})
	var observers errgroup.Group
	for range 4 {
		observers.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				balance, err := svc.GetBalance(ctx, account)
				if err != nil {
					return err
				}
				if balance < 0 {
					return fmt.Errorf("observed negative balance %s", balance)
				}
			}
		})
	}

	var workers errgroup.Group
	workers.SetLimit(16)
	for i, op := range ops {
		workers.Go(func() error {
			ref := fmt.Sprintf("load-%d", i)
			var err error
			switch op.kind {
			case opDeposit:
				if _, err = svc.Deposit(ctx, account, op.amount, ref); err == nil {
					applied.Add(op.amount.Cents())
				}
			case opWithdraw:
				if _, err = svc.Withdraw(ctx, account, op.amount, ref); err == nil {
					applied.Add(-op.amount.Cents())
				}
			case opPay, opPayRefund:
				var payID string
				if payID, err = svc.Pay(ctx, account, op.amount, ref, ""); err != nil {
					break
				}
				applied.Add(-op.amount.Cents())
				if op.kind == opPayRefund {
					if _, err = svc.Refund(ctx, payID, ""); err == nil {
						applied.Add(op.amount.Cents())
					}
				}
			}
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return nil
			}
			return err
		})
	}
	workerErr := workers.Wait()
	close(stop)
	require.NoError(t, observers.Wait())
	require.NoError(t, workerErr)

	history, err := svc.History(ctx, account, 1000)
	require.NoError(t, err)
	var sum domain.Amount
	for _, tx := range history {
		if tx.Status == domain.TransactionCompleted || tx.Status == domain.TransactionReversed {
			sum += tx.Delta()
		}
	}

	balance, err := svc.GetBalance(ctx, account)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, balance, domain.Amount(0))
	assert.Equal(t, domain.Amount(applied.Load()), balance, "balance matches successful operations")
	assert.Equal(t, sum, balance, "balance matches completed history")
}
