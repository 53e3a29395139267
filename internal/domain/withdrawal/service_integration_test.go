package withdrawal_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/domain/withdrawal"
	"github.com/craftzone/craftzone-api/internal/pkg/cache"
	"github.com/craftzone/craftzone-api/internal/pkg/clock"
	"github.com/craftzone/craftzone-api/internal/pkg/testdb"
)

func newService(t *testing.T, db *sqlx.DB) *withdrawal.Service {
	t.Helper()
	runner := testdb.Runner(db)
	ledgerRepo := ledger.NewRepository(runner)
	return withdrawal.NewService(
		withdrawal.NewRepository(runner, ledgerRepo),
		ledger.NewService(ledgerRepo, nil),
		cache.NewMemory(clock.RealClock{}),
		nil,
		10,
	)
}

func TestRejectRefundsExactlyOnce(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 200})
	staff := testdb.CreateUser(t, db, testdb.UserOpts{Role: "admin"})
	ctx := context.Background()

	req, err := svc.Request(ctx, u, 50, "paypal", "player@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(150), req.Balance)
	assert.Equal(t, int64(150), testdb.Balance(t, db, u))

	rejected, err := svc.Reject(ctx, staff, req.Withdrawal.ID, "payout details do not match account")
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusRejected, rejected.Withdrawal.Status)
	assert.Equal(t, int64(200), testdb.Balance(t, db, u))

	_, err = svc.Reject(ctx, staff, req.Withdrawal.ID, "again")
	assert.ErrorIs(t, err, withdrawal.ErrAlreadyProcessed)
	_, err = svc.Approve(ctx, staff, req.Withdrawal.ID)
	assert.ErrorIs(t, err, withdrawal.ErrAlreadyProcessed)

	assert.Equal(t, int64(200), testdb.Balance(t, db, u))
	assert.Equal(t, 1, testdb.EntryCount(t, db, u, string(ledger.EntryWithdrawalHoldRelease)))
	assert.Equal(t, testdb.Balance(t, db, u), testdb.EntrySum(t, db, u))
}

func TestConcurrentRejectsRefundOnce(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 200})
	staff := testdb.CreateUser(t, db, testdb.UserOpts{Role: "admin"})

	req, err := svc.Request(context.Background(), u, 50, "upi", "player@upi")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reject(context.Background(), staff, req.Withdrawal.ID, "duplicate account")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, withdrawal.ErrAlreadyProcessed)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(200), testdb.Balance(t, db, u))
}

func TestApproveKeepsDebit(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 80})
	staff := testdb.CreateUser(t, db, testdb.UserOpts{Role: "admin"})
	ctx := context.Background()

	req, err := svc.Request(ctx, u, 30, "gift_card", "player@example.com")
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, staff, req.Withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusApproved, approved.Withdrawal.Status)
	require.NotNil(t, approved.Withdrawal.ProcessedBy)
	assert.Equal(t, staff, *approved.Withdrawal.ProcessedBy)
	assert.Nil(t, approved.Entry)

	assert.Equal(t, int64(50), testdb.Balance(t, db, u))
	assert.Equal(t, testdb.Balance(t, db, u), testdb.EntrySum(t, db, u))
}

func TestRequestValidation(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 40})
	ctx := context.Background()

	_, err := svc.Request(ctx, u, 5, "paypal", "x")
	assert.ErrorIs(t, err, withdrawal.ErrBelowMinimum)

	_, err = svc.Request(ctx, u, 50, "paypal", "x")
	assert.ErrorIs(t, err, withdrawal.ErrInsufficientFunds)

	assert.Equal(t, int64(40), testdb.Balance(t, db, u))
	items, total, err := svc.ListMine(ctx, u, 20, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}

func TestCancelRefundsAndDeletes(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 100})
	other := testdb.CreateUser(t, db, testdb.UserOpts{})
	ctx := context.Background()

	req, err := svc.Request(ctx, u, 60, "bank_transfer", "DE89 3704 0044 0532 0130 00")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, other, req.Withdrawal.ID)
	assert.ErrorIs(t, err, withdrawal.ErrNotFound)

	cancelled, err := svc.Cancel(ctx, u, req.Withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), cancelled.Balance)

	_, err = svc.Cancel(ctx, u, req.Withdrawal.ID)
	assert.ErrorIs(t, err, withdrawal.ErrNotFound)

	_, total, err := svc.ListMine(ctx, u, 20, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Equal(t, int64(100), testdb.Balance(t, db, u))
	assert.Equal(t, testdb.Balance(t, db, u), testdb.EntrySum(t, db, u))
}

func TestCancelProcessedWithdrawal(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 100})
	staff := testdb.CreateUser(t, db, testdb.UserOpts{Role: "admin"})
	ctx := context.Background()

	req, err := svc.Request(ctx, u, 20, "paypal", "player@example.com")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, staff, req.Withdrawal.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, u, req.Withdrawal.ID)
	assert.ErrorIs(t, err, withdrawal.ErrAlreadyProcessed)

	_, err = svc.Approve(ctx, staff, uuid.New())
	assert.ErrorIs(t, err, withdrawal.ErrNotFound)
}
