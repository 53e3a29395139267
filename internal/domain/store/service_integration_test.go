package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/domain/store"
	"github.com/craftzone/craftzone-api/internal/pkg/testdb"
)

func newService(t *testing.T, db *sqlx.DB) *store.Service {
	t.Helper()
	runner := testdb.Runner(db)
	ledgerRepo := ledger.NewRepository(runner)
	return store.NewService(store.NewRepository(runner, ledgerRepo), ledger.NewService(ledgerRepo, nil), nil)
}

func cleanupOrders(t *testing.T, db *sqlx.DB, userID uuid.UUID) {
	t.Cleanup(func() {
		db.Exec(`DELETE FROM order_items WHERE order_id IN (SELECT id FROM orders WHERE user_id = $1)`, userID)
	})
}

func completedOrders(t *testing.T, db *sqlx.DB, userID uuid.UUID) int {
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status = 'completed'`, userID))
	return n
}

func TestPurchaseDebitsAndRecordsOrder(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 100})
	cleanupOrders(t, db, u)
	item := testdb.CreateItem(t, db, testdb.ItemOpts{Cost: 15, Inventory: testdb.IntPtr(5)})

	res, err := svc.Purchase(context.Background(), u, item, 2, "")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, store.OrderCompleted, res.Order.Status)
	assert.Equal(t, int64(30), res.Order.TotalCost)
	assert.Equal(t, int64(100), res.Order.BalanceBefore)
	assert.Equal(t, int64(70), res.Order.BalanceAfter)
	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, int64(15), res.Order.Items[0].UnitPrice)

	assert.Equal(t, int64(70), testdb.Balance(t, db, u))
	assert.Equal(t, 3, *testdb.Inventory(t, db, item))
	assert.Equal(t, 1, testdb.EntryCount(t, db, u, string(ledger.EntryStorePurchase)))
	assert.Equal(t, testdb.Balance(t, db, u), testdb.EntrySum(t, db, u))
}

func TestConcurrentPurchaseOfLastUnit(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 100})
	cleanupOrders(t, db, u)
	item := testdb.CreateItem(t, db, testdb.ItemOpts{Cost: 30, Inventory: testdb.IntPtr(1)})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Purchase(context.Background(), u, item, 1, "")
		}(i)
	}
	wg.Wait()

	var ok, outOfStock int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrOutOfStock):
			outOfStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, outOfStock)

	assert.Equal(t, 1, completedOrders(t, db, u))
	assert.Equal(t, int64(70), testdb.Balance(t, db, u))
	assert.Equal(t, 0, *testdb.Inventory(t, db, item))
	assert.Equal(t, testdb.Balance(t, db, u), testdb.EntrySum(t, db, u))
}

func TestCheckoutOutOfStockLeavesBalance(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 100})
	cleanupOrders(t, db, u)
	plenty := testdb.CreateItem(t, db, testdb.ItemOpts{Cost: 10})
	scarce := testdb.CreateItem(t, db, testdb.ItemOpts{Cost: 10, Inventory: testdb.IntPtr(1)})

	_, err := svc.Checkout(context.Background(), u, []store.Line{
		{ItemID: plenty, Quantity: 1},
		{ItemID: scarce, Quantity: 2},
	}, "")
	assert.ErrorIs(t, err, store.ErrOutOfStock)

	assert.Equal(t, int64(100), testdb.Balance(t, db, u))
	assert.Equal(t, 1, *testdb.Inventory(t, db, scarce))
	assert.Equal(t, 0, completedOrders(t, db, u))
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 20})
	item := testdb.CreateItem(t, db, testdb.ItemOpts{Cost: 30, Inventory: testdb.IntPtr(3)})

	_, err := svc.Purchase(context.Background(), u, item, 1, "")
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)
	assert.Equal(t, int64(20), testdb.Balance(t, db, u))
	assert.Equal(t, 3, *testdb.Inventory(t, db, item))
}

func TestPurchaseInactiveItem(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 100})
	item := testdb.CreateItem(t, db, testdb.ItemOpts{Cost: 10, Inactive: true})

	_, err := svc.Purchase(context.Background(), u, item, 1, "")
	assert.ErrorIs(t, err, store.ErrItemUnavailable)

	_, err = svc.Purchase(context.Background(), u, uuid.New(), 1, "")
	assert.ErrorIs(t, err, store.ErrItemUnavailable)
}

func TestPurchaseRetryWithSameKey(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 100})
	cleanupOrders(t, db, u)
	item := testdb.CreateItem(t, db, testdb.ItemOpts{Cost: 30, Inventory: testdb.IntPtr(5)})
	ctx := context.Background()

	first, err := svc.Purchase(ctx, u, item, 1, "checkout-7f3a")
	require.NoError(t, err)

	again, err := svc.Purchase(ctx, u, item, 1, "checkout-7f3a")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Order.ID, again.Order.ID)

	_, err = svc.Purchase(ctx, u, item, 2, "checkout-7f3a")
	assert.ErrorIs(t, err, store.ErrIdempotencyConflict)

	assert.Equal(t, int64(70), testdb.Balance(t, db, u))
	assert.Equal(t, 4, *testdb.Inventory(t, db, item))
	assert.Equal(t, 1, completedOrders(t, db, u))
}

func TestConcurrentRetriesWithSameKeyDebitOnce(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 100})
	cleanupOrders(t, db, u)
	item := testdb.CreateItem(t, db, testdb.ItemOpts{Cost: 25})

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Purchase(context.Background(), u, item, 1, "timeout-retry")
			if assert.NoError(t, err) {
				ids[i] = res.Order.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int64(75), testdb.Balance(t, db, u))
	assert.Equal(t, 1, testdb.EntryCount(t, db, u, string(ledger.EntryStorePurchase)))
}

func TestRedemptionPayloadIsCapturedAtPurchase(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	u := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 50})
	cleanupOrders(t, db, u)
	item := testdb.CreateItem(t, db, testdb.ItemOpts{Cost: 10, RedemptionCode: "FFCRAFT-2026-ALPHA"})
	ctx := context.Background()

	res, err := svc.Purchase(ctx, u, item, 1, "")
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE store_items SET redemption_code = 'FFCRAFT-2026-BETA' WHERE id = $1`, item)
	require.NoError(t, err)

	order, err := svc.GetOrder(ctx, u, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.NotNil(t, order.Items[0].RedemptionPayload)
	assert.Equal(t, "FFCRAFT-2026-ALPHA", *order.Items[0].RedemptionPayload)

	stranger := testdb.CreateUser(t, db, testdb.UserOpts{})
	_, err = svc.GetOrder(ctx, stranger, res.Order.ID)
	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}

func TestRefundOrder(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db)
	buyer := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 100})
	staff := testdb.CreateUser(t, db, testdb.UserOpts{Role: "admin"})
	cleanupOrders(t, db, buyer)
	item := testdb.CreateItem(t, db, testdb.ItemOpts{Cost: 40, Inventory: testdb.IntPtr(2)})
	ctx := context.Background()

	res, err := svc.Purchase(ctx, buyer, item, 1, "")
	require.NoError(t, err)

	refund, err := svc.RefundOrder(ctx, staff, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, store.OrderRefunded, refund.Order.Status)
	require.NotNil(t, refund.Entry)
	assert.Equal(t, int64(40), refund.Entry.Amount)

	_, err = svc.RefundOrder(ctx, staff, res.Order.ID)
	assert.ErrorIs(t, err, store.ErrOrderNotRefundable)

	_, err = svc.RefundOrder(ctx, staff, uuid.New())
	assert.ErrorIs(t, err, store.ErrOrderNotFound)

	assert.Equal(t, int64(100), testdb.Balance(t, db, buyer))
	assert.Equal(t, 2, *testdb.Inventory(t, db, item))
	assert.Equal(t, testdb.Balance(t, db, buyer), testdb.EntrySum(t, db, buyer))
}
