package notification_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftzone/craftzone-api/internal/domain/notification"
	"github.com/craftzone/craftzone-api/internal/pkg/testdb"
)

func TestAuditRepositoryStoresAndFilters(t *testing.T) {
	db := testdb.Open(t)
	repo := notification.NewAuditRepository(db)
	ctx := context.Background()
	user := testdb.CreateUser(t, db, testdb.UserOpts{})

	applied := notification.NewEvent(notification.KindLedgerEntryApplied, user).
		WithAmount(5, "referral_bonus_x").
		With("type", "referral_bonus")
	require.NoError(t, repo.Handle(ctx, applied))
	require.NoError(t, repo.Handle(ctx, applied))
	require.NoError(t, repo.Handle(ctx, notification.NewEvent(notification.KindWithdrawalRequested, user).WithAmount(-50, "withdrawal_y")))

	all, total, err := repo.List(ctx, notification.AuditFilter{UserID: user, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	only, total, err := repo.List(ctx, notification.AuditFilter{
		Kind:   string(notification.KindLedgerEntryApplied),
		UserID: user,
		Limit:  10,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, applied.ID, only[0].ID)
	assert.JSONEq(t, `{"type":"referral_bonus"}`, string(only[0].Payload))
	require.NotNil(t, only[0].Amount)
	assert.Equal(t, int64(5), *only[0].Amount)

	_, total, err = repo.List(ctx, notification.AuditFilter{UserID: uuid.New(), Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
}
