package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftzone/craftzone-api/internal/domain/notification"
)

// memStore mirrors the repository rules in memory.
type memStore struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	entries  []Entry
}

func newMemStore(users ...uuid.UUID) *memStore {
	s := &memStore{balances: map[uuid.UUID]int64{}}
	for _, u := range users {
		s.balances[u] = 0
	}
	return s
}

func (s *memStore) Apply(_ context.Context, m Mutation) (Result, error) {
	if err := Validate(m); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[m.UserID]
	if !ok {
		return Result{}, ErrUserNotFound
	}
	for _, e := range s.entries {
		if e.UserID == m.UserID && e.Type == m.Type && e.Reference == m.Reference {
			if e.Amount != m.Amount {
				return Result{}, ErrReferenceConflict
			}
			return Result{Entry: e, Balance: balance, Duplicate: true}, ErrDuplicateReference
		}
	}
	if balance+m.Amount < 0 {
		return Result{Balance: balance}, ErrInsufficientFunds
	}
	e := Entry{ID: uuid.New(), UserID: m.UserID, Type: m.Type, Amount: m.Amount, Reference: m.Reference, BalanceAfter: balance + m.Amount, ActorID: m.ActorID}
	s.entries = append(s.entries, e)
	s.balances[m.UserID] = e.BalanceAfter
	return Result{Entry: e, Balance: e.BalanceAfter}, nil
}

func (s *memStore) GetBalance(_ context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	return b, nil
}

func (s *memStore) ListEntries(_ context.Context, userID uuid.UUID, limit, offset int) ([]Entry, int, error) {
	return nil, 0, nil
}

func (s *memStore) FindMismatches(context.Context) ([]Mismatch, error) {
	return nil, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingSink) Publish(e notification.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestAdminAdjustRerunIsAbsorbed(t *testing.T) {
	userID, adminID := uuid.New(), uuid.New()
	sink := &recordingSink{}
	svc := NewService(newMemStore(userID), sink)
	ctx := context.Background()

	first, err := svc.AdminAdjust(ctx, adminID, userID, 25, "promo_2026_01", "new year promo")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.AdminAdjust(ctx, adminID, userID, 25, "promo_2026_01", "new year promo")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, notification.KindLedgerEntryApplied, ev.Kind)
	require.NotNil(t, ev.ActorID)
	assert.Equal(t, adminID, *ev.ActorID)
	assert.Equal(t, "promo_2026_01", ev.Reference)
}

func TestAdminAdjustGeneratesReference(t *testing.T) {
	userID := uuid.New()
	svc := NewService(newMemStore(userID), nil)

	a, err := svc.AdminAdjust(context.Background(), uuid.New(), userID, 5, "", "goodwill")
	require.NoError(t, err)
	b, err := svc.AdminAdjust(context.Background(), uuid.New(), userID, 5, "", "goodwill")
	require.NoError(t, err)

	assert.NotEqual(t, a.Entry.Reference, b.Entry.Reference)
	assert.Equal(t, int64(10), b.Balance)
}

func TestPenalize(t *testing.T) {
	userID := uuid.New()
	store := newMemStore(userID)
	svc := NewService(store, nil)
	ctx := context.Background()

	_, err := svc.AdminAdjust(ctx, uuid.New(), userID, 30, "seed", "")
	require.NoError(t, err)

	res, err := svc.Penalize(ctx, uuid.New(), userID, 20, "", "farming referrals")
	require.NoError(t, err)
	assert.Equal(t, EntryFraudPenalty, res.Entry.Type)
	assert.Equal(t, int64(-20), res.Entry.Amount)
	assert.Equal(t, int64(10), res.Balance)

	_, err = svc.Penalize(ctx, uuid.New(), userID, 20, "", "again")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = svc.Penalize(ctx, uuid.New(), userID, -5, "", "negative")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApplyEntryReturnsDuplicateToCaller(t *testing.T) {
	userID := uuid.New()
	svc := NewService(newMemStore(userID), nil)
	m := Mutation{UserID: userID, Type: EntryQuizReward, Amount: 3, Reference: QuizRewardRef(uuid.New(), userID)}

	_, err := svc.ApplyEntry(context.Background(), m)
	require.NoError(t, err)

	res, err := svc.ApplyEntry(context.Background(), m)
	assert.True(t, IsBenign(err))
	assert.True(t, res.Duplicate)
}

func TestEntryTypeDirections(t *testing.T) {
	assert.True(t, EntryReferralBonus.Accepts(1))
	assert.False(t, EntryReferralBonus.Accepts(-1))
	assert.True(t, EntryWithdrawalRequest.Accepts(-1))
	assert.False(t, EntryWithdrawalRequest.Accepts(1))
	assert.True(t, EntryAdminAdjustment.Accepts(-1))
	assert.True(t, EntryAdminAdjustment.Accepts(1))
	assert.False(t, EntryAdminAdjustment.Accepts(0))
	assert.False(t, EntryType("unknown").Valid())
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, "insufficient_funds", RejectionReason(ErrInsufficientFunds))
	assert.Equal(t, "store_unavailable", RejectionReason(ErrStoreUnavailable))
	assert.Equal(t, "internal", RejectionReason(assert.AnError))
}
