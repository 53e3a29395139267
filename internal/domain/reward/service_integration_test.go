package reward_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftzone/craftzone-api/internal/domain/abuse"
	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/domain/reward"
	"github.com/craftzone/craftzone-api/internal/domain/user"
	"github.com/craftzone/craftzone-api/internal/pkg/clock"
	"github.com/craftzone/craftzone-api/internal/pkg/testdb"
)

type fixedReward int64

func (f fixedReward) ReferralReward(context.Context) (int64, error) { return int64(f), nil }

var oneIPPerDay = abuse.Policy{Window: 24 * time.Hour, MaxAttempts: 1}

func newService(t *testing.T, db *sqlx.DB, amount int64, policy abuse.Policy) *reward.Service {
	t.Helper()
	runner := testdb.Runner(db)
	ledgerRepo := ledger.NewRepository(runner)
	return reward.NewService(
		reward.NewRepository(runner, ledgerRepo),
		user.NewRepository(db),
		ledger.NewService(ledgerRepo, nil),
		abuse.NewMemoryGuard(clock.RealClock{}),
		fixedReward(amount),
		policy,
		nil,
	)
}

func referralCode(t *testing.T, db *sqlx.DB, userID uuid.UUID) string {
	var code string
	require.NoError(t, db.Get(&code, `SELECT referral_code FROM users WHERE id = $1`, userID))
	return code
}

func referralCount(t *testing.T, db *sqlx.DB, userID uuid.UUID) int {
	var n int
	require.NoError(t, db.Get(&n, `SELECT referral_count FROM users WHERE id = $1`, userID))
	return n
}

func TestApplyReferralCreditsBothSides(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db, 5, oneIPPerDay)
	referrer := testdb.CreateUser(t, db, testdb.UserOpts{Balance: 10})
	newcomer := testdb.CreateUser(t, db, testdb.UserOpts{})

	res, err := svc.ApplyReferral(context.Background(), newcomer, referralCode(t, db, referrer), "198.51.100.10")
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)
	assert.Equal(t, int64(5), res.Reward)
	assert.Equal(t, int64(5), res.Balance)

	assert.Equal(t, int64(5), testdb.Balance(t, db, newcomer))
	assert.Equal(t, int64(15), testdb.Balance(t, db, referrer))
	assert.Equal(t, 1, referralCount(t, db, referrer))
	assert.Equal(t, 1, testdb.EntryCount(t, db, newcomer, string(ledger.EntryReferralApplied)))
	assert.Equal(t, 1, testdb.EntryCount(t, db, referrer, string(ledger.EntryReferralBonus)))

	for _, id := range []uuid.UUID{referrer, newcomer} {
		assert.Equal(t, testdb.Balance(t, db, id), testdb.EntrySum(t, db, id))
	}
}

func TestApplyReferralTwiceIsIdempotent(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db, 5, abuse.Policy{Window: time.Hour, MaxAttempts: 100})
	referrer := testdb.CreateUser(t, db, testdb.UserOpts{})
	newcomer := testdb.CreateUser(t, db, testdb.UserOpts{})
	code := referralCode(t, db, referrer)

	_, err := svc.ApplyReferral(context.Background(), newcomer, code, "198.51.100.11")
	require.NoError(t, err)

	res, err := svc.ApplyReferral(context.Background(), newcomer, code, "198.51.100.11")
	require.NoError(t, err)
	assert.True(t, res.AlreadyApplied)
	assert.Equal(t, int64(5), res.Balance)

	assert.Equal(t, int64(5), testdb.Balance(t, db, newcomer))
	assert.Equal(t, int64(5), testdb.Balance(t, db, referrer))
	assert.Equal(t, 1, referralCount(t, db, referrer))
}

func TestApplyReferralRejectsOwnCode(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db, 5, oneIPPerDay)
	u := testdb.CreateUser(t, db, testdb.UserOpts{})

	_, err := svc.ApplyReferral(context.Background(), u, referralCode(t, db, u), "198.51.100.12")
	assert.ErrorIs(t, err, reward.ErrSelfReferral)
	assert.Equal(t, 0, testdb.EntryCount(t, db, u, ""))
}

func TestApplyReferralUnknownCode(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db, 5, oneIPPerDay)
	u := testdb.CreateUser(t, db, testdb.UserOpts{})

	_, err := svc.ApplyReferral(context.Background(), u, "ZZZZZZZZZZ", "198.51.100.13")
	assert.ErrorIs(t, err, reward.ErrInvalidCode)
}

func TestApplyReferralOtherCodeOfSameReferrer(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db, 5, abuse.Policy{Window: time.Hour, MaxAttempts: 100})
	referrer := testdb.CreateUser(t, db, testdb.UserOpts{})
	newcomer := testdb.CreateUser(t, db, testdb.UserOpts{})

	_, err := svc.ApplyReferral(context.Background(), newcomer, referralCode(t, db, referrer), "198.51.100.14")
	require.NoError(t, err)

	newCode := "R" + referralCode(t, db, referrer)[:9]
	_, err = db.Exec(`UPDATE users SET referral_code = $1 WHERE id = $2`, newCode, referrer)
	require.NoError(t, err)

	_, err = svc.ApplyReferral(context.Background(), newcomer, newCode, "198.51.100.14")
	assert.ErrorIs(t, err, reward.ErrAlreadyApplied)
	assert.Equal(t, int64(5), testdb.Balance(t, db, referrer))
}

func TestApplyReferralRateLimitedPerNetworkAddress(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db, 5, oneIPPerDay)
	referrer := testdb.CreateUser(t, db, testdb.UserOpts{})
	code := referralCode(t, db, referrer)
	addr := "203.0.113.99"

	var limited int
	for i := 0; i < 4; i++ {
		newcomer := testdb.CreateUser(t, db, testdb.UserOpts{})
		_, err := svc.ApplyReferral(context.Background(), newcomer, code, addr)
		if i == 0 {
			require.NoError(t, err)
			continue
		}
		require.ErrorIs(t, err, abuse.ErrRateLimited)
		assert.Greater(t, abuse.RetryAfter(err), time.Duration(0))
		assert.Equal(t, 0, testdb.EntryCount(t, db, newcomer, ""))
		limited++
	}

	assert.Equal(t, 3, limited)
	assert.Equal(t, 1, testdb.EntryCount(t, db, referrer, string(ledger.EntryReferralBonus)))
	assert.Equal(t, int64(5), testdb.Balance(t, db, referrer))
}

func TestConcurrentIdenticalReferralsCreditOnce(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db, 5, abuse.Policy{Window: time.Hour, MaxAttempts: 100})
	referrer := testdb.CreateUser(t, db, testdb.UserOpts{})
	newcomer := testdb.CreateUser(t, db, testdb.UserOpts{})
	code := referralCode(t, db, referrer)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyReferral(context.Background(), newcomer, code, "198.51.100.15")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), testdb.Balance(t, db, newcomer))
	assert.Equal(t, int64(5), testdb.Balance(t, db, referrer))
	assert.Equal(t, 1, referralCount(t, db, referrer))
}

func TestZeroRewardRecordsApplicationOnly(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db, 0, oneIPPerDay)
	referrer := testdb.CreateUser(t, db, testdb.UserOpts{})
	newcomer := testdb.CreateUser(t, db, testdb.UserOpts{})

	res, err := svc.ApplyReferral(context.Background(), newcomer, referralCode(t, db, referrer), "198.51.100.16")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Reward)
	assert.Equal(t, 1, referralCount(t, db, referrer))
	assert.Equal(t, 0, testdb.EntryCount(t, db, newcomer, ""))
	assert.Equal(t, 0, testdb.EntryCount(t, db, referrer, ""))

	summary, err := svc.Summary(context.Background(), newcomer)
	require.NoError(t, err)
	require.Len(t, summary.Applied, 1)
	assert.Equal(t, referrer, summary.Applied[0].ReferrerID)
}

func createQuiz(t *testing.T, db *sqlx.DB, reward int64, passScore int, active bool) uuid.UUID {
	id := uuid.New()
	_, err := db.Exec(`INSERT INTO quizzes (id, title, coin_reward, pass_score, is_active) VALUES ($1, 'Weapons trivia', $2, $3, $4)`,
		id, reward, passScore, active)
	require.NoError(t, err)
	t.Cleanup(func() { db.Exec(`DELETE FROM quizzes WHERE id = $1`, id) })
	return id
}

func TestClaimQuizReward(t *testing.T) {
	db := testdb.Open(t)
	svc := newService(t, db, 5, oneIPPerDay)
	u := testdb.CreateUser(t, db, testdb.UserOpts{})
	ctx := context.Background()

	quiz := createQuiz(t, db, 3, 7, true)

	_, err := svc.ClaimQuizReward(ctx, u, quiz, 6)
	assert.ErrorIs(t, err, reward.ErrQuizNotPassed)

	claim, err := svc.ClaimQuizReward(ctx, u, quiz, 9)
	require.NoError(t, err)
	assert.False(t, claim.AlreadyClaimed)
	assert.Equal(t, int64(3), claim.Balance)

	claim, err = svc.ClaimQuizReward(ctx, u, quiz, 10)
	require.NoError(t, err)
	assert.True(t, claim.AlreadyClaimed)
	assert.Equal(t, int64(3), testdb.Balance(t, db, u))

	closed := createQuiz(t, db, 3, 0, false)
	_, err = svc.ClaimQuizReward(ctx, u, closed, 10)
	assert.ErrorIs(t, err, reward.ErrQuizInactive)

	_, err = svc.ClaimQuizReward(ctx, u, uuid.New(), 10)
	assert.ErrorIs(t, err, reward.ErrQuizNotFound)
}
