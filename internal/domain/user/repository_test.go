package user_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftzone/craftzone-api/internal/domain/user"
	"github.com/craftzone/craftzone-api/internal/pkg/testdb"
	"github.com/craftzone/craftzone-api/internal/pkg/validator"
)

func newUser(t *testing.T) *user.User {
	code, err := user.NewReferralCode()
	require.NoError(t, err)
	id := uuid.New()
	return &user.User{
		ID:           id,
		Email:        "Player_" + id.String()[:8] + "@Example.com",
		Username:     "player_" + id.String()[:8],
		PasswordHash: "hash",
		Role:         user.RoleUser,
		ReferralCode: code,
	}
}

func TestCreateAndLookup(t *testing.T) {
	db := testdb.Open(t)
	repo := user.NewRepository(db)
	ctx := context.Background()

	u := newUser(t)
	require.NoError(t, repo.Create(ctx, u))
	t.Cleanup(func() { db.Exec(`DELETE FROM users WHERE id = $1`, u.ID) })

	assert.Equal(t, int64(0), u.CoinBalance)
	assert.False(t, u.CreatedAt.IsZero())

	byEmail, err := repo.GetByEmail(ctx, " "+u.Email+" ")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, u.ID, byEmail.ID)

	byCode, err := repo.GetByReferralCode(ctx, u.ReferralCode)
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, u.ID, byCode.ID)

	missing, err := repo.GetByReferralCode(ctx, "NOPE0000")
	require.NoError(t, err)
	assert.Nil(t, missing)

	dup := newUser(t)
	dup.Email = u.Email
	assert.ErrorIs(t, repo.Create(ctx, dup), user.ErrEmailAlreadyExists)

	email, name, err := repo.ContactInfo(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Username, name)
	assert.Equal(t, byEmail.Email, email)
}

func TestNewReferralCodeIsValid(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := user.NewReferralCode()
		require.NoError(t, err)
		assert.NoError(t, validator.ValidateVar(code, "referral_code"))
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}
