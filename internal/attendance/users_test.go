package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 0)
	creds := Credentials{Username: "Priya", Password: "s3cret-pass"}

	u, err := svc.RegisterUser(ctx, creds, RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, "priya", u.Username)
	assert.NotEqual(t, creds.Password, u.PasswordHash)

	_, err = svc.RegisterUser(ctx, creds, RoleStudent)
	assert.ErrorIs(t, err, ErrUserExists)

	got, err := svc.Authenticate(ctx, Credentials{Username: "PRIYA", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(ctx, Credentials{Username: "priya", Password: "wrong-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, Credentials{Username: "ghost", Password: "whatever1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.RegisterUser(ctx, Credentials{Username: "ab", Password: "short"}, RoleStudent)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.RegisterUser(ctx, Credentials{Username: "valid", Password: "longenough"}, "lecturer")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 0)
	creds := Credentials{Username: "admin", Password: "admin-password"}

	require.NoError(t, svc.EnsureAdmin(ctx, creds))
	require.NoError(t, svc.EnsureAdmin(ctx, creds))

	u, err := svc.Authenticate(ctx, creds)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryStore(), 0, WithClock(func() time.Time { return now }))

	require.NoError(t, svc.SaveRefreshToken(ctx, "user-1", "refresh-a", now.Add(time.Hour)))
	require.NoError(t, svc.SaveRefreshToken(ctx, "user-1", "refresh-b", now.Add(time.Hour)))

	userID, err := svc.RedeemRefreshToken(ctx, "refresh-a")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = svc.RedeemRefreshToken(ctx, "refresh-a")
	assert.ErrorIs(t, err, ErrInvalidRefresh, "reuse is rejected")
	_, err = svc.RedeemRefreshToken(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	now = now.Add(time.Hour)
	_, err = svc.RedeemRefreshToken(ctx, "refresh-b")
	assert.ErrorIs(t, err, ErrInvalidRefresh, "expired tokens are rejected")
}
