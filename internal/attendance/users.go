package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"industrialvisit/internal/auth"
)

// Credentials is a username/password pair.
type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// RegisterUser creates an account with the given role.
func (s *Service) RegisterUser(ctx context.Context, c Credentials, role string) (User, error) {
	c.Username = strings.ToLower(strings.TrimSpace(c.Username))
	if err := s.validate.Struct(c); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if role != RoleStudent && role != RoleAdmin {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	hash, err := auth.HashPassword(c.Password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, User{
		ID:           uuid.NewString(),
		Username:     c.Username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	})
}

// Authenticate verifies a username and password.
func (s *Service) Authenticate(ctx context.Context, c Credentials) (User, error) {
	u, err := s.store.UserByUsername(ctx, strings.ToLower(strings.TrimSpace(c.Username)))
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, c.Password) {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// EnsureAdmin creates the admin account if it does not exist yet.
func (s *Service) EnsureAdmin(ctx context.Context, c Credentials) error {
	_, err := s.RegisterUser(ctx, c, RoleAdmin)
	if errors.Is(err, ErrUserExists) {
		return nil
	}
	return err
}

// SaveRefreshToken records an issued refresh token.
func (s *Service) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return s.store.SaveRefreshToken(ctx, userID, token, expiresAt)
}

// RedeemRefreshToken revokes token and returns the user it was issued to.
// Each refresh token can be exchanged once.
func (s *Service) RedeemRefreshToken(ctx context.Context, token string) (string, error) {
	return s.store.ConsumeRefreshToken(ctx, token, s.now().UTC())
}
