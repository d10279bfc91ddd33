package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/campuskit/attendance-api/internal/models"
)

type authUsersStub struct {
	users map[string]*models.User
}

func (s *authUsersStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *authUsersStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

type blocklistStub struct {
	revoked map[string]bool
}

func (s *blocklistStub) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if s.revoked == nil {
		s.revoked = make(map[string]bool)
	}
	s.revoked[jti] = true
	return nil
}

func (s *blocklistStub) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return s.revoked[jti], nil
}

func newAuthFixture(t *testing.T) (*AuthService, *blocklistStub) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	users := &authUsersStub{users: map[string]*models.User{
		"u1": {
			ID:           "u1",
			Email:        "ada@example.edu",
			PasswordHash: string(hash),
			FullName:     "Ada Lovelace",
			Role:         models.RoleStudent,
			Active:       true,
		},
	}}
	blocklist := &blocklistStub{}
	svc := NewAuthService(users, blocklist, nil, nil, AuthConfig{
		Secret:             "test-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "attendance-test",
	})
	return svc, blocklist
}

func TestLoginIssuesTokens(t *testing.T) {
	svc, _ := newAuthFixture(t)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.edu", Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "u1", res.User.ID)
	assert.Equal(t, int64(3600), res.ExpiresIn)

	claims, err := svc.ValidateToken(context.Background(), res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.edu", Password: "wrong"})
	assertCode(t, err, "INVALID_CREDENTIALS")
}

func TestLoginUnknownEmail(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@example.edu", Password: "s3cret"})
	assertCode(t, err, "INVALID_CREDENTIALS")
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, _ := newAuthFixture(t)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.edu", Password: "s3cret"})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: res.AccessToken})
	assertCode(t, err, "UNAUTHORIZED")

	refreshed, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: res.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, blocklist := newAuthFixture(t)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.edu", Password: "s3cret"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), res.AccessToken))
	assert.Len(t, blocklist.revoked, 1)

	_, err = svc.ValidateToken(context.Background(), res.AccessToken)
	assertCode(t, err, "UNAUTHORIZED")
}

func TestValidateTokenBadSignature(t *testing.T) {
	svc, _ := newAuthFixture(t)

	other := NewAuthService(&authUsersStub{}, &blocklistStub{}, nil, nil, AuthConfig{
		Secret:            "other-secret",
		AccessTokenExpiry: time.Hour,
	})
	user := &models.User{ID: "u1", Email: "ada@example.edu", Role: models.RoleStudent}
	token, err := other.signToken(user, tokenTypeAccess, time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken(context.Background(), token)
	assertCode(t, err, "UNAUTHORIZED")
}
