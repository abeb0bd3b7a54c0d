package service

import (
	"fmt"
	"testing"
	"time"

	"pulsebase-backend/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pgErrDenied = pgconn.PgError{Code: "42501", Message: "new row violates row-level security policy"}
	pgErrOther  = pgconn.PgError{Code: "23505", Message: "duplicate key value"}
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewAuthService("test-secret")

	token, err := svc.IssueToken(model.Principal{ID: "u1", Role: model.RoleAuthenticated}, time.Minute)
	require.NoError(t, err)

	p, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, model.RoleAuthenticated, p.Role)
}

func TestServiceTokenWithoutSubject(t *testing.T) {
	svc := NewAuthService("test-secret")

	token, err := svc.IssueToken(model.System(), time.Minute)
	require.NoError(t, err)

	p, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Empty(t, p.ID)
	assert.Equal(t, model.RoleService, p.Role)
	assert.Equal(t, model.SenderSystem, p.SenderType())
}

func TestIssueTokenRejectsUnknownRole(t *testing.T) {
	svc := NewAuthService("test-secret")

	_, err := svc.IssueToken(model.Principal{ID: "u1", Role: "superuser"}, time.Minute)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestValidateTokenRejections(t *testing.T) {
	svc := NewAuthService("test-secret")
	other := NewAuthService("other-secret")

	good, err := svc.IssueToken(model.Principal{ID: "u1", Role: model.RoleAuthenticated}, time.Minute)
	require.NoError(t, err)

	expired, err := svc.IssueToken(model.Principal{ID: "u1", Role: model.RoleAuthenticated}, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", mustIssue(t, other, model.Principal{ID: "u1", Role: model.RoleAuthenticated})},
		{"expired", expired},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	// Sanity: the good token still validates.
	_, err = svc.ValidateToken(good)
	assert.NoError(t, err)
}

func mustIssue(t *testing.T, svc *AuthService, p model.Principal) string {
	t.Helper()
	token, err := svc.IssueToken(p, time.Minute)
	require.NoError(t, err)
	return token
}

func TestIsDenied(t *testing.T) {
	assert.True(t, IsDenied(&pgErrDenied))
	assert.True(t, IsDenied(fmt.Errorf("insert message: %w", &pgErrDenied)))
	assert.False(t, IsDenied(&pgErrOther))
	assert.False(t, IsDenied(fmt.Errorf("plain failure")))
	assert.False(t, IsDenied(nil))
}
