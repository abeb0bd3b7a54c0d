package service

import (
	"errors"
	"fmt"
	"time"

	"pulsebase-backend/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

const defaultTokenDuration = 15 * time.Minute

// AuthService mints and validates the HS256 access tokens that carry a
// principal. Full identity management (registration, sessions) lives in
// the identity service; this engine only needs to recognize its tokens.
type AuthService struct {
	secret []byte
}

func NewAuthService(jwtSecret string) *AuthService {
	return &AuthService{secret: []byte(jwtSecret)}
}

// IssueToken mints a token for the given principal. Zero ttl means the
// default duration.
func (s *AuthService) IssueToken(p model.Principal, ttl time.Duration) (string, error) {
	if !model.KnownRole(p.Role) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, p.Role)
	}
	if ttl == 0 {
		ttl = defaultTokenDuration
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  p.ID,
		"role": p.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

// ValidateToken parses a bearer token into a principal. A token without a
// role claim defaults to authenticated; an unknown role is rejected.
func (s *AuthService) ValidateToken(tokenString string) (model.Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return model.Principal{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return model.Principal{}, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if role == "" {
		role = model.RoleAuthenticated
	}
	if !model.KnownRole(role) {
		return model.Principal{}, ErrInvalidToken
	}
	if role == model.RoleAuthenticated && sub == "" {
		return model.Principal{}, ErrInvalidToken
	}

	return model.Principal{ID: sub, Role: role}, nil
}
