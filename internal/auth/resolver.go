// Package auth resolves bearer credentials into principals.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jwt "github.com/dgrijalva/jwt-go"

	"learnbridge/pkg/interfaces"
	"learnbridge/pkg/types"
)

// Claims carried by marketplace access tokens
type Claims struct {
	ID string `json:"id"`
	jwt.StandardClaims
}

// JWTResolver verifies HS256 tokens and loads the user they name
type JWTResolver struct {
	secret []byte
	users  interfaces.UserDirectory
}

// NewJWTResolver creates a resolver checking signatures against secret
func NewJWTResolver(secret string, users interfaces.UserDirectory) *JWTResolver {
	return &JWTResolver{
		secret: []byte(secret),
		users:  users,
	}
}

// Resolve returns the principal for token. Deleted users are refused like
// unknown ones.
func (r *JWTResolver) Resolve(ctx context.Context, token string) (*types.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing id claim", ErrInvalidToken)
	}

	user, err := r.users.GetUser(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.IsDeleted {
		return nil, ErrUserNotFound
	}

	return &types.Principal{
		ID:          user.ID,
		DisplayName: user.Name,
		Role:        user.Role,
	}, nil
}

// TokenFromHeader extracts the credential from an "Authorization: Bearer" value
func TokenFromHeader(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// IsRefusal reports whether err is a handshake refusal rather than an
// infrastructure failure
func IsRefusal(err error) bool {
	return errors.Is(err, ErrMissingToken) || errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrUserNotFound)
}
