package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	jwt "github.com/dgrijalva/jwt-go"

	"learnbridge/pkg/interfaces"
	"learnbridge/pkg/types"
)

const testSecret = "test-secret"

type mockUsers struct {
	users map[string]*types.User
	err   error
}

func (m *mockUsers) GetUser(ctx context.Context, id string) (*types.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, interfaces.ErrUserNotFound
}

func signToken(t *testing.T, secret, userID string, expiresIn time.Duration) string {
	t.Helper()
	claims := Claims{
		ID: userID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(expiresIn).Unix(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newResolver() *JWTResolver {
	return NewJWTResolver(testSecret, &mockUsers{users: map[string]*types.User{
		"u1": {ID: "u1", Name: "Ada", Role: types.RoleStudent},
		"u2": {ID: "u2", Name: "Old", Role: types.RoleTutor, IsDeleted: true},
	}})
}

func TestJWTResolver_Resolve(t *testing.T) {
	principal, err := newResolver().Resolve(context.Background(), signToken(t, testSecret, "u1", time.Hour))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if principal.ID != "u1" || principal.DisplayName != "Ada" || principal.Role != types.RoleStudent {
		t.Errorf("principal = %+v", principal)
	}
}

func TestJWTResolver_Refusals(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrMissingToken},
		{"whitespace", "   ", ErrMissingToken},
		{"garbage", "not.a.jwt", ErrInvalidToken},
		{"wrong secret", signToken(t, "other-secret", "u1", time.Hour), ErrInvalidToken},
		{"expired", signToken(t, testSecret, "u1", -time.Minute), ErrInvalidToken},
		{"missing id", signToken(t, testSecret, "", time.Hour), ErrInvalidToken},
		{"unknown user", signToken(t, testSecret, "ghost", time.Hour), ErrUserNotFound},
		{"deleted user", signToken(t, testSecret, "u2", time.Hour), ErrUserNotFound},
	}

	resolver := newResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.Resolve(context.Background(), tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.wantErr)
			}
			if !IsRefusal(err) {
				t.Errorf("IsRefusal(%v) = false", err)
			}
		})
	}
}

func TestJWTResolver_RejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newResolver().Resolve(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("none algorithm accepted: %v", err)
	}
}

func TestJWTResolver_DirectoryFailure(t *testing.T) {
	backendErr := errors.New("database down")
	resolver := NewJWTResolver(testSecret, &mockUsers{err: backendErr})

	_, err := resolver.Resolve(context.Background(), signToken(t, testSecret, "u1", time.Hour))
	if !errors.Is(err, backendErr) {
		t.Errorf("Resolve() error = %v, want wrapped backend error", err)
	}
	if IsRefusal(err) {
		t.Error("infrastructure failure should not count as refusal")
	}
}

func TestTokenFromHeader(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer  xyz": "xyz",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
	}
	for header, want := range tests {
		if got := TokenFromHeader(header); got != want {
			t.Errorf("TokenFromHeader(%q) = %q, want %q", header, got, want)
		}
	}
}
