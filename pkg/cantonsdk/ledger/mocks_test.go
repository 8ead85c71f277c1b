package ledger

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MockAuthenticator is a mock implementation of Authenticator
type MockAuthenticator struct {
	AuthenticateFunc func(ctx context.Context) (*Credential, error)
	RefreshFunc      func(ctx context.Context, cred *Credential) (*Credential, error)

	logins    atomic.Int32
	refreshes atomic.Int32
}

func (m *MockAuthenticator) Authenticate(ctx context.Context) (*Credential, error) {
	m.logins.Add(1)
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx)
	}
	return nil, nil
}

func (m *MockAuthenticator) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	m.refreshes.Add(1)
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, cred)
	}
	return nil, nil
}

// MockAuthProvider is a mock implementation of AuthProvider
type MockAuthProvider struct {
	TokenFunc func(ctx context.Context) (string, time.Time, error)

	invalidated atomic.Int32
}

func (m *MockAuthProvider) Token(ctx context.Context) (string, time.Time, error) {
	if m.TokenFunc != nil {
		return m.TokenFunc(ctx)
	}
	return "", time.Time{}, nil
}

func (m *MockAuthProvider) Invalidate() {
	m.invalidated.Add(1)
}

var testSigningKey = []byte("test-key")

func signedToken(sub string) string {
	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	if sub != "" {
		claims["sub"] = sub
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		panic(err)
	}
	return tok
}

func staticProvider(token string) *MockAuthProvider {
	return &MockAuthProvider{
		TokenFunc: func(context.Context) (string, time.Time, error) {
			return token, time.Now().Add(time.Hour), nil
		},
	}
}
