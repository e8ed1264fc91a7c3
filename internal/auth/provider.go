// Package auth wraps the external identity provider and the local caches of
// the authenticated session: it exposes the current identity, the
// login/register/logout operations, and keeps the persisted identity copy
// and the denormalized users/{uid} profile record in sync.
package auth

import (
	"context"
	"errors"
)

// Sentinel errors surfaced to callers so the UI can react.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrEmailInUse         = errors.New("auth: email already in use")
	ErrUnauthenticated    = errors.New("auth: not authenticated")
)

// Account is the provider's view of an authenticated user, including the
// session tokens needed for later reconciliation.
type Account struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName,omitempty"`
	PhotoURL     string `json:"photoURL,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Attributes carries optional profile mutations; nil fields are untouched.
type Attributes struct {
	DisplayName *string
	PhotoURL    *string
	Email       *string
}

// Provider validates credentials and issues identities. Implementations
// live behind this interface so the session manager can be exercised
// without the hosted service.
type Provider interface {
	// SignIn exchanges email/password for a session.
	SignIn(ctx context.Context, email, password string) (*Account, error)

	// SignUp registers a new user and signs them in.
	SignUp(ctx context.Context, email, password string) (*Account, error)

	// Lookup resolves the live session behind an ID token. Fails when the
	// token is no longer valid.
	Lookup(ctx context.Context, idToken string) (*Account, error)

	// Refresh exchanges a refresh token for a fresh session.
	Refresh(ctx context.Context, refreshToken string) (*Account, error)

	// Update applies profile attribute changes to the live session.
	Update(ctx context.Context, idToken string, attrs Attributes) (*Account, error)
}
