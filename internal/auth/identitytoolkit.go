package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	identityToolkitEndpoint = "https://identitytoolkit.googleapis.com/v1"
	secureTokenEndpoint     = "https://securetoken.googleapis.com/v1"
)

// IdentityToolkit is the production Provider: the REST surface of the
// Firebase Authentication service used by client applications (the admin
// SDK has no password sign-in).
type IdentityToolkit struct {
	apiKey    string
	endpoint  string
	tokenBase string
	client    *http.Client
}

var _ Provider = (*IdentityToolkit)(nil)

// NewIdentityToolkit creates a provider for the given web API key.
func NewIdentityToolkit(apiKey string) *IdentityToolkit {
	return &IdentityToolkit{
		apiKey:    apiKey,
		endpoint:  identityToolkitEndpoint,
		tokenBase: secureTokenEndpoint,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type accountPayload struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

func (p accountPayload) account() *Account {
	return &Account{
		UID:          p.LocalID,
		Email:        p.Email,
		DisplayName:  p.DisplayName,
		PhotoURL:     p.PhotoURL,
		IDToken:      p.IDToken,
		RefreshToken: p.RefreshToken,
	}
}

// SignIn implements Provider.
func (p *IdentityToolkit) SignIn(ctx context.Context, email, password string) (*Account, error) {
	var out accountPayload
	err := p.post(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.account(), nil
}

// SignUp implements Provider.
func (p *IdentityToolkit) SignUp(ctx context.Context, email, password string) (*Account, error) {
	var out accountPayload
	err := p.post(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.account(), nil
}

// Lookup implements Provider.
func (p *IdentityToolkit) Lookup(ctx context.Context, idToken string) (*Account, error) {
	var out struct {
		Users []accountPayload `json:"users"`
	}
	err := p.post(ctx, "accounts:lookup", map[string]any{"idToken": idToken}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Users) == 0 {
		return nil, ErrUnauthenticated
	}
	acct := out.Users[0].account()
	// lookup does not mint tokens; keep using the presented one.
	acct.IDToken = idToken
	return acct, nil
}

// Refresh implements Provider.
func (p *IdentityToolkit) Refresh(ctx context.Context, refreshToken string) (*Account, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/token?key=%s", p.tokenBase, p.apiKey),
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("auth: refresh: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: refresh: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var out struct {
		UserID       string `json:"user_id"`
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("auth: refresh: decode: %w", err)
	}
	// The token exchange returns no profile; follow up with a lookup.
	acct, err := p.Lookup(ctx, out.IDToken)
	if err != nil {
		return nil, err
	}
	acct.RefreshToken = out.RefreshToken
	return acct, nil
}

// Update implements Provider.
func (p *IdentityToolkit) Update(ctx context.Context, idToken string, attrs Attributes) (*Account, error) {
	body := map[string]any{
		"idToken":           idToken,
		"returnSecureToken": true,
	}
	if attrs.DisplayName != nil {
		body["displayName"] = *attrs.DisplayName
	}
	if attrs.PhotoURL != nil {
		body["photoUrl"] = *attrs.PhotoURL
	}
	if attrs.Email != nil {
		body["email"] = *attrs.Email
	}

	var out accountPayload
	if err := p.post(ctx, "accounts:update", body, &out); err != nil {
		return nil, err
	}
	acct := out.account()
	if acct.IDToken == "" {
		acct.IDToken = idToken
	}
	return acct, nil
}

func (p *IdentityToolkit) post(ctx context.Context, action string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("auth: %s: encode: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s?key=%s", p.endpoint, action, p.apiKey),
		bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("auth: %s: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: %s: %w", action, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("auth: %s: decode: %w", action, err)
	}
	return nil
}

// decodeError maps the service's error codes onto the package sentinels and
// keeps the provider's message verbatim otherwise.
func decodeError(resp *http.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Error.Message
	code, _, _ := strings.Cut(msg, " ")

	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED":
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
	case "EMAIL_EXISTS":
		return fmt.Errorf("%w: %s", ErrEmailInUse, msg)
	case "INVALID_ID_TOKEN", "TOKEN_EXPIRED", "INVALID_REFRESH_TOKEN", "USER_NOT_FOUND":
		return fmt.Errorf("%w: %s", ErrUnauthenticated, msg)
	}
	if msg == "" {
		return fmt.Errorf("auth: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("auth: %s", msg)
}
