package auth

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/matheus3301/tchat/internal/bus"
	"github.com/matheus3301/tchat/internal/prefs"
	"github.com/matheus3301/tchat/internal/realtime"
	"github.com/matheus3301/tchat/internal/status"
	"go.uber.org/zap"
)

// Identity is the authenticated user's stable profile record. The provider
// is the sole source of truth; the in-memory and persisted copies are
// mirrors invalidated on logout.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// Profile is the denormalized user record mirrored to users/{uid} so other
// clients can resolve recipients by email and compute presence.
type Profile struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	LastActive  string `json:"lastActive,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// UserPath returns the profile record path for an identity id.
func UserPath(uid string) string {
	return "users/" + uid
}

// Manager is the auth session manager: it wraps the identity provider and
// the local preference store, exposes the current identity and keeps every
// mirror of it consistent across login, logout and restarts.
type Manager struct {
	provider Provider
	prefs    *prefs.DB
	rt       realtime.Store
	bus      *bus.Bus
	machine  *status.Machine
	logger   *zap.Logger

	mu      sync.RWMutex
	current *Identity
	session *Account
	// pubUID is the identity id announced by the last auth.signed_in, used
	// to publish exactly one event per transition.
	pubUID string
}

// NewManager creates a session manager. All dependencies are required.
func NewManager(provider Provider, db *prefs.DB, rt realtime.Store, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Manager {
	return &Manager{
		provider: provider,
		prefs:    db,
		rt:       rt,
		bus:      b,
		machine:  machine,
		logger:   logger,
	}
}

// Current returns a copy of the current identity, or nil when signed out.
func (m *Manager) Current() *Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	ident := *m.current
	return &ident
}

// Initialized reports whether the initial auth state check has completed.
func (m *Manager) Initialized() bool {
	return m.machine.Initialized()
}

// Login exchanges credentials for an identity. Provider failures are
// returned verbatim so the caller can surface them.
func (m *Manager) Login(ctx context.Context, email, password string) (*Identity, error) {
	acct, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		m.logger.Warn("login failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	return m.adopt(ctx, acct), nil
}

// Register creates a new account and signs it in.
func (m *Manager) Register(ctx context.Context, email, password string) (*Identity, error) {
	acct, err := m.provider.SignUp(ctx, email, password)
	if err != nil {
		m.logger.Warn("registration failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	return m.adopt(ctx, acct), nil
}

// Logout clears the in-memory session and the persisted identity. It is
// idempotent when already signed out.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	ident := m.current
	m.current = nil
	m.session = nil
	wasSignedIn := m.pubUID != ""
	m.pubUID = ""
	m.mu.Unlock()

	if ident == nil {
		return nil
	}

	// Final lastActive stamp so the counterpart's online flag decays from a
	// fresh timestamp. Best-effort.
	if err := m.rt.Set(ctx, UserPath(ident.UID)+"/lastActive", now()); err != nil {
		m.logger.Warn("lastActive write failed on logout", zap.Error(err))
	}

	if err := m.prefs.Delete(prefs.KeyUser); err != nil {
		m.logger.Warn("clearing persisted identity failed", zap.Error(err))
	}
	if err := m.prefs.Delete(prefs.KeySession); err != nil {
		m.logger.Warn("clearing persisted session failed", zap.Error(err))
	}

	if err := m.machine.Transition(status.SignedOut); err != nil {
		m.logger.Warn("status transition failed", zap.Error(err))
	}
	if wasSignedIn {
		m.bus.Publish(bus.Event{Kind: "auth.signed_out", Timestamp: time.Now(), Payload: ident.UID})
	}
	return nil
}

// CheckAuthState restores the persisted identity as an optimistic
// placeholder, then reconciles it against the live provider session. The
// live session always wins; afterwards the manager is initialized.
func (m *Manager) CheckAuthState(ctx context.Context) {
	if err := m.machine.Transition(status.Restoring); err != nil {
		m.logger.Warn("status transition failed", zap.Error(err))
	}

	if blob, err := m.prefs.Get(prefs.KeyUser); err == nil && blob != nil {
		var ident Identity
		if err := json.Unmarshal(blob, &ident); err == nil {
			m.mu.Lock()
			m.current = &ident
			m.mu.Unlock()
		}
	}

	sess := m.loadSession()
	if sess == nil {
		m.signOutLocal("no persisted session")
		return
	}

	acct, err := m.provider.Lookup(ctx, sess.IDToken)
	if err != nil {
		m.logger.Info("cached token rejected, refreshing", zap.Error(err))
		acct, err = m.provider.Refresh(ctx, sess.RefreshToken)
	}
	if err != nil {
		m.signOutLocal("session no longer valid")
		return
	}
	m.adopt(ctx, acct)
}

// UpdateProfile changes the display name and/or avatar of the signed-in
// user and propagates the change to every mirror.
func (m *Manager) UpdateProfile(ctx context.Context, displayName, photoURL string) (*Identity, error) {
	sess := m.currentSession()
	if sess == nil {
		return nil, ErrUnauthenticated
	}
	attrs := Attributes{}
	if displayName != "" {
		attrs.DisplayName = &displayName
	}
	if photoURL != "" {
		attrs.PhotoURL = &photoURL
	}
	acct, err := m.provider.Update(ctx, sess.IDToken, attrs)
	if err != nil {
		return nil, err
	}
	if acct.RefreshToken == "" {
		acct.RefreshToken = sess.RefreshToken
	}
	return m.adopt(ctx, acct), nil
}

// UpdateEmail changes the signed-in user's email address.
func (m *Manager) UpdateEmail(ctx context.Context, newEmail string) (*Identity, error) {
	sess := m.currentSession()
	if sess == nil {
		return nil, ErrUnauthenticated
	}
	acct, err := m.provider.Update(ctx, sess.IDToken, Attributes{Email: &newEmail})
	if err != nil {
		return nil, err
	}
	if acct.RefreshToken == "" {
		acct.RefreshToken = sess.RefreshToken
	}
	return m.adopt(ctx, acct), nil
}

// Touch refreshes the lastActive stamp of the signed-in user. Best-effort.
func (m *Manager) Touch(ctx context.Context) {
	ident := m.Current()
	if ident == nil {
		return
	}
	if err := m.rt.Set(ctx, UserPath(ident.UID)+"/lastActive", now()); err != nil {
		m.logger.Warn("lastActive write failed", zap.Error(err))
	}
}

// adopt installs a live provider session: in-memory identity, persisted
// copies, the users/{uid} mirror, the state machine and the bus all move in
// one step.
func (m *Manager) adopt(ctx context.Context, acct *Account) *Identity {
	ident := Identity{
		UID:         acct.UID,
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
		PhotoURL:    acct.PhotoURL,
	}

	m.mu.Lock()
	m.current = &ident
	m.session = acct
	announce := m.pubUID != acct.UID
	m.pubUID = acct.UID
	m.mu.Unlock()

	m.persist(&ident, acct)
	m.mirrorProfile(ctx, &ident)

	if m.machine.Current() == status.Booting {
		// Explicit login before CheckAuthState resolves the boot sequence.
		_ = m.machine.Transition(status.SignedOut)
	}
	if err := m.machine.Transition(status.SignedIn); err != nil {
		m.logger.Warn("status transition failed", zap.Error(err))
	}
	if announce {
		copyIdent := ident
		m.bus.Publish(bus.Event{Kind: "auth.signed_in", Timestamp: time.Now(), Payload: &copyIdent})
	}
	return &ident
}

// persist mirrors the identity and session tokens into the preference
// store. Failures are logged; a broken cache must not abort the auth flow.
func (m *Manager) persist(ident *Identity, acct *Account) {
	if blob, err := json.Marshal(ident); err == nil {
		if err := m.prefs.Set(prefs.KeyUser, blob); err != nil {
			m.logger.Warn("persisting identity failed", zap.Error(err))
		}
	}
	if blob, err := json.Marshal(acct); err == nil {
		if err := m.prefs.Set(prefs.KeySession, blob); err != nil {
			m.logger.Warn("persisting session failed", zap.Error(err))
		}
	}
}

// mirrorProfile upserts the denormalized users/{uid} record. createdAt is
// written once; existing profile fields survive when the provider has none.
// Failures are logged and swallowed.
func (m *Manager) mirrorProfile(ctx context.Context, ident *Identity) {
	var existing Profile
	if err := m.rt.Get(ctx, UserPath(ident.UID), &existing); err != nil {
		m.logger.Warn("profile read failed", zap.String("uid", ident.UID), zap.Error(err))
	}

	updated := Profile{
		Email:       ident.Email,
		DisplayName: ident.DisplayName,
		PhotoURL:    ident.PhotoURL,
		LastActive:  now(),
		CreatedAt:   existing.CreatedAt,
	}
	if updated.DisplayName == "" {
		updated.DisplayName = existing.DisplayName
	}
	if updated.PhotoURL == "" {
		updated.PhotoURL = existing.PhotoURL
	}
	if updated.CreatedAt == "" {
		updated.CreatedAt = now()
	}

	if err := m.rt.Set(ctx, UserPath(ident.UID), updated); err != nil {
		m.logger.Warn("profile mirror failed", zap.String("uid", ident.UID), zap.Error(err))
	}
}

func (m *Manager) signOutLocal(reason string) {
	m.mu.Lock()
	hadIdentity := m.current != nil
	m.current = nil
	m.session = nil
	wasSignedIn := m.pubUID != ""
	m.pubUID = ""
	m.mu.Unlock()

	if hadIdentity {
		if err := m.prefs.Delete(prefs.KeyUser); err != nil {
			m.logger.Warn("clearing persisted identity failed", zap.Error(err))
		}
	}
	m.logger.Info("signed out", zap.String("reason", reason))

	if err := m.machine.Transition(status.SignedOut); err != nil {
		m.logger.Warn("status transition failed", zap.Error(err))
	}
	if wasSignedIn {
		m.bus.Publish(bus.Event{Kind: "auth.signed_out", Timestamp: time.Now()})
	}
}

func (m *Manager) loadSession() *Account {
	blob, err := m.prefs.Get(prefs.KeySession)
	if err != nil || blob == nil {
		return nil
	}
	var acct Account
	if err := json.Unmarshal(blob, &acct); err != nil {
		return nil
	}
	if acct.IDToken == "" && acct.RefreshToken == "" {
		return nil
	}
	return &acct
}

func (m *Manager) currentSession() *Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	sess := *m.session
	return &sess
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
