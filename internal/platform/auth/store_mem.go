package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ---------------------------------------------------------------------------
// MemoryTokenStore
// ---------------------------------------------------------------------------

// MemoryTokenStore is a thread-safe in-memory TokenStore for standalone
// mode and tests. All mutations happen under a single mutex, which gives
// the atomic mark-used and rotation guarantees for free.
type MemoryTokenStore struct {
	mu     sync.Mutex
	codes  map[string]*AuthorizationCode
	tokens map[string]*TokenRecord
}

// NewMemoryTokenStore creates an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		codes:  make(map[string]*AuthorizationCode),
		tokens: make(map[string]*TokenRecord),
	}
}

func (s *MemoryTokenStore) SaveAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *code
	s.codes[code.Code] = &cp
	return nil
}

func (s *MemoryTokenStore) GetAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ac
	return &cp, nil
}

func (s *MemoryTokenStore) MarkCodeUsed(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.codes[code]
	if !ok {
		return ErrNotFound
	}
	if ac.Used {
		return ErrCodeAlreadyUsed
	}
	ac.Used = true
	return nil
}

func (s *MemoryTokenStore) SaveToken(_ context.Context, record *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.tokens[record.Token] = &cp
	return nil
}

func (s *MemoryTokenStore) GetToken(_ context.Context, token string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tr
	return &cp, nil
}

func (s *MemoryTokenStore) GetRefreshToken(_ context.Context, token string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.tokens[token]
	if !ok || tr.TokenType != TokenTypeRefresh {
		return nil, ErrNotFound
	}
	cp := *tr
	return &cp, nil
}

func (s *MemoryTokenStore) RevokeToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr, ok := s.tokens[token]; ok {
		tr.Revoked = true
	}
	return nil
}

func (s *MemoryTokenStore) RotateRefreshToken(_ context.Context, old string, fresh *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr, ok := s.tokens[old]; ok {
		tr.Revoked = true
	}
	cp := *fresh
	s.tokens[fresh.Token] = &cp
	return nil
}

// ---------------------------------------------------------------------------
// MemoryUserStore
// ---------------------------------------------------------------------------

// launchEntry pairs a launch context with its expiry.
type launchEntry struct {
	ctx       *LaunchContext
	expiresAt time.Time
}

// MemoryUserStore is a thread-safe in-memory UserStore. Launch tokens are
// one-time use with a TTL, mirroring the EHR-side launch token lifecycle.
type MemoryUserStore struct {
	mu        sync.RWMutex
	clients   map[string]*OAuthClient
	users     map[string]*OAuthUser
	passwords map[string]string // username -> bcrypt hash
	launches  map[string]launchEntry
	ttl       time.Duration
}

// NewMemoryUserStore creates an empty store with the given launch-token TTL.
func NewMemoryUserStore(launchTTL time.Duration) *MemoryUserStore {
	return &MemoryUserStore{
		clients:   make(map[string]*OAuthClient),
		users:     make(map[string]*OAuthUser),
		passwords: make(map[string]string),
		launches:  make(map[string]launchEntry),
		ttl:       launchTTL,
	}
}

// PutClient registers or replaces a client.
func (s *MemoryUserStore) PutClient(client *OAuthClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ClientID] = client
}

// PutUser registers or replaces a user.
func (s *MemoryUserStore) PutUser(user *OAuthUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// SetPassword stores a bcrypt hash for the user's password.
func (s *MemoryUserStore) SetPassword(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[username] = string(hash)
	return nil
}

// AuthenticateUser verifies a username/password pair. TOTP is not enforced
// in the in-memory store.
func (s *MemoryUserStore) AuthenticateUser(_ context.Context, username, password, _ string) (*OAuthUser, error) {
	s.mu.RLock()
	hash, ok := s.passwords[username]
	var found *OAuthUser
	if ok {
		for _, u := range s.users {
			if u.Username == username {
				found = u
				break
			}
		}
	}
	s.mu.RUnlock()

	if found == nil {
		return nil, ErrNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// CreateLaunchToken stores a launch context and returns the opaque token
// the EHR hands to the launching app.
func (s *MemoryUserStore) CreateLaunchToken(lc *LaunchContext) (string, error) {
	token, err := randomToken(24)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.launches[token] = launchEntry{ctx: lc, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return token, nil
}

func (s *MemoryUserStore) GetClient(_ context.Context, clientID string) (*OAuthClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *MemoryUserStore) GetUser(_ context.Context, userID string) (*OAuthUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *MemoryUserStore) ResolveLaunchContext(_ context.Context, launchToken string) (*LaunchContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.launches[launchToken]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.launches, launchToken) // one-time use
	if time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return entry.ctx, nil
}

// ---------------------------------------------------------------------------
// MemoryEmergencyAccessStore
// ---------------------------------------------------------------------------

// MemoryEmergencyAccessStore is a thread-safe in-memory EmergencyAccessStore.
type MemoryEmergencyAccessStore struct {
	mu     sync.RWMutex
	grants map[string]*EmergencyAccessGrant
}

// NewMemoryEmergencyAccessStore creates an empty store.
func NewMemoryEmergencyAccessStore() *MemoryEmergencyAccessStore {
	return &MemoryEmergencyAccessStore{grants: make(map[string]*EmergencyAccessGrant)}
}

func (s *MemoryEmergencyAccessStore) SaveGrant(_ context.Context, grant *EmergencyAccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *grant
	s.grants[grant.ID] = &cp
	return nil
}

func (s *MemoryEmergencyAccessStore) GetGrant(_ context.Context, grantID string) (*EmergencyAccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryEmergencyAccessStore) ListGrantsByUser(_ context.Context, userID string) ([]*EmergencyAccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*EmergencyAccessGrant
	for _, g := range s.grants {
		if g.UserID == userID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryEmergencyAccessStore) RevokeGrant(_ context.Context, grantID, revokedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	g.Revoked = true
	g.RevokedAt = &at
	g.RevokedBy = revokedBy
	return nil
}

// NewLaunchToken mints an opaque launch token.
func NewLaunchToken() (string, error) {
	return randomToken(24)
}

// randomToken returns n bytes of cryptographic randomness, URL-safe encoded.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
