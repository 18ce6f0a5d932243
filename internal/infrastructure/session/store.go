package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crm/backend/internal/domain/gateway"
)

// Store is an in-memory per-tenant credential store. It owns the upstream
// Credential for the lifetime of the process.
//
// Two concurrent callers can both observe a missing token and both trigger a
// refresh; this is tolerated (last write wins) rather than serialized,
// because upstream login is idempotent.
type Store struct {
	mu     sync.RWMutex
	creds  map[uuid.UUID]*gateway.Credential
	auth   gateway.Authenticator
	logger *zap.Logger

	// Service account used for tenants with no registered credentials.
	serviceUsername string
	servicePassword string

	// now is replaceable in tests
	now func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithServiceAccount sets the fallback login used for tenants that have no
// credentials of their own. Without it, such tenants stay unauthenticated.
func WithServiceAccount(username, password string) Option {
	return func(s *Store) {
		s.serviceUsername = username
		s.servicePassword = password
	}
}

// NewStore creates a session store backed by the given authenticator
func NewStore(auth gateway.Authenticator, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		creds:  make(map[uuid.UUID]*gateway.Credential),
		auth:   auth,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register seeds login credentials for a tenant without logging in. The
// first request needing auth will trigger the login.
func (s *Store) Register(tenantID uuid.UUID, username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.creds[tenantID]; ok {
		c.Username = username
		c.Password = password
		return
	}
	s.creds[tenantID] = &gateway.Credential{Username: username, Password: password}
}

// Token returns the cached token for the tenant. A token past its freshness
// window is treated as absent.
func (s *Store) Token(tenantID uuid.UUID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.creds[tenantID]; ok && c.Fresh(s.now()) {
		return c.Token
	}
	return ""
}

// Refresh performs an upstream login and stores the resulting token. On
// failure it logs and returns "" without error, leaving any existing
// (possibly stale) token in place so unauthenticated calls can proceed.
func (s *Store) Refresh(ctx context.Context, tenantID uuid.UUID, username, password string) string {
	token, err := s.auth.Login(ctx, username, password)
	if err != nil {
		s.logger.Warn("upstream login failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("username", username),
			zap.Error(err),
		)
		return ""
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[tenantID] = &gateway.Credential{
		Username:    username,
		Password:    password,
		Token:       token,
		IssuedAt:    now,
		LastLoginAt: now,
	}
	return token
}

// RefreshStored re-logs-in with the credentials already stored for the
// tenant, falling back to the service account for tenants without any.
// Returns "" when neither exists or the login fails.
func (s *Store) RefreshStored(ctx context.Context, tenantID uuid.UUID) string {
	s.mu.RLock()
	c, ok := s.creds[tenantID]
	var username, password string
	if ok {
		username, password = c.Username, c.Password
	}
	s.mu.RUnlock()

	if username == "" {
		username, password = s.serviceUsername, s.servicePassword
	}
	if username == "" {
		s.logger.Debug("no stored credentials to refresh",
			zap.String("tenant_id", tenantID.String()))
		return ""
	}
	return s.Refresh(ctx, tenantID, username, password)
}

// Invalidate clears the stored token but keeps username/password so a later
// refresh can run without user interaction.
func (s *Store) Invalidate(tenantID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.creds[tenantID]; ok {
		c.Token = ""
		c.IssuedAt = time.Time{}
		c.LastLoginAt = time.Time{}
	}
}

// Ensure Store implements gateway.SessionStore
var _ gateway.SessionStore = (*Store)(nil)
