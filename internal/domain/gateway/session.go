package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenFreshness is how long a token obtained from the upstream is trusted
// before it must be treated as absent.
const TokenFreshness = time.Hour

// SessionContext identifies the logical user a gateway call acts for. It is
// passed explicitly into every gateway operation; there is no ambient
// process-wide current user.
type SessionContext struct {
	// TenantID is the partition key. Cached and synchronized data is never
	// shared across tenants.
	TenantID uuid.UUID
	// UserID identifies the acting user for timeline attribution.
	UserID string
}

// Credential holds the upstream login material and the token obtained from
// it. Owned exclusively by the session store.
type Credential struct {
	Username    string
	Password    string
	Token       string
	IssuedAt    time.Time
	LastLoginAt time.Time
}

// Fresh reports whether the token can still be trusted at the given time.
func (c *Credential) Fresh(now time.Time) bool {
	return c.Token != "" && now.Sub(c.LastLoginAt) < TokenFreshness
}

// SessionStore manages upstream credentials per tenant.
type SessionStore interface {
	// Token returns the cached token for the tenant, or "" if none is
	// stored or the stored one is stale.
	Token(tenantID uuid.UUID) string

	// Refresh performs an upstream login and stores the resulting token.
	// A failed login is logged and returns "" without error so callers
	// that merely wanted an opportunistic refresh can proceed; any
	// existing token is left in place.
	Refresh(ctx context.Context, tenantID uuid.UUID, username, password string) string

	// RefreshStored re-logs-in with the credentials already stored for
	// the tenant. Used by the re-authentication retry loop.
	RefreshStored(ctx context.Context, tenantID uuid.UUID) string

	// Invalidate clears the stored token but keeps username/password so a
	// later refresh can run without user interaction.
	Invalidate(tenantID uuid.UUID)
}

// Authenticator performs the actual upstream login call.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (token string, err error)
}
