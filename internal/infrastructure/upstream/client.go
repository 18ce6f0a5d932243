package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crm/backend/internal/domain/gateway"
)

// maxResponseSize is the maximum allowed response size from the upstream
// API (10MB)
const maxResponseSize = 10 * 1024 * 1024

const (
	// headerAuth is the bearer-style auth header
	headerAuth = "Authorization"
	// headerLegacyAuth is the legacy custom auth header; the upstream
	// requires both simultaneously
	headerLegacyAuth = "X-LASEC-AUTH"
	// noAuthToken is the sentinel sent when no fresh token exists. The
	// upstream expects the header present either way; some endpoints
	// tolerate the sentinel.
	noAuthToken = "Token null"

	// DefaultAuthAttempts bounds the re-authentication retry loop
	DefaultAuthAttempts = 3

	// sessionResetPath is the best-effort side call issued when the
	// upstream answers with an unexpected status
	sessionResetPath = "/api/session/reset"
)

// Config holds upstream client settings
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	AuthAttempts int
}

// Request describes one logical call against the upstream API. Parameters
// travel as a single `params` query value holding URL-encoded JSON; the body,
// when present, is JSON.
type Request struct {
	Method       string
	Path         string
	Params       map[string]any
	Body         any
	RequiresAuth bool
}

// Client issues HTTP requests against the upstream API, attaches auth
// headers from the session store, classifies responses, and drives the
// re-authentication retry loop.
//
// Failure surface: transport and JSON-decode problems come back as a soft
// failure Envelope with a nil error, so legacy call sites checking
// IsSuccess keep working. Everything else is a typed gateway error.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	sessions     gateway.SessionStore
	authAttempts int
	logger       *zap.Logger
}

// NewClient creates an upstream client bound to a session store
func NewClient(cfg Config, sessions gateway.SessionStore, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.AuthAttempts
	if attempts <= 0 {
		attempts = DefaultAuthAttempts
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		sessions:     sessions,
		authAttempts: attempts,
		logger:       logger,
	}
}

// Do performs the request. On 401/403 it invalidates the tenant's token,
// re-logs-in with the stored credentials, and re-issues the exact same
// request, bounded to the configured attempt budget. Attempts are strictly
// sequential; only the token changes between them.
func (c *Client) Do(ctx context.Context, sess gateway.SessionContext, req Request) (*Envelope, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	for attempt := 1; attempt <= c.authAttempts; attempt++ {
		env, retry, err := c.attempt(ctx, sess, req)
		if !retry {
			return env, err
		}

		c.logger.Debug("upstream rejected token, re-authenticating",
			zap.String("path", req.Path),
			zap.Int("attempt", attempt),
			zap.String("tenant_id", sess.TenantID.String()),
		)
		c.sessions.Invalidate(sess.TenantID)
		c.sessions.RefreshStored(ctx, sess.TenantID)
	}

	return nil, &gateway.AuthExpiredError{Path: req.Path, Attempts: c.authAttempts}
}

// attempt issues the request once. retry=true signals an auth rejection the
// caller may retry after refreshing the session.
func (c *Client) attempt(ctx context.Context, sess gateway.SessionContext, req Request) (env *Envelope, retry bool, err error) {
	httpReq, err := c.buildRequest(ctx, sess, req)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Transport failure: soft envelope, not an error, so callers
		// that only check status still get a predictable shape.
		c.logger.Warn("upstream transport failure",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return failedEnvelope(err.Error()), false, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return failedEnvelope(fmt.Sprintf("failed to read response: %v", err)), false, nil
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var envelope Envelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return failedEnvelope(fmt.Sprintf("failed to parse response: %v", err)), false, nil
		}
		return &envelope, false, nil

	case resp.StatusCode == http.StatusBadRequest:
		return nil, false, &gateway.BadRequestError{
			Method:  req.Method,
			Path:    req.Path,
			Message: envelopeMessage(body),
		}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, true, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, false, &gateway.NotFoundError{
			Method: req.Method,
			Path:   req.Path,
			Params: req.Params,
		}

	default:
		// Unexpected status: nudge the upstream into resetting the
		// session, best effort, and surface a typed error.
		go c.resetSession(sess)
		return nil, false, &gateway.UpstreamError{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: resp.StatusCode,
		}
	}
}

// buildRequest assembles the HTTP request: absolute URL, params query value,
// JSON body, and the dual auth header set.
func (c *Client) buildRequest(ctx context.Context, sess gateway.SessionContext, req Request) (*http.Request, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("upstream: failed to encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("upstream: failed to create request: %w", err)
	}

	if len(req.Params) > 0 {
		raw, err := json.Marshal(req.Params)
		if err != nil {
			return nil, fmt.Errorf("upstream: failed to encode request params: %w", err)
		}
		query := url.Values{}
		query.Set("params", string(raw))
		httpReq.URL.RawQuery = query.Encode()
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	authValue := noAuthToken
	if req.RequiresAuth {
		if token := c.sessions.Token(sess.TenantID); token != "" {
			authValue = "Token " + token
		}
	}
	httpReq.Header.Set(headerAuth, authValue)
	httpReq.Header.Set(headerLegacyAuth, authValue)

	return httpReq, nil
}

// resetSession fires the upstream session reset side call. Fire-and-forget:
// it runs on its own deadline and failures are only logged.
func (c *Client) resetSession(sess gateway.SessionContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, sess, Request{
		Method:       http.MethodPost,
		Path:         sessionResetPath,
		RequiresAuth: true,
	})
	if err != nil {
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("upstream session reset failed", zap.Error(err))
		return
	}
	_ = resp.Body.Close()
}

// envelopeMessage extracts the failure message from a response body, falling
// back to the raw text for non-envelope bodies.
func envelopeMessage(body []byte) string {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	return strings.TrimSpace(string(body))
}
