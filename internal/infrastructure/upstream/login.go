package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crm/backend/internal/domain/gateway"
)

// loginPath is the upstream authentication endpoint
const loginPath = "/api/authenticate"

// Authenticator performs upstream logins. It deliberately does not share the
// Client's retry machinery: a failed login is final for the caller that
// requested it.
type Authenticator struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAuthenticator creates an authenticator against the given upstream
func NewAuthenticator(baseURL string, timeout time.Duration, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Authenticator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// loginPayload is the payload of a successful authentication response
type loginPayload struct {
	Token string `json:"token"`
}

// Login exchanges credentials for an upstream token
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("upstream: failed to encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("upstream: failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstream: login call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("upstream: failed to read login response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upstream: login rejected with status %d", resp.StatusCode)
	}

	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("upstream: failed to parse login response: %w", err)
	}
	if !envelope.IsSuccess() {
		return "", fmt.Errorf("upstream: login failed: %s", envelope.Message)
	}

	var payload loginPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return "", fmt.Errorf("upstream: failed to parse login payload: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("upstream: login returned an empty token")
	}

	return payload.Token, nil
}

// Ensure Authenticator implements gateway.Authenticator
var _ gateway.Authenticator = (*Authenticator)(nil)
