package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm/backend/internal/domain/gateway"
)

// fakeSessions is a scripted gateway.SessionStore
type fakeSessions struct {
	mu        sync.Mutex
	token     string
	nextToken string
	refreshes int
}

func (s *fakeSessions) Token(uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *fakeSessions) Refresh(_ context.Context, _ uuid.UUID, _, _ string) string {
	return s.RefreshStored(context.Background(), uuid.Nil)
}

func (s *fakeSessions) RefreshStored(context.Context, uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	s.token = s.nextToken
	return s.token
}

func (s *fakeSessions) Invalidate(uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

func (s *fakeSessions) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

func testSession() gateway.SessionContext {
	return gateway.SessionContext{TenantID: uuid.New(), UserID: "tester"}
}

func TestClient_Do_Success(t *testing.T) {
	var gotAuth, gotLegacy, gotParams string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotLegacy = r.Header.Get("X-LASEC-AUTH")
		gotParams = r.URL.Query().Get("params")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "success",
			"payload": map[string]any{"ids": []string{"a"}},
		})
	}))
	defer server.Close()

	sessions := &fakeSessions{token: "tok-1"}
	client := NewClient(Config{BaseURL: server.URL}, sessions, nil)

	env, err := client.Do(context.Background(), testSession(), Request{
		Path:         "/api/quote",
		Params:       map[string]any{"filter": map[string]any{"status": "open"}},
		RequiresAuth: true,
	})
	require.NoError(t, err)
	assert.True(t, env.IsSuccess())

	// Both auth headers carry the same token value
	assert.Equal(t, "Token tok-1", gotAuth)
	assert.Equal(t, "Token tok-1", gotLegacy)

	// Params travel as one URL-encoded JSON query value
	var params map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotParams), &params))
	assert.Equal(t, map[string]any{"filter": map[string]any{"status": "open"}}, params)
}

func TestClient_Do_NoTokenSentinel(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success"})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, &fakeSessions{}, nil)

	_, err := client.Do(context.Background(), testSession(), Request{
		Path:         "/api/quote",
		RequiresAuth: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Token null", gotAuth, "missing token sends the sentinel, not an empty header")
}

func TestClient_Do_ReauthLoop(t *testing.T) {
	t.Run("recovers once the refreshed token is accepted", func(t *testing.T) {
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			if r.Header.Get("Authorization") != "Token good" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success"})
		}))
		defer server.Close()

		sessions := &fakeSessions{token: "stale", nextToken: "good"}
		client := NewClient(Config{BaseURL: server.URL, AuthAttempts: 3}, sessions, nil)

		env, err := client.Do(context.Background(), testSession(), Request{Path: "/api/quote", RequiresAuth: true})
		require.NoError(t, err)
		assert.True(t, env.IsSuccess())
		assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
		assert.Equal(t, 1, sessions.refreshCount())
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		sessions := &fakeSessions{token: "stale", nextToken: "still-bad"}
		client := NewClient(Config{BaseURL: server.URL, AuthAttempts: 3}, sessions, nil)

		_, err := client.Do(context.Background(), testSession(), Request{Path: "/api/quote", RequiresAuth: true})

		var authErr *gateway.AuthExpiredError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, 3, authErr.Attempts)
		assert.Equal(t, "/api/quote", authErr.Path)
		assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "one request per attempt, no more")
		assert.Equal(t, 3, sessions.refreshCount(), "one refresh per rejected attempt")
	})

	t.Run("403 also triggers re-authentication", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		sessions := &fakeSessions{token: "stale"}
		client := NewClient(Config{BaseURL: server.URL, AuthAttempts: 2}, sessions, nil)

		_, err := client.Do(context.Background(), testSession(), Request{Path: "/api/quote", RequiresAuth: true})

		var authErr *gateway.AuthExpiredError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, 2, sessions.refreshCount())
	})
}

func TestClient_Do_Classification(t *testing.T) {
	t.Run("400 is a bad request error with the upstream message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "failed", "message": "unknown filter field"})
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, &fakeSessions{token: "tok"}, nil)
		_, err := client.Do(context.Background(), testSession(), Request{Path: "/api/quote", RequiresAuth: true})

		var badReq *gateway.BadRequestError
		require.ErrorAs(t, err, &badReq)
		assert.Equal(t, "unknown filter field", badReq.Message)
	})

	t.Run("404 is a not found error carrying the params", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, &fakeSessions{token: "tok"}, nil)
		params := map[string]any{"id": "q-404"}
		_, err := client.Do(context.Background(), testSession(), Request{Path: "/api/quote", Params: params, RequiresAuth: true})

		var notFound *gateway.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, params, notFound.Params)
	})

	t.Run("unexpected status is an upstream error and resets the session", func(t *testing.T) {
		resetCalled := make(chan string, 1)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/session/reset" {
				select {
				case resetCalled <- r.Method:
				default:
				}
				_ = json.NewEncoder(w).Encode(map[string]any{"status": "success"})
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, &fakeSessions{token: "tok"}, nil)
		_, err := client.Do(context.Background(), testSession(), Request{Path: "/api/quote", RequiresAuth: true})

		var upstreamErr *gateway.UpstreamError
		require.ErrorAs(t, err, &upstreamErr)
		assert.Equal(t, http.StatusInternalServerError, upstreamErr.StatusCode)

		select {
		case method := <-resetCalled:
			assert.Equal(t, http.MethodPost, method)
		case <-time.After(2 * time.Second):
			t.Fatal("session reset side call never arrived")
		}
	})
}

func TestClient_Do_SoftFailures(t *testing.T) {
	t.Run("transport failure returns a failed envelope, not an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		server.Close() // connection refused from here on

		client := NewClient(Config{BaseURL: server.URL, Timeout: time.Second}, &fakeSessions{token: "tok"}, nil)
		env, err := client.Do(context.Background(), testSession(), Request{Path: "/api/quote", RequiresAuth: true})

		require.NoError(t, err)
		require.NotNil(t, env)
		assert.False(t, env.IsSuccess())
		assert.NotEmpty(t, env.Message)
	})

	t.Run("unparseable 200 body returns a failed envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>not json</html>"))
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, &fakeSessions{token: "tok"}, nil)
		env, err := client.Do(context.Background(), testSession(), Request{Path: "/api/quote", RequiresAuth: true})

		require.NoError(t, err)
		assert.False(t, env.IsSuccess())
	})
}

func TestEnvelope_IsSuccess(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   bool
	}{
		{"explicit success", "success", true},
		{"absent status counts as success", "", true},
		{"explicit failure", "failed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Envelope{Status: tt.status}
			assert.Equal(t, tt.want, env.IsSuccess())
		})
	}
}
