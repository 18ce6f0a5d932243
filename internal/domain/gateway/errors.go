package gateway

import (
	"errors"
	"fmt"
)

// Status values used in upstream response envelopes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrNotAuthenticated indicates that no usable session exists for the tenant
// and a fresh login is required.
var ErrNotAuthenticated = errors.New("gateway: not authenticated, please log in again")

// BadRequestError indicates the upstream rejected the shape of the request
// (HTTP 400). It is fatal and never retried.
type BadRequestError struct {
	Method  string
	Path    string
	Message string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("gateway: upstream rejected request %s %s: %s", e.Method, e.Path, e.Message)
}

// AuthExpiredError indicates the re-authentication budget was exhausted
// without the upstream accepting any token.
type AuthExpiredError struct {
	Path     string
	Attempts int
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("gateway: authentication expired for %s after %d attempts", e.Path, e.Attempts)
}

// NotFoundError indicates the upstream returned HTTP 404. It carries the
// original request parameters for diagnostics.
type NotFoundError struct {
	Method string
	Path   string
	Params map[string]any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("gateway: upstream resource not found: %s %s", e.Method, e.Path)
}

// UpstreamError is the catch-all for unexpected upstream status codes.
type UpstreamError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gateway: upstream request %s %s failed with status %d", e.Method, e.Path, e.StatusCode)
}

// PersistenceError indicates a local store write failed during
// reconciliation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("gateway: persistence failure during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying store error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}
