package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crm/backend/internal/domain/crm"
	"github.com/crm/backend/internal/domain/gateway"
	"github.com/crm/backend/internal/infrastructure/logger"
)

// Request headers identifying the acting tenant and user.
const (
	headerTenantID = "X-Tenant-ID"
	headerUserID   = "X-User-ID"
)

// APIResponse is the uniform success body
type APIResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// respondOK writes a success response with the given payload
func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Status: "success", Data: data})
}

// Fixed messages for failures whose details belong in the log, not in the
// response body.
const (
	msgUpstreamFailure = "could not complete the request"
	msgInternalError   = "internal error"
)

// respondError maps gateway and domain errors to HTTP status codes. Upstream
// misbehavior surfaces as 502 with a generic message; only a malformed
// inbound request is a 400.
func respondError(c *gin.Context, err error) {
	var (
		badRequest  *gateway.BadRequestError
		authExpired *gateway.AuthExpiredError
		notFound    *gateway.NotFoundError
		upstream    *gateway.UpstreamError
	)

	status := http.StatusInternalServerError
	message := msgInternalError
	switch {
	case errors.Is(err, crm.ErrSyncedQuoteNotFound), errors.As(err, &notFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.As(err, &badRequest):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.As(err, &authExpired), errors.As(err, &upstream):
		status = http.StatusBadGateway
		message = msgUpstreamFailure
	}

	if message != err.Error() {
		logger.FromContext(c.Request.Context()).Warn("request failed",
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	c.JSON(status, ErrorResponse{Status: "failed", Message: message})
}

// sessionFromRequest builds the gateway session from the identifying headers.
// The tenant header is mandatory; the user header defaults to "system" so
// timeline attribution never ends up empty.
func sessionFromRequest(c *gin.Context) (gateway.SessionContext, error) {
	raw := c.GetHeader(headerTenantID)
	if raw == "" {
		return gateway.SessionContext{}, fmt.Errorf("missing %s header", headerTenantID)
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return gateway.SessionContext{}, fmt.Errorf("invalid %s header: %w", headerTenantID, err)
	}

	userID := c.GetHeader(headerUserID)
	if userID == "" {
		userID = "system"
	}

	return gateway.SessionContext{TenantID: tenantID, UserID: userID}, nil
}
