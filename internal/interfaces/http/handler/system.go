package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crm/backend/internal/domain/gateway"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping() error
}

// SystemHandler handles health and housekeeping endpoints
type SystemHandler struct {
	db        Pinger
	cache     gateway.Cache
	logger    *zap.Logger
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(db Pinger, cache gateway.Cache, logger *zap.Logger) *SystemHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SystemHandler{
		db:        db,
		cache:     cache,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Ping is a liveness probe
// GET /api/v1/system/ping
func (h *SystemHandler) Ping(c *gin.Context) {
	respondOK(c, gin.H{
		"message":   "pong",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Health reports readiness: the database must be reachable
// GET /api/v1/system/health
func (h *SystemHandler) Health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Status:  "failed",
				Message: "database unreachable",
			})
			return
		}
	}

	respondOK(c, gin.H{
		"go_version": runtime.Version(),
		"uptime":     time.Since(h.startTime).Round(time.Second).String(),
	})
}

// PurgeCache sweeps expired gateway cache entries
// POST /api/v1/system/cache/purge
func (h *SystemHandler) PurgeCache(c *gin.Context) {
	removed, err := h.cache.PurgeExpired(c.Request.Context())
	if err != nil {
		h.logger.Error("cache purge failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Status: "failed", Message: err.Error()})
		return
	}
	respondOK(c, gin.H{"removed": removed})
}
