package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/inspections/api/internal/middleware"
)

const (
	// APIVersion is the current version of the API
	APIVersion = "0.2.0"
	// HealthCheckTimeout bounds each dependency ping of the readiness check
	HealthCheckTimeout = 2 * time.Second
)

// Dependency states reported by the readiness check.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateInProcess    = "in_process"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DashboardCounter reports how many dashboards are mounted.
type DashboardCounter interface {
	Count() int
}

// HealthHandler handles health check and readiness endpoints.
type HealthHandler struct {
	db         Pinger
	feed       Pinger
	dashboards DashboardCounter
	feedDriver string
	startTime  time.Time
	env        string
}

// NewHealthHandler creates a new HealthHandler instance. feed may be nil for
// change-feed transports that have no remote endpoint to ping.
func NewHealthHandler(db Pinger, feed Pinger, feedDriver string, dashboards DashboardCounter, env string) *HealthHandler {
	return &HealthHandler{
		db:         db,
		feed:       feed,
		dashboards: dashboards,
		feedDriver: feedDriver,
		startTime:  time.Now(),
		env:        env,
	}
}

// HealthResponse represents the basic health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status     string `json:"status"`
	Database   string `json:"database"`
	ChangeFeed string `json:"change_feed"`
}

// InfoResponse represents the API information response.
type InfoResponse struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Uptime      string `json:"uptime"`
	ChangeFeed  string `json:"change_feed"`
	Dashboards  int    `json:"dashboards"`
}

// Health handles GET /health. It is a liveness probe and checks nothing.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
	})
}

// Ready handles GET /health/ready.
// The service is ready when the record database and, if it has one, the
// change-feed endpoint answer a ping. Returns 503 otherwise.
func (h *HealthHandler) Ready(c *gin.Context) {
	resp := ReadyResponse{
		Status:     "ready",
		Database:   h.check(c, "database", h.db),
		ChangeFeed: StateInProcess,
	}
	if h.feed != nil {
		resp.ChangeFeed = h.check(c, "change_feed", h.feed)
	}

	if resp.Database != StateConnected || resp.ChangeFeed == StateDisconnected {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HealthHandler) check(c *gin.Context, name string, p Pinger) string {
	ctx, cancel := context.WithTimeout(c.Request.Context(), HealthCheckTimeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		if log := middleware.GetLogger(c); log != nil {
			log.Error("Health check failed", err, map[string]interface{}{
				"dependency": name,
				"timeout":    HealthCheckTimeout.String(),
			})
		}
		return StateDisconnected
	}
	return StateConnected
}

// Info handles GET /api/v1/info.
func (h *HealthHandler) Info(c *gin.Context) {
	resp := InfoResponse{
		Version:     APIVersion,
		Environment: h.env,
		Uptime:      formatUptime(time.Since(h.startTime)),
		ChangeFeed:  h.feedDriver,
	}
	if h.dashboards != nil {
		resp.Dashboards = h.dashboards.Count()
	}
	c.JSON(http.StatusOK, resp)
}

// formatUptime formats a duration as "1d 2h 3m 4s", omitting days when zero.
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
