package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stwalsh4118/inspections/api/internal/events"
	apierrors "github.com/stwalsh4118/inspections/api/internal/errors"
	"github.com/stwalsh4118/inspections/api/internal/middleware"
	"github.com/stwalsh4118/inspections/api/internal/services"
)

// EventsHandler serves the UI effects (toasts, navigation requests and view
// invalidations) of a dashboard, as a backlog or as a websocket stream.
type EventsHandler struct {
	service  services.DashboardService
	upgrader websocket.Upgrader
}

// NewEventsHandler creates a new EventsHandler. Websocket upgrades are
// accepted from the given browser origins and from clients sending none.
func NewEventsHandler(service services.DashboardService, allowedOrigins []string) *EventsHandler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimRight(o, "/")] = struct{}{}
	}

	return &EventsHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

// EventsQuery binds the resume point of an events request.
type EventsQuery struct {
	Since uint64 `form:"since"`
}

// EventsResponse lists the events published after the requested sequence.
type EventsResponse struct {
	Events  []events.Event `json:"events"`
	Count   int            `json:"count"`
	LastSeq uint64         `json:"lastSeq"`
}

// List handles GET /api/v1/dashboards/:id/events?since=N.
// Events older than the backlog are gone; clients resume from lastSeq.
func (h *EventsHandler) List(c *gin.Context) {
	var query EventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		apierrors.BadRequest(c, "Invalid query parameters", map[string]interface{}{
			"since": "Must be a non-negative integer",
		})
		return
	}

	backlog, err := h.service.Events(c.Request.Context(), c.Param("id"), query.Since)
	if err != nil {
		writeServiceError(c, err, "Failed to read dashboard events")
		return
	}

	lastSeq := query.Since
	if n := len(backlog); n > 0 {
		lastSeq = backlog[n-1].Seq
	}
	c.JSON(http.StatusOK, EventsResponse{
		Events:  backlog,
		Count:   len(backlog),
		LastSeq: lastSeq,
	})
}

// Stream handles GET /api/v1/dashboards/:id/ws?since=N.
// It upgrades to a websocket and streams the dashboard's events until the
// client leaves or the dashboard is deleted.
func (h *EventsHandler) Stream(c *gin.Context) {
	var query EventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	id := c.Param("id")
	hub, err := h.service.Hub(id)
	if err != nil {
		writeServiceError(c, err, "Failed to open event stream")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already answered the client.
		if log := middleware.GetLogger(c); log != nil {
			log.Warn("Websocket upgrade failed", map[string]interface{}{
				"dashboard_id": id,
				"error":        err.Error(),
			})
		}
		return
	}

	log := middleware.GetLogger(c)
	if log != nil {
		log.Info("Event stream opened", map[string]interface{}{
			"dashboard_id": id,
			"since":        query.Since,
		})
	}

	if err := events.Stream(c.Request.Context(), conn, hub, query.Since); err != nil && log != nil {
		log.Warn("Event stream ended with error", map[string]interface{}{
			"dashboard_id": id,
			"error":        err.Error(),
		})
	}
}
