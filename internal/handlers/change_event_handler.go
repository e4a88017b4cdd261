package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apierrors "github.com/stwalsh4118/inspections/api/internal/errors"
	"github.com/stwalsh4118/inspections/api/internal/middleware"
	"github.com/stwalsh4118/inspections/api/internal/models"
)

// InspectionEntity is the entity name stamped on published change events.
const InspectionEntity = "Property_Inspection__c"

// ChangePublisher publishes change events to the change feed.
type ChangePublisher interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}

// ChangeEventHandler lets record writers outside the change-data-capture
// pipeline announce inspection changes to mounted dashboards.
type ChangeEventHandler struct {
	publisher ChangePublisher
	channel   string
	now       func() time.Time
}

// NewChangeEventHandler creates a handler publishing on channel.
func NewChangeEventHandler(publisher ChangePublisher, channel string) *ChangeEventHandler {
	if channel == "" {
		channel = models.InspectionChannel
	}
	return &ChangeEventHandler{
		publisher: publisher,
		channel:   channel,
		now:       time.Now,
	}
}

// ChangeEventRequest describes an inspection change.
type ChangeEventRequest struct {
	RelatedPropertyID string   `json:"relatedPropertyId" binding:"required,max=64,printascii"`
	ChangeType        string   `json:"changeType" binding:"omitempty,oneof=CREATE UPDATE DELETE UNDELETE"`
	RecordIDs         []string `json:"recordIds"`
}

// ChangeEventResponse echoes the published event. Its replay id is assigned
// by the feed and is not reported back.
type ChangeEventResponse struct {
	Event models.ChangeEvent `json:"event"`
}

// Publish handles POST /api/v1/change-events.
func (h *ChangeEventHandler) Publish(c *gin.Context) {
	var req ChangeEventRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.ChangeType == "" {
		req.ChangeType = "UPDATE"
	}

	event := models.ChangeEvent{
		Channel: h.channel,
		Payload: models.EventPayload{
			Header: models.ChangeEventHeader{
				EntityName:      InspectionEntity,
				ChangeType:      req.ChangeType,
				RecordIDs:       req.RecordIDs,
				CommitTimestamp: h.now().UnixMilli(),
			},
			RelatedPropertyID: req.RelatedPropertyID,
		},
	}

	if err := h.publisher.Publish(c.Request.Context(), event); err != nil {
		apierrors.BadGateway(c, "Failed to publish change event", err)
		return
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Info("Change event published", map[string]interface{}{
			"channel":     h.channel,
			"property_id": req.RelatedPropertyID,
			"change_type": req.ChangeType,
		})
	}
	c.JSON(http.StatusAccepted, ChangeEventResponse{Event: event})
}
