package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stwalsh4118/inspections/api/internal/dashboard"
	apierrors "github.com/stwalsh4118/inspections/api/internal/errors"
	"github.com/stwalsh4118/inspections/api/internal/middleware"
	"github.com/stwalsh4118/inspections/api/internal/models"
	"github.com/stwalsh4118/inspections/api/internal/services"
)

// DashboardHandler handles the inspection dashboard endpoints.
type DashboardHandler struct {
	service services.DashboardService
}

// NewDashboardHandler creates a new DashboardHandler instance.
func NewDashboardHandler(service services.DashboardService) *DashboardHandler {
	return &DashboardHandler{
		service: service,
	}
}

// AccountRequest binds the body of the create and change-account endpoints.
type AccountRequest struct {
	AccountID string `json:"accountId" binding:"required,max=64,printascii"`
}

// FiltersRequest binds the body of the filter endpoint. Values are checked
// against the option lists by the dashboard.
type FiltersRequest struct {
	Status string `json:"status" binding:"required"`
	Type   string `json:"type" binding:"required"`
}

// FlowStatusRequest binds a status reported by the guided workflow.
type FlowStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// DashboardResponse wraps a rendered dashboard.
type DashboardResponse struct {
	Dashboard dashboard.View `json:"dashboard"`
}

// FlowResponse wraps the guided-workflow state.
type FlowResponse struct {
	Flow dashboard.FlowState `json:"flow"`
}

// OptionsResponse lists the filter selector options.
type OptionsResponse struct {
	StatusOptions []models.Option `json:"statusOptions"`
	TypeOptions   []models.Option `json:"typeOptions"`
}

// bindJSON binds the request body and writes the error response on failure.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return false
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return false
	}
	return true
}

// writeServiceError maps a dashboard service error to its HTTP response.
func writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrDashboardNotFound):
		apierrors.NotFound(c, "Dashboard not found")
	case errors.Is(err, services.ErrInvalidFilter):
		apierrors.BadRequest(c, err.Error(), map[string]interface{}{
			"statusOptions": optionValues(models.StatusOptions()),
			"typeOptions":   optionValues(models.TypeOptions()),
		})
	case errors.Is(err, services.ErrAccountRequired),
		errors.Is(err, services.ErrInspectionRequired),
		errors.Is(err, services.ErrFlowStatusRequired):
		apierrors.BadRequest(c, err.Error(), nil)
	case errors.Is(err, services.ErrRefreshFailed):
		apierrors.BadGateway(c, "Failed to refresh inspection data", err)
	default:
		apierrors.InternalServerError(c, fallback, err)
	}
}

func optionValues(options []models.Option) []string {
	values := make([]string, 0, len(options))
	for _, o := range options {
		values = append(values, o.Value)
	}
	return values
}

// Create handles POST /api/v1/dashboards.
// It mounts a dashboard for the account and returns its first view.
func (h *DashboardHandler) Create(c *gin.Context) {
	var req AccountRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.service.Create(c.Request.Context(), req.AccountID)
	if err != nil {
		writeServiceError(c, err, "Failed to create dashboard")
		return
	}

	c.Header("Location", "/api/v1/dashboards/"+view.ID)
	c.JSON(http.StatusCreated, DashboardResponse{Dashboard: view})
}

// Get handles GET /api/v1/dashboards/:id.
func (h *DashboardHandler) Get(c *gin.Context) {
	view, err := h.service.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err, "Failed to render dashboard")
		return
	}
	c.JSON(http.StatusOK, DashboardResponse{Dashboard: view})
}

// SetAccount handles PUT /api/v1/dashboards/:id/account.
func (h *DashboardHandler) SetAccount(c *gin.Context) {
	var req AccountRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.service.SetAccount(c.Request.Context(), c.Param("id"), req.AccountID)
	if err != nil {
		writeServiceError(c, err, "Failed to change account")
		return
	}
	c.JSON(http.StatusOK, DashboardResponse{Dashboard: view})
}

// SetFilters handles PUT /api/v1/dashboards/:id/filters.
func (h *DashboardHandler) SetFilters(c *gin.Context) {
	var req FiltersRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.service.SetFilters(c.Request.Context(), c.Param("id"), req.Status, req.Type)
	if err != nil {
		writeServiceError(c, err, "Failed to apply filters")
		return
	}
	c.JSON(http.StatusOK, DashboardResponse{Dashboard: view})
}

// Refresh handles POST /api/v1/dashboards/:id/refresh.
// A failed refresh answers 502; the dashboard keeps its previous data.
func (h *DashboardHandler) Refresh(c *gin.Context) {
	id := c.Param("id")
	if log := middleware.GetLogger(c); log != nil {
		log.Info("Refreshing dashboard", map[string]interface{}{"dashboard_id": id})
	}

	view, err := h.service.Refresh(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err, "Failed to refresh dashboard")
		return
	}
	c.JSON(http.StatusOK, DashboardResponse{Dashboard: view})
}

// ViewInspection handles POST /api/v1/dashboards/:id/inspections/:inspectionId/view.
// The navigation request is delivered to the dashboard's event stream.
func (h *DashboardHandler) ViewInspection(c *gin.Context) {
	err := h.service.ViewInspection(c.Request.Context(), c.Param("id"), c.Param("inspectionId"))
	if err != nil {
		writeServiceError(c, err, "Failed to open inspection")
		return
	}
	c.Status(http.StatusAccepted)
}

// OpenFlow handles POST /api/v1/dashboards/:id/flow.
func (h *DashboardHandler) OpenFlow(c *gin.Context) {
	flow, err := h.service.OpenFlow(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err, "Failed to open guided flow")
		return
	}
	c.JSON(http.StatusOK, FlowResponse{Flow: flow})
}

// CloseFlow handles DELETE /api/v1/dashboards/:id/flow.
func (h *DashboardHandler) CloseFlow(c *gin.Context) {
	flow, err := h.service.CloseFlow(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err, "Failed to close guided flow")
		return
	}
	c.JSON(http.StatusOK, FlowResponse{Flow: flow})
}

// FlowStatus handles POST /api/v1/dashboards/:id/flow/status.
func (h *DashboardHandler) FlowStatus(c *gin.Context) {
	var req FlowStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	flow, err := h.service.FlowStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		writeServiceError(c, err, "Failed to update guided flow")
		return
	}
	c.JSON(http.StatusOK, FlowResponse{Flow: flow})
}

// Delete handles DELETE /api/v1/dashboards/:id.
func (h *DashboardHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err, "Failed to delete dashboard")
		return
	}
	c.Status(http.StatusNoContent)
}

// Options handles GET /api/v1/options.
func (h *DashboardHandler) Options(c *gin.Context) {
	c.JSON(http.StatusOK, OptionsResponse{
		StatusOptions: models.StatusOptions(),
		TypeOptions:   models.TypeOptions(),
	})
}
