package handlers

import "github.com/gin-gonic/gin"

// Routes bundles the handlers mounted on the router. Nil handlers are skipped.
type Routes struct {
	Health       *HealthHandler
	Dashboards   *DashboardHandler
	Events       *EventsHandler
	ChangeEvents *ChangeEventHandler
}

// Register mounts the health probes and the API v1 routes on router.
func (r Routes) Register(router *gin.Engine) {
	if r.Health != nil {
		router.GET("/health", r.Health.Health)
		router.GET("/health/ready", r.Health.Ready)
	}

	v1 := router.Group("/api/v1")
	if r.Health != nil {
		v1.GET("/info", r.Health.Info)
	}

	if r.Dashboards != nil {
		v1.GET("/options", r.Dashboards.Options)

		dashboards := v1.Group("/dashboards")
		{
			dashboards.POST("", r.Dashboards.Create)
			dashboards.GET("/:id", r.Dashboards.Get)
			dashboards.DELETE("/:id", r.Dashboards.Delete)
			dashboards.PUT("/:id/account", r.Dashboards.SetAccount)
			dashboards.PUT("/:id/filters", r.Dashboards.SetFilters)
			dashboards.POST("/:id/refresh", r.Dashboards.Refresh)
			dashboards.POST("/:id/inspections/:inspectionId/view", r.Dashboards.ViewInspection)
			dashboards.POST("/:id/flow", r.Dashboards.OpenFlow)
			dashboards.DELETE("/:id/flow", r.Dashboards.CloseFlow)
			dashboards.POST("/:id/flow/status", r.Dashboards.FlowStatus)
		}
	}

	if r.Events != nil {
		v1.GET("/dashboards/:id/events", r.Events.List)
		v1.GET("/dashboards/:id/ws", r.Events.Stream)
	}

	if r.ChangeEvents != nil {
		v1.POST("/change-events", r.ChangeEvents.Publish)
	}
}
