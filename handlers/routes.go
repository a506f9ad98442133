package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the read API. metrics may be nil.
func RegisterRoutes(e *echo.Echo, h *Handler, metrics http.Handler) {
	e.GET("/health", h.GetHealth)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	api := e.Group("/api")
	api.GET("/status", h.GetStatus)

	// Static segments before the :publicKey parameter.
	api.GET("/nodes", h.GetNodes)
	api.GET("/nodes/stats", h.GetNodesStats)
	api.GET("/nodes/height-stats", h.GetNodeHeightStats)
	api.GET("/nodes/:publicKey", h.GetNode)

	api.GET("/timeseries/node-count", h.GetNodeCountSeries)
}
