package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"nodewatch/models"
	"nodewatch/services"
)

// GetNodesStats godoc
// @Summary Get node counts by role, version and reward program
// @Tags stats
// @Produce json
// @Success 200 {object} models.NodesStats
// @Failure 503 {object} ErrorResponse
// @Router /api/nodes/stats [get]
func (h *Handler) GetNodesStats(c echo.Context) error {
	caches := h.Monitor.Caches()
	stats, found := caches.Stats.Get(services.CacheKeyNodesStats)

	if !found && h.Store != nil {
		fromStore, err := h.Store.GetNodesStats(c.Request().Context())
		if err != nil {
			h.Logger.Error("failed to load nodes stats", zap.Error(err))
		} else if fromStore != nil {
			stats, found = fromStore, true
			caches.Stats.Set(services.CacheKeyNodesStats, stats)
		}
	}

	if !found {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Node statistics temporarily unavailable",
		})
	}

	c.Response().Header().Set("Cache-Control", "max-age=60")
	return c.JSON(http.StatusOK, stats)
}

// GetNodeHeightStats godoc
// @Summary Get Api node counts grouped by chain and finalized height
// @Tags stats
// @Produce json
// @Success 200 {object} models.NodeHeightStats
// @Failure 503 {object} ErrorResponse
// @Router /api/nodes/height-stats [get]
func (h *Handler) GetNodeHeightStats(c echo.Context) error {
	caches := h.Monitor.Caches()
	stats, found := caches.Heights.Get(services.CacheKeyHeightStats)

	if !found && h.Store != nil {
		fromStore, err := h.Store.GetNodeHeightStats(c.Request().Context())
		if err != nil {
			h.Logger.Error("failed to load node height stats", zap.Error(err))
		} else if fromStore != nil {
			stats, found = fromStore, true
			caches.Heights.Set(services.CacheKeyHeightStats, stats)
		}
	}

	if !found {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Height statistics temporarily unavailable",
		})
	}

	c.Response().Header().Set("Cache-Control", "max-age=60")
	return c.JSON(http.StatusOK, stats)
}

// GetNodeCountSeries godoc
// @Summary Get the node-count time series (daily points plus today's samples)
// @Tags stats
// @Produce json
// @Success 200 {object} models.NodeCountSeries
// @Router /api/timeseries/node-count [get]
func (h *Handler) GetNodeCountSeries(c echo.Context) error {
	days, today, err := h.Monitor.Series().Points(c.Request().Context())
	if err != nil {
		h.Logger.Error("failed to load node count series", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load time series"})
	}

	if days == nil {
		days = []models.TimeSeriesPoint{}
	}
	if today == nil {
		today = []models.TimeSeriesPoint{}
	}
	return c.JSON(http.StatusOK, models.NodeCountSeries{Days: days, Today: today})
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
