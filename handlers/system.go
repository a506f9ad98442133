package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"nodewatch/services"
)

// GetHealth returns OK
func (h *Handler) GetHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// GetStatus returns the monitor state and process uptime.
func (h *Handler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:    "running",
		Uptime:    time.Since(h.StartedAt).Round(time.Second).String(),
		Monitor:   h.Monitor.Status(),
		Timestamp: time.Now().UTC(),
	})
}

type StatusResponse struct {
	Status    string                 `json:"status"`
	Uptime    string                 `json:"uptime"`
	Monitor   services.MonitorStatus `json:"monitor"`
	Timestamp time.Time              `json:"timestamp"`
}
