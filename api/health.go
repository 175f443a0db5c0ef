package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

var startedAt = time.Now()

const pingTimeout = 2 * time.Second

// HealthResponse defines the data the Health
// endpoint returns.
type HealthResponse struct {
	Status   Status        `json:"status"`
	Uptime   time.Duration `json:"uptime"`
	Database string        `json:"database,omitempty"`
}

// Health reports whether the broker can reach its database. The response
// also includes the uptime.
func Health(ping func(ctx context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := HealthResponse{Status: Healthy, Uptime: time.Since(startedAt)}
		code := http.StatusOK

		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), pingTimeout)
			defer cancel()
			if err := ping(ctx); err != nil {
				resp.Status = Degraded
				resp.Database = err.Error()
				code = http.StatusServiceUnavailable
			}
		}

		return c.JSON(code, resp)
	}
}

// Status enumerates the health statuses of the broker.
type Status string

const (
	// Healthy implies the broker is having no major issues.
	Healthy Status = "healthy"
	// Degraded implies the database cannot be reached.
	Degraded Status = "degraded"
)
