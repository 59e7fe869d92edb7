package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/api/dto"
	"github.com/gin-gonic/gin"
)

const (
	ServiceName        = "api-service"
	healthCheckTimeout = 3 * time.Second
)

type HealthHandler struct {
	logger *slog.Logger
	checks map[string]HealthCheck
}

func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger: deps.Logger,
		checks: deps.HealthChecks,
	}
}

// Health reports 503 when any dependency is down
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	resp := dto.HealthResponse{
		Status:     "healthy",
		Service:    ServiceName,
		Components: make(map[string]string, len(names)),
	}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("Health check failed",
				slog.String("component", name),
				slog.Any("error", err),
			)
			resp.Components[name] = "down"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "up"
	}

	c.JSON(status, resp)
}
