package handlers

import (
	"context"
	"net/http"

	"ticket-backoffice/utils"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store Pinger
	redis redis.Cmdable
}

func NewHealthHandler(store Pinger, redisClient redis.Cmdable) *HealthHandler {
	return &HealthHandler{store: store, redis: redisClient}
}

func (h *HealthHandler) Health(e *core.RequestEvent) error {
	ctx := e.Request.Context()
	checks := map[string]string{"store": "ok", "redis": "ok"}
	healthy := true

	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	}
	if err := utils.RedisHealthCheck(ctx, h.redis); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	if !healthy {
		return e.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"checks": checks,
		})
	}
	return e.JSON(http.StatusOK, map[string]any{"status": "healthy", "checks": checks})
}
