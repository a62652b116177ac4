package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// ScannerHeader identifies the physical scanner sending a check-in.
const ScannerHeader = "X-Scanner-Id"

type RateLimiter struct {
	redis  redis.Cmdable
	limit  int64
	window time.Duration
}

// NewRateLimiter allows limit requests per identifier per window.
func NewRateLimiter(redisClient redis.Cmdable, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: redisClient, limit: int64(limit), window: window}
}

// Allow counts one request for identifier in the current fixed window.
func (r *RateLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("ratelimit:scan:%s", identifier)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			return true, err
		}
	}
	return count <= r.limit, nil
}

// ScannerID identifies the scanner behind a request: the scanner_id body
// field, then the scanner header, then the client IP.
func ScannerID(e *core.RequestEvent, fromBody string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	if id := strings.TrimSpace(e.Request.Header.Get(ScannerHeader)); id != "" {
		return id
	}
	return "ip:" + e.RealIP()
}

// ScanRateLimit limits check-in requests per scanner as ScannerID resolves
// it. The router keeps the body rereadable, so the handler can bind it again.
// Redis failures let requests through.
func (r *RateLimiter) ScanRateLimit(e *core.RequestEvent) error {
	var body struct {
		ScannerID string `json:"scanner_id"`
	}
	// a malformed body is rejected by the handler
	_ = e.BindBody(&body)
	identifier := ScannerID(e, body.ScannerID)

	allowed, err := r.Allow(e.Request.Context(), identifier)
	if err != nil {
		slog.Warn("Rate limiter unavailable", "error", err, "identifier", identifier)
	}
	if !allowed {
		return e.JSON(http.StatusTooManyRequests, map[string]string{
			"error": "Too many scans. Please slow down.",
		})
	}
	return e.Next()
}
