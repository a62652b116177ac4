package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"ticket-backoffice/models"
	"ticket-backoffice/monitoring"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const attendanceLastPrefix = "checkin:last:"

// AttendanceService keeps a per-event counter of successful check-ins for
// the door dashboard. The ticket store stays the source of truth.
type AttendanceService struct {
	Redis redis.Cmdable
	clock clockwork.Clock
}

func NewAttendanceService(redisClient redis.Cmdable, clock clockwork.Clock) *AttendanceService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AttendanceService{Redis: redisClient, clock: clock}
}

func countKey(eventID string) string { return monitoring.AttendanceKeyPrefix + eventID }
func lastKey(eventID string) string  { return attendanceLastPrefix + eventID }

// CheckedIn records one successful check-in.
func (s *AttendanceService) CheckedIn(ctx context.Context, result models.CheckInResult) {
	if result.EventID == "" {
		return
	}
	_, err := s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, countKey(result.EventID))
		pipe.Set(ctx, lastKey(result.EventID), s.clock.Now().Unix(), 0)
		return nil
	})
	if err != nil {
		slog.Error("Failed to update attendance", "error", err, "event_id", result.EventID)
	}
}

func (s *AttendanceService) Stats(ctx context.Context, eventID string) (*models.AttendanceStats, error) {
	stats := &models.AttendanceStats{EventID: eventID}

	count, err := s.Redis.Get(ctx, countKey(eventID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get attendance count: %w", err)
	}
	stats.CheckedIn = count

	last, err := s.Redis.Get(ctx, lastKey(eventID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get attendance timestamp: %w", err)
	}
	if last != "" {
		if unix, err := strconv.ParseInt(last, 10, 64); err == nil {
			stats.LastUpdated = time.Unix(unix, 0).UTC()
		}
	}
	return stats, nil
}
