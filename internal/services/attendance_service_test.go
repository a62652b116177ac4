package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticket-backoffice/models"

	"github.com/go-redis/redismock/v9"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scanTime = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func TestAttendanceService_CheckedIn(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewAttendanceService(db, clockwork.NewFakeClockAt(scanTime))

	mock.ExpectTxPipeline()
	mock.ExpectIncr("checkin:count:ev1").SetVal(1)
	mock.ExpectSet("checkin:last:ev1", scanTime.Unix(), 0).SetVal("OK")
	mock.ExpectTxPipelineExec()

	s.CheckedIn(context.Background(), models.CheckInResult{Outcome: models.OutcomeSuccess, EventID: "ev1"})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceService_CheckedInWithoutEvent(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewAttendanceService(db, nil)

	s.CheckedIn(context.Background(), models.CheckInResult{Outcome: models.OutcomeSuccess})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceService_Stats(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewAttendanceService(db, nil)

	mock.ExpectGet("checkin:count:ev1").SetVal("42")
	mock.ExpectGet("checkin:last:ev1").SetVal("1773518400")

	stats, err := s.Stats(context.Background(), "ev1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.CheckedIn)
	assert.Equal(t, time.Unix(1773518400, 0).UTC(), stats.LastUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceService_StatsEmptyEvent(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewAttendanceService(db, nil)

	mock.ExpectGet("checkin:count:ev2").RedisNil()
	mock.ExpectGet("checkin:last:ev2").RedisNil()

	stats, err := s.Stats(context.Background(), "ev2")
	require.NoError(t, err)
	assert.Zero(t, stats.CheckedIn)
	assert.True(t, stats.LastUpdated.IsZero())
}

func TestAttendanceService_StatsRedisDown(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewAttendanceService(db, nil)

	mock.ExpectGet("checkin:count:ev1").SetErr(errors.New("connection refused"))

	_, err := s.Stats(context.Background(), "ev1")
	assert.ErrorContains(t, err, "connection refused")
}
