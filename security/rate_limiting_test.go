package security

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, 2, time.Minute)
	ctx := context.Background()

	mock.ExpectIncr("ratelimit:scan:door-1").SetVal(1)
	mock.ExpectExpire("ratelimit:scan:door-1", time.Minute).SetVal(true)
	mock.ExpectIncr("ratelimit:scan:door-1").SetVal(2)
	mock.ExpectIncr("ratelimit:scan:door-1").SetVal(3)

	for i, want := range []bool{true, true, false} {
		allowed, err := rl.Allow(ctx, "door-1")
		require.NoError(t, err)
		assert.Equal(t, want, allowed, "request %d", i+1)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_RedisDownFailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, 1, time.Minute)

	mock.ExpectIncr("ratelimit:scan:door-1").SetErr(errors.New("connection refused"))

	allowed, err := rl.Allow(context.Background(), "door-1")
	assert.Error(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_Disabled(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, 0, time.Minute)

	allowed, err := rl.Allow(context.Background(), "door-1")
	assert.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// newScanEvent builds a check-in request whose body can be read twice, as
// the PocketBase router provides it.
func newScanEvent(body string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkin", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.9:5123"
	req.Body = &router.RereadableReadCloser{ReadCloser: req.Body}
	rec := httptest.NewRecorder()

	e := &core.RequestEvent{}
	e.Request = req
	e.Response = rec
	return e, rec
}

func TestScannerID(t *testing.T) {
	app, err := tests.NewTestApp()
	require.NoError(t, err)
	defer app.Cleanup()

	e, _ := newScanEvent("")
	e.App = app
	assert.Equal(t, "ip:10.0.0.9", ScannerID(e, ""))

	e.Request.Header.Set(ScannerHeader, " door-2 ")
	assert.Equal(t, "door-2", ScannerID(e, ""))
	assert.Equal(t, "door-1", ScannerID(e, "door-1"))
}

func TestScanRateLimit_UsesBodyScannerID(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, 2, time.Minute)
	body := `{"scanner_id":"door-7","code":"T1"}`

	mock.ExpectIncr("ratelimit:scan:door-7").SetVal(3)
	e, rec := newScanEvent(body)
	e.Request.Header.Set(ScannerHeader, "door-header")
	require.NoError(t, rl.ScanRateLimit(e))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	mock.ExpectIncr("ratelimit:scan:door-7").SetVal(1)
	mock.ExpectExpire("ratelimit:scan:door-7", time.Minute).SetVal(true)
	e, rec = newScanEvent(body)
	require.NoError(t, rl.ScanRateLimit(e))
	assert.Equal(t, http.StatusOK, rec.Code)

	rest, err := io.ReadAll(e.Request.Body)
	require.NoError(t, err)
	assert.JSONEq(t, body, string(rest), "handler still sees the full body")
	assert.NoError(t, mock.ExpectationsWereMet())
}
