package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ticket-backoffice/internal/status"

	"github.com/go-redis/redismock/v9"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// Circuit Breaker Tests

var errBackend = errors.New("backend unavailable")

func fail() (any, error)    { return nil, errBackend }
func succeed() (any, error) { return "ok", nil }

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{})

	assert.Equal(t, "test", cb.Name())
	assert.Equal(t, uint32(20), cb.maxRequests)
	assert.Equal(t, 60*time.Second, cb.interval)
	assert.Equal(t, 30*time.Second, cb.timeout)
	assert.Equal(t, 0.6, cb.failureRatio)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{})

	result, err := cb.Execute(context.Background(), succeed)

	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
	counts := cb.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)
}

func TestCircuitBreaker_ExecuteFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{})

	result, err := cb.Execute(context.Background(), fail)

	assert.ErrorIs(t, err, errBackend)
	assert.Nil(t, result)
	counts := cb.Counts()
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}

func TestCircuitBreaker_CanceledContextSkipsRequest(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func() (any, error) {
		t.Fatal("must not run with a canceled context")
		return nil, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(0), cb.Counts().Requests)
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{MaxRequests: 5, FailureRatio: 0.6})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, succeed)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, fail)
		require.ErrorIs(t, err, errBackend)
	}

	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(ctx, func() (any, error) {
		t.Fatal("This should not be executed when circuit is open")
		return nil, nil
	})
	assert.ErrorIs(t, err, status.ErrCircuitOpen)
}

func TestCircuitBreaker_OpenToHalfOpenToClosed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker("test", BreakerSettings{MaxRequests: 2, FailureRatio: 0.5, Timeout: 10 * time.Second, Clock: clock})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(9 * time.Second)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(ctx, succeed)
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker("test", BreakerSettings{MaxRequests: 2, FailureRatio: 0.5, Timeout: 10 * time.Second, Clock: clock})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.Execute(ctx, fail)
	}
	clock.Advance(11 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(ctx, fail)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ClosedWindowResets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker("test", BreakerSettings{MaxRequests: 3, Interval: time.Minute, Clock: clock})
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	require.Equal(t, uint32(2), cb.Counts().TotalFailures)

	clock.Advance(61 * time.Second)
	cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State(), "old failures aged out of the window")
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
}

func TestCircuitBreaker_IsFailureFiltersDomainErrors(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{
		MaxRequests: 2,
		IsFailure:   func(err error) bool { return errors.Is(err, status.ErrTransientIO) },
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := cb.Execute(ctx, func() (any, error) { return nil, status.ErrNotFound })
		assert.ErrorIs(t, err, status.ErrNotFound)
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(5), cb.Counts().TotalSuccesses)
}

func TestCircuitBreaker_HalfOpenLimitsTrials(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker("test", BreakerSettings{MaxRequests: 1, FailureRatio: 0.5, Timeout: time.Second, Clock: clock})
	ctx := context.Background()

	cb.Execute(ctx, fail)
	clock.Advance(2 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := cb.Execute(ctx, func() (any, error) {
			close(entered)
			<-release
			return "ok", nil
		})
		done <- err
	}()
	<-entered

	_, err := cb.Execute(ctx, succeed)
	assert.ErrorIs(t, err, status.ErrTooManyRequests)

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("concurrent-test", BreakerSettings{MaxRequests: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	numGoroutines := 100
	successCount := 0
	mu := sync.Mutex{}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			_, err := cb.Execute(ctx, func() (any, error) {
				if id%10 == 0 {
					return nil, errBackend
				}
				return "success", nil
			})

			if err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 90, successCount)
	assert.Equal(t, uint32(numGoroutines), cb.Counts().Requests)
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb := NewCircuitBreaker("panic-test", BreakerSettings{})
	ctx := context.Background()

	assert.Panics(t, func() {
		cb.Execute(ctx, func() (any, error) {
			panic("test panic")
		})
	})
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)

	result, err := cb.Execute(ctx, func() (any, error) {
		return "recovery", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "recovery", result)
}

func TestCircuitBreaker_ReadyToTrip(t *testing.T) {
	cb := NewCircuitBreaker("trip-test", BreakerSettings{})

	tests := []struct {
		name           string
		requests       uint32
		failures       uint32
		maxRequests    uint32
		failureRatio   float64
		expectedResult bool
	}{
		{"Not enough requests", 5, 5, 10, 0.5, false},
		{"High failure ratio", 10, 8, 10, 0.6, true},
		{"Low failure ratio", 10, 3, 10, 0.6, false},
		{"Exact failure ratio threshold", 10, 6, 10, 0.6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb.maxRequests = tt.maxRequests
			cb.failureRatio = tt.failureRatio
			cb.counts.Requests = tt.requests
			cb.counts.TotalFailures = tt.failures

			assert.Equal(t, tt.expectedResult, cb.readyToTrip())
		})
	}
}

func TestCircuitBreaker_StateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

// Redis Client Tests

func TestRedisHealthCheck_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetVal("PONG")

	err := RedisHealthCheck(context.Background(), db)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHealthCheck_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetErr(errors.New("connection failed"))

	err := RedisHealthCheck(context.Background(), db)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis health check failed")
	assert.Contains(t, err.Error(), "connection failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(8)
	require.NoError(t, err)
	assert.Len(t, code, 16)
	assert.Regexp(t, `^[0-9A-F]+$`, code)

	other, err := GenerateCode(8)
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestGenerateHash(t *testing.T) {
	hash, err := GenerateHash("A1B2C3", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "A1B2C3", hash)

	assert.True(t, CompareHash(hash, "A1B2C3"))
	assert.False(t, CompareHash(hash, "A1B2C4"))
	assert.False(t, CompareHash("not-a-hash", "A1B2C3"))

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	fallback, err := GenerateHash("A1B2C3", 0)
	require.NoError(t, err)
	cost, err = bcrypt.Cost([]byte(fallback))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}

// Benchmark Tests

func BenchmarkCircuitBreaker_Execute_Success(b *testing.B) {
	cb := NewCircuitBreaker("benchmark", BreakerSettings{})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Execute(ctx, succeed)
	}
}

func BenchmarkCircuitBreaker_Execute_Concurrent(b *testing.B) {
	cb := NewCircuitBreaker("benchmark-concurrent", BreakerSettings{})
	ctx := context.Background()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			cb.Execute(ctx, succeed)
		}
	})
}
