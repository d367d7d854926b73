package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errCollaborator = errors.New("collaborator unavailable")

func testConfig() *Config {
	return &Config{
		FailureThreshold:      3,
		SuccessThreshold:      2,
		Timeout:               50 * time.Millisecond,
		MaxConcurrentRequests: 1,
	}
}

func TestCircuitBreaker_ClosedAllowsCalls(t *testing.T) {
	cb := New("test", testConfig(), nil)

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return nil })
		require.NoError(t, err)
	}
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TripsOpenAfterThreshold(t *testing.T) {
	var transitions []string
	cb := New("test", testConfig(), func(collaborator string, from, to State) {
		transitions = append(transitions, collaborator+":"+from.String()+"->"+to.String())
	})

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return errCollaborator })
		require.ErrorIs(t, err, errCollaborator)
	}
	require.Equal(t, StateOpen, cb.State())
	require.Contains(t, transitions, "test:closed->open")

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	cb := New("test", testConfig(), nil)
	tripOpen(t, cb)

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	require.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New("test", testConfig(), nil)
	tripOpen(t, cb)

	time.Sleep(60 * time.Millisecond)

	err := cb.Execute(context.Background(), func(context.Context) error { return errCollaborator })
	require.ErrorIs(t, err, errCollaborator)
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_Fallback(t *testing.T) {
	cb := New("test", testConfig(), nil)
	tripOpen(t, cb)

	called := false
	err := cb.ExecuteWithFallback(context.Background(),
		func(context.Context) error { return nil },
		func(_ context.Context, rejectErr error) error {
			called = true
			require.ErrorIs(t, rejectErr, ErrCircuitOpen)
			return nil
		})
	require.NoError(t, err)
	require.True(t, called)
}

func TestCircuitBreaker_HalfOpenConcurrencyLimit(t *testing.T) {
	cb := New("test", testConfig(), nil)
	tripOpen(t, cb)
	time.Sleep(60 * time.Millisecond)

	release := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]error, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cb.Execute(context.Background(), func(context.Context) error {
				<-release
				return nil
			})
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	var rejections int
	for _, err := range results {
		if errors.Is(err, ErrTooManyConcurrentRequests) {
			rejections++
		}
	}
	require.GreaterOrEqual(t, rejections, 1)
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := New("test", testConfig(), nil)

	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	_ = cb.Execute(context.Background(), func(context.Context) error { return errCollaborator })

	stats := cb.Stats()
	require.Equal(t, "test", stats.Collaborator)
	require.Equal(t, int64(2), stats.TotalRequests)
	require.Equal(t, int64(1), stats.TotalSuccesses)
	require.Equal(t, int64(1), stats.TotalFailures)
	require.InDelta(t, 0.5, stats.FailureRate, 1e-9)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New("test", testConfig(), nil)
	tripOpen(t, cb)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	require.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
}

func TestCircuitBreaker_ConcurrentAccessIsRaceFree(t *testing.T) {
	cb := New("test", DefaultConfig(), nil)
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 20; j++ {
				if i%2 == 0 {
					_ = cb.Execute(context.Background(), func(context.Context) error { return nil })
				} else {
					_ = cb.Execute(context.Background(), func(context.Context) error { return errCollaborator })
				}
				_ = cb.Stats()
				_ = cb.State()
			}
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func tripOpen(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errCollaborator })
	}
	require.Equal(t, StateOpen, cb.State())
}
