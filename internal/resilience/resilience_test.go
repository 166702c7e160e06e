package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/MiloszKom/EcommerceAPI-sub000/internal/domain"
)

func testConfig() Config {
	return Config{
		MaxAttempts:         3,
		InitialDelay:        time.Millisecond,
		MaxDelay:            5 * time.Millisecond,
		BackoffFactor:       2.0,
		BreakerInterval:     time.Minute,
		BreakerOpenTimeout:  50 * time.Millisecond,
		BreakerMinRequests:  2,
		BreakerFailureRatio: 0.5,
		HalfOpenProbes:      1,
	}
}

func TestDo_RetriesTransientFailure(t *testing.T) {
	caller := NewCallerWithoutMetrics(testConfig(), nil)

	var calls int32
	err := caller.Do(context.Background(), "dep", func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDo_ExhaustedRetriesReturnRemoteUnavailable(t *testing.T) {
	caller := NewCallerWithoutMetrics(testConfig(), nil)

	transient := errors.New("connection refused")
	var calls int32
	err := caller.Do(context.Background(), "dep", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return transient
	})

	var unavailable *domain.RemoteUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected RemoteUnavailableError, got %v", err)
	}
	if unavailable.Dependency != "dep" {
		t.Errorf("expected dependency 'dep', got %q", unavailable.Dependency)
	}
	if !errors.Is(err, transient) {
		t.Errorf("original error must be wrapped, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDo_BusinessErrorNotRetried(t *testing.T) {
	caller := NewCallerWithoutMetrics(testConfig(), nil)

	var calls int32
	err := caller.Do(context.Background(), "dep", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return domain.ErrInsufficientStock
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock unchanged, got %v", err)
	}
	if domain.IsRemoteUnavailable(err) {
		t.Errorf("business error must not be masked as unavailability")
	}
	if calls != 1 {
		t.Errorf("expected single attempt, got %d", calls)
	}
}

func TestDo_CircuitOpensAndShortCircuits(t *testing.T) {
	caller := NewCallerWithoutMetrics(testConfig(), nil)

	var calls int32
	failing := func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("connection refused")
	}

	// Два проваленных вызова (MinRequests=2, ratio=0.5) открывают circuit.
	for i := 0; i < 2; i++ {
		if err := caller.Do(context.Background(), "dep", failing); err == nil {
			t.Fatal("expected failure")
		}
	}
	if state := caller.State("dep"); state != gobreaker.StateOpen {
		t.Fatalf("expected open state, got %s", state)
	}

	before := atomic.LoadInt32(&calls)
	err := caller.Do(context.Background(), "dep", failing)
	if !domain.IsRemoteUnavailable(err) {
		t.Fatalf("expected RemoteUnavailableError from open circuit, got %v", err)
	}
	if atomic.LoadInt32(&calls) != before {
		t.Errorf("open circuit must not invoke the operation")
	}
}

func TestDo_HalfOpenProbeClosesCircuit(t *testing.T) {
	cfg := testConfig()
	caller := NewCallerWithoutMetrics(cfg, nil)

	failing := func(ctx context.Context) error { return errors.New("connection refused") }
	for i := 0; i < 2; i++ {
		_ = caller.Do(context.Background(), "dep", failing)
	}
	if state := caller.State("dep"); state != gobreaker.StateOpen {
		t.Fatalf("expected open state, got %s", state)
	}

	time.Sleep(cfg.BreakerOpenTimeout + 20*time.Millisecond)

	err := caller.Do(context.Background(), "dep", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if state := caller.State("dep"); state != gobreaker.StateClosed {
		t.Errorf("expected closed state after successful probe, got %s", state)
	}
}

func TestDo_BusinessErrorsDoNotTripBreaker(t *testing.T) {
	caller := NewCallerWithoutMetrics(testConfig(), nil)

	for i := 0; i < 10; i++ {
		err := caller.Do(context.Background(), "dep", func(ctx context.Context) error {
			return domain.ErrProductNotFound
		})
		if !errors.Is(err, domain.ErrProductNotFound) {
			t.Fatalf("expected ErrProductNotFound, got %v", err)
		}
	}
	if state := caller.State("dep"); state != gobreaker.StateClosed {
		t.Errorf("business errors must not open circuit, got %s", state)
	}
}

func TestDo_PerAttemptTimeoutIsRetried(t *testing.T) {
	caller := NewCallerWithoutMetrics(testConfig(), nil)

	// Так выглядит ошибка http.Client.Timeout: она проходит
	// errors.Is(err, context.DeadlineExceeded), хотя контекст вызова жив.
	attemptTimeout := fmt.Errorf("Get \"http://catalog\": %w", context.DeadlineExceeded)

	var calls int32
	err := caller.Do(context.Background(), "dep", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return attemptTimeout
	})

	var unavailable *domain.RemoteUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected RemoteUnavailableError, got %v", err)
	}
	if calls != 3 {
		t.Errorf("per-attempt timeout must be retried, got %d attempts", calls)
	}
	if got := domain.KindOf(err); got != domain.KindRemoteUnavailable {
		t.Errorf("expected kind %q, got %q", domain.KindRemoteUnavailable, got)
	}
}

func TestDo_ContextCancellationPropagates(t *testing.T) {
	caller := NewCallerWithoutMetrics(testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := caller.Do(ctx, "dep", func(ctx context.Context) error {
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if domain.IsRemoteUnavailable(err) {
		t.Errorf("cancellation must not be masked as unavailability")
	}
}

func TestDoWithFallback(t *testing.T) {
	caller := NewCallerWithoutMetrics(testConfig(), nil)

	var fallbackCalled bool
	err := caller.DoWithFallback(context.Background(), "dep",
		func(ctx context.Context) error { return errors.New("connection refused") },
		func(ctx context.Context) error {
			fallbackCalled = true
			return nil
		},
	)
	if err != nil {
		t.Fatalf("expected fallback result, got %v", err)
	}
	if !fallbackCalled {
		t.Error("fallback must be invoked on dependency failure")
	}
}

func TestDoWithFallback_BusinessErrorSkipsFallback(t *testing.T) {
	caller := NewCallerWithoutMetrics(testConfig(), nil)

	var fallbackCalled bool
	err := caller.DoWithFallback(context.Background(), "dep",
		func(ctx context.Context) error { return domain.ErrInsufficientStock },
		func(ctx context.Context) error {
			fallbackCalled = true
			return nil
		},
	)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if fallbackCalled {
		t.Error("fallback must not mask a business error")
	}
}
