package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordSleep returns a Sleep func that records delays without waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	var delays []time.Duration
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		Sleep:          recordSleep(&delays),
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(delays) != 2 || delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Errorf("unexpected delays: %v", delays)
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	var calls int
	permanent := errors.New("bad request")
	err := Do(context.Background(), RetryConfig{MaxAttempts: 5}, func(_ context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Hour,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return SleepContext(ctx, d)
		},
	}

	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("temporary"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call after cancel, got %d", calls)
	}
}

func TestDoVal_QuotaBackoffSchedule(t *testing.T) {
	errQuota := errors.New("quota")
	var delays []time.Duration
	var retried []int

	cfg := QuotaBackoff(5, time.Second, func(err error) bool { return errors.Is(err, errQuota) })
	cfg.Sleep = recordSleep(&delays)
	cfg.OnRetry = func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }

	var calls int
	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (string, error) {
		calls++
		return "", errQuota
	})
	if !errors.Is(err, errQuota) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if calls != 5 {
		t.Errorf("expected 5 calls, got %d", calls)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), delays)
	}
	var total time.Duration
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("sleep %d: expected %v, got %v", i, want[i], delays[i])
		}
		total += delays[i]
	}
	if total != 62*time.Second {
		t.Errorf("expected total wait 62s, got %v", total)
	}
	if len(retried) != 5 || retried[0] != 1 || retried[4] != 5 {
		t.Errorf("unexpected retry attempts: %v", retried)
	}
}

func TestDoVal_ReturnsValueOnSuccess(t *testing.T) {
	var delays []time.Duration
	cfg := RetryConfig{MaxAttempts: 3, Sleep: recordSleep(&delays)}

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, NewTransientError(errors.New("reset"), 0)
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
}

func TestDoVal_ExhaustsAttemptsWithoutFinalSleep(t *testing.T) {
	var delays []time.Duration
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, Sleep: recordSleep(&delays)}

	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 0, NewTransientError(errors.New("503"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(delays) != 2 {
		t.Errorf("expected 2 sleeps, got %d", len(delays))
	}
}

func TestBackoff_CapsAtMax(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 2}
	if got := Backoff(5, cfg); got != 3*time.Second {
		t.Errorf("expected cap of 3s, got %v", got)
	}
}

func TestBackoff_WithJitter(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, Multiplier: 2, JitterFraction: 0.5}
	for i := 0; i < 50; i++ {
		d := Backoff(0, cfg)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(4, 250, 1000)
	if cfg.MaxAttempts != 4 || cfg.InitialBackoff != 250*time.Millisecond || cfg.MaxBackoff != time.Second {
		t.Errorf("unexpected config: %+v", cfg)
	}

	def := FromRetryConfig(0, 0, 0)
	if def.MaxAttempts != 3 {
		t.Errorf("expected default attempts, got %d", def.MaxAttempts)
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetryLogger(t *testing.T) {
	fn := RetryLogger("feed", "fetch")
	fn(1, time.Second, errors.New("boom"))
}
