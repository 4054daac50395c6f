package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastPolicy keeps test wall-clock time negligible.
var fastPolicy = Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2.0}

func Test_Do_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Do(context.Background(), fastPolicy, "op", func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func Test_Do_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Do(context.Background(), fastPolicy, "op", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("result = %q, want ok", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func Test_Do_ExhaustionReturnsFinalError(t *testing.T) {
	t.Parallel()

	final := errors.New("still broken")
	calls := 0
	_, err := Do(context.Background(), fastPolicy, "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, final
	})
	if !errors.Is(err, final) {
		t.Fatalf("error = %v, want final attempt error", err)
	}
	if calls != fastPolicy.MaxAttempts {
		t.Errorf("calls = %d, want %d", calls, fastPolicy.MaxAttempts)
	}
}

func Test_Do_ContextCancelAbortsWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 5, InitialDelay: time.Hour, BackoffFactor: 2.0}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, p, "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancel should abort the backoff wait)", calls)
	}
}

func Test_Do_ZeroPolicyUsesDefaults(t *testing.T) {
	t.Parallel()

	// A zero policy must behave like DefaultPolicy, not "never retry".
	p := Policy{}.normalized()
	if p.MaxAttempts != DefaultPolicy.MaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", p.MaxAttempts, DefaultPolicy.MaxAttempts)
	}
	if p.InitialDelay != DefaultPolicy.InitialDelay {
		t.Errorf("InitialDelay = %v, want %v", p.InitialDelay, DefaultPolicy.InitialDelay)
	}
}
