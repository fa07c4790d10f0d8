package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastConfig keeps backoff waits negligible in tests.
func fastConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.MaxRetries <= 0 {
		t.Errorf("MaxRetries should be positive, got %d", cfg.MaxRetries)
	}
	if cfg.InitialInterval <= 0 {
		t.Errorf("InitialInterval should be positive, got %v", cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		t.Error("MaxInterval should be >= InitialInterval")
	}
}

func TestTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "rate limit", err: errors.New("rate limit exceeded"), want: true},
		{name: "quota", err: errors.New("quota exceeded for project"), want: true},
		{name: "429", err: errors.New("HTTP 429: Too Many Requests"), want: true},
		{name: "resource exhausted", err: errors.New("RESOURCE_EXHAUSTED"), want: true},
		{name: "500", err: errors.New("HTTP 500 Internal Server Error"), want: true},
		{name: "503", err: errors.New("503 Service Unavailable"), want: true},
		{name: "connection reset", err: errors.New("connection reset by peer"), want: true},
		{name: "timeout", err: errors.New("request timeout"), want: true},
		{name: "bad request", err: errors.New("HTTP 400 Bad Request"), want: false},
		{name: "invalid argument", err: errors.New("invalid argument"), want: false},
		{name: "permission denied", err: errors.New("permission denied"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Transient(tt.err); got != tt.want {
				t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	attempts := 0
	got, err := Do(context.Background(), fastConfig(), func(context.Context) (string, error) {
		attempts++
		if attempts <= 2 {
			return "", errors.New("503 service unavailable")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if attempts != 3 {
		t.Errorf("operation invoked %d times, want 3 (two retries)", attempts)
	}
}

func TestDoPermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	permanent := errors.New("invalid argument: bad request")
	attempts := 0
	_, err := Do(context.Background(), fastConfig(), func(context.Context) (int, error) {
		attempts++
		return 0, permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("err = %v, want wrapped %v", err, permanent)
	}
	if attempts != 1 {
		t.Errorf("operation invoked %d times, want 1", attempts)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	t.Parallel()

	transient := errors.New("429 too many requests")
	attempts := 0
	_, err := Do(context.Background(), fastConfig(), func(context.Context) (int, error) {
		attempts++
		return 0, transient
	})
	if !errors.Is(err, transient) {
		t.Errorf("final error should wrap the last failure, got %v", err)
	}
	if attempts != 4 {
		t.Errorf("operation invoked %d times, want 4 (initial + 3 retries)", attempts)
	}
}

func TestDoHonorsContextDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, InitialInterval: time.Hour, MaxInterval: time.Hour}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, cfg, func(context.Context) (int, error) {
			return 0, errors.New("503 unavailable")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}
