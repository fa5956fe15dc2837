package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
		Multiplier:  1.0,
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("rejected")
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent errors must not retry, got %d attempts", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		return Transient(errors.New("still down"))
	})
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if !IsTransient(err) {
		t.Error("the last error should keep its transient marker")
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastPolicy(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", Transient(errors.New("flaky"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
}

func TestDoRespectsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 0, InitialWait: time.Hour, Multiplier: 1.0, MaxWait: time.Hour}, func() error {
		calls++
		cancel()
		return Transient(errors.New("flaky"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt before cancel, got %d", calls)
	}
}

func TestTransientWrapping(t *testing.T) {
	if Transient(nil) != nil {
		t.Error("wrapping nil should stay nil")
	}

	base := errors.New("boom")
	wrapped := Transient(base)
	if !IsTransient(wrapped) {
		t.Error("expected transient marker")
	}
	if !errors.Is(wrapped, base) {
		t.Error("unwrapping should reach the base error")
	}

	// The marker survives further wrapping.
	deeper := fmt.Errorf("request failed: %w", wrapped)
	if !IsTransient(deeper) {
		t.Error("transient marker should survive wrapping")
	}

	if IsTransient(base) {
		t.Error("unmarked errors are not transient")
	}
}
