package notifications

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyNotifier struct {
	err   error
	calls int
}

func (f *flakyNotifier) SendEmailVerification(ctx context.Context, in EmailVerificationInput) error {
	f.calls++
	return f.err
}

func TestProtectedNotifier_OpensAfterThreshold(t *testing.T) {
	inner := &flakyNotifier{err: errors.New("provider down")}
	n := NewProtectedNotifier(inner, ProtectedNotifierConfig{
		Timeout:          time.Second,
		FailureThreshold: 2,
		Cooldown:         time.Hour,
	})

	in := EmailVerificationInput{Email: "sam@example.com"}

	for i := 0; i < 2; i++ {
		if err := n.SendEmailVerification(context.Background(), in); err == nil {
			t.Fatalf("call %d: expected provider error", i)
		}
	}

	if n.State() != "open" {
		t.Fatalf("state = %s, want open", n.State())
	}

	if err := n.SendEmailVerification(context.Background(), in); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	if inner.calls != 2 {
		t.Fatalf("inner called %d times, want 2", inner.calls)
	}
}

func TestProtectedNotifier_HalfOpenRecovers(t *testing.T) {
	inner := &flakyNotifier{err: errors.New("provider down")}
	n := NewProtectedNotifier(inner, ProtectedNotifierConfig{
		FailureThreshold: 1,
		Cooldown:         time.Millisecond,
	})

	in := EmailVerificationInput{Email: "sam@example.com"}

	_ = n.SendEmailVerification(context.Background(), in)
	if n.State() != "open" {
		t.Fatalf("state = %s, want open", n.State())
	}

	clock := time.Now().Add(time.Second)
	n.now = func() time.Time { return clock }
	inner.err = nil

	if err := n.SendEmailVerification(context.Background(), in); err != nil {
		t.Fatalf("half-open trial failed: %v", err)
	}

	if n.State() != "closed" {
		t.Fatalf("state = %s, want closed", n.State())
	}
}

func TestProtectedNotifier_CallerCancellationDoesNotTrip(t *testing.T) {
	inner := &flakyNotifier{err: context.Canceled}
	n := NewProtectedNotifier(inner, ProtectedNotifierConfig{FailureThreshold: 1, Cooldown: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.SendEmailVerification(ctx, EmailVerificationInput{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n.State() != "closed" {
		t.Fatalf("state = %s, want closed", n.State())
	}
}

func TestProtectedNotifier_HalfOpenFailureReopens(t *testing.T) {
	inner := &flakyNotifier{err: errors.New("provider down")}
	n := NewProtectedNotifier(inner, ProtectedNotifierConfig{FailureThreshold: 1, Cooldown: time.Minute})

	start := time.Now()
	clock := start
	n.now = func() time.Time { return clock }

	_ = n.SendEmailVerification(context.Background(), EmailVerificationInput{})

	clock = start.Add(2 * time.Minute)
	if err := n.SendEmailVerification(context.Background(), EmailVerificationInput{}); errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected a half-open trial call, got %v", err)
	}
	if n.State() != "open" {
		t.Fatalf("state = %s, want open", n.State())
	}
	if inner.calls != 2 {
		t.Fatalf("inner called %d times, want 2", inner.calls)
	}
}

func TestLogNotifier_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewLogNotifier(nil).SendEmailVerification(ctx, EmailVerificationInput{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
