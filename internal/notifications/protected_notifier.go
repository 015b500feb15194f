package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	stateClosed   circuitState = "closed"
	stateOpen     circuitState = "open"
	stateHalfOpen circuitState = "half_open"
)

type ProtectedNotifierConfig struct {
	Timeout          time.Duration // hard timeout per send
	FailureThreshold int           // consecutive failures to open circuit
	Cooldown         time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // allow N trial calls in half-open
	Log              *slog.Logger
}

// ProtectedNotifier wraps a Notifier with a per-send timeout and a circuit
// breaker so a failing mail provider stops being called for a while.
type ProtectedNotifier struct {
	inner Notifier
	cfg   ProtectedNotifierConfig
	mu    sync.Mutex

	state circuitState

	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int

	log *slog.Logger
	now func() time.Time
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig) *ProtectedNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &ProtectedNotifier{
		inner: inner,
		cfg:   cfg,
		state: stateClosed,
		log:   log,
		now:   time.Now,
	}
}

func (n *ProtectedNotifier) SendEmailVerification(ctx context.Context, input EmailVerificationInput) error {
	return n.call(ctx, func(sendCtx context.Context) error {
		return n.inner.SendEmailVerification(sendCtx, input)
	})
}

func (n *ProtectedNotifier) call(ctx context.Context, send func(context.Context) error) error {
	if !n.admit() {
		return ErrCircuitOpen
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	err := send(sendCtx)

	// the caller going away says nothing about the provider
	if err != nil && ctx.Err() != nil {
		n.release()
		return err
	}

	n.record(err)
	return err
}

// State reports "closed", "open" or "half_open".
func (n *ProtectedNotifier) State() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return string(n.state)
}

func (n *ProtectedNotifier) admit() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == stateOpen {
		if n.now().Sub(n.openedAt) < n.cfg.Cooldown {
			return false
		}
		n.setState(stateHalfOpen)
		n.halfOpenInFlight = 0
	}

	if n.state == stateHalfOpen {
		if n.halfOpenInFlight >= n.cfg.HalfOpenMaxCalls {
			return false
		}
		n.halfOpenInFlight++
	}
	return true
}

// release frees a half-open slot without judging the outcome.
func (n *ProtectedNotifier) release() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == stateHalfOpen && n.halfOpenInFlight > 0 {
		n.halfOpenInFlight--
	}
}

func (n *ProtectedNotifier) record(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	wasHalfOpen := n.state == stateHalfOpen
	if wasHalfOpen && n.halfOpenInFlight > 0 {
		n.halfOpenInFlight--
	}

	if err == nil {
		n.consecutiveFailures = 0
		n.setState(stateClosed)
		return
	}

	n.consecutiveFailures++
	if wasHalfOpen || n.consecutiveFailures >= n.cfg.FailureThreshold {
		n.openedAt = n.now()
		n.setState(stateOpen)
	}
}

// setState must be called with mu held.
func (n *ProtectedNotifier) setState(next circuitState) {
	if n.state == next {
		return
	}
	n.log.Warn("notifier_circuit_state", "from", string(n.state), "to", string(next), "failures", n.consecutiveFailures)
	n.state = next
}
