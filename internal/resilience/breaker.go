// Package resilience keeps best-effort record mirrors from slowing down the
// audit trail when their backend is unavailable.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/port/auditstore"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker opens after maxFailures consecutive failures and rejects calls
// until the cooldown elapses. The first call after the cooldown is a probe:
// success closes the circuit, failure reopens it.
type Breaker struct {
	name        string
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	now         func() time.Time
}

// NewBreaker creates a named breaker. maxFailures below 1 is treated as 1.
func NewBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// State reports "closed", "open" or "half_open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = stateHalfOpen
		return true
	default:
		return true
	}
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		if b.state != stateOpen {
			slog.Warn("circuit opened", "breaker", b.name, "failures", b.failures, "cooldown", b.cooldown)
		}
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	if b.state != stateClosed {
		slog.Info("circuit closed", "breaker", b.name)
	}
	b.failures = 0
	b.state = stateClosed
}

// Sink guards a record sink with a breaker. While the circuit is open,
// records are dropped for this sink, counted, and Publish returns nil.
type Sink struct {
	next    auditstore.Sink
	breaker *Breaker
	skipped atomic.Int64
}

// GuardSink wraps next with a breaker named after the sink.
func GuardSink(name string, next auditstore.Sink, maxFailures int, cooldown time.Duration) *Sink {
	return &Sink{next: next, breaker: NewBreaker(name, maxFailures, cooldown)}
}

// Publish forwards rec to the wrapped sink.
func (s *Sink) Publish(ctx context.Context, rec *audit.Record, location string) error {
	err := s.breaker.Execute(func() error {
		return s.next.Publish(ctx, rec, location)
	})
	if errors.Is(err, ErrCircuitOpen) {
		s.skipped.Add(1)
		slog.Debug("record not mirrored", "breaker", s.breaker.name, "audit_record_id", rec.ID)
		return nil
	}
	return err
}

// State reports the breaker state of the sink.
func (s *Sink) State() string { return s.breaker.State() }

// Skipped returns how many records were dropped while the circuit was open.
func (s *Sink) Skipped() int64 { return s.skipped.Load() }
