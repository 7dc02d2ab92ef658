// Package retry decides when a failed page collection is attempted again.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// Config tunes the exponential policy.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Policy is an exponential backoff policy with jitter. MaxAttempts counts the
// first attempt, so 3 means one try plus two retries.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      func(limit time.Duration) time.Duration
}

// Option customises a Policy.
type Option func(*Policy)

// WithJitter replaces the random jitter source.
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(p *Policy) {
		if fn != nil {
			p.jitter = fn
		}
	}
}

// New builds a policy, filling unset fields with defaults.
func New(cfg Config, opts ...Option) *Policy {
	p := &Policy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.InitialDelay,
		maxDelay:    cfg.MaxDelay,
		jitter:      randomJitter,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 2 * time.Second
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = max(30*time.Second, p.baseDelay)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxAttempts returns the attempt ceiling.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Retryable reports whether err is a transient automation failure.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, discovery.ErrBotDetected) || errors.Is(err, discovery.ErrNavigatorTimeout)
}

// ShouldRetry decides whether another attempt follows attempt (1-based).
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.maxAttempts && Retryable(err)
}

// Backoff returns the wait before the attempt following attempt (1-based).
func (p *Policy) Backoff(attempt int) time.Duration {
	exp := max(attempt-1, 0)
	delay := float64(p.baseDelay) * math.Pow(2, float64(exp))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + p.jitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
