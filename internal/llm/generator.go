package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"
)

// TextGenerator is the completion capability the pipeline depends on.
// Alternate backends (and test fakes) substitute here without touching
// orchestration logic.
type TextGenerator interface {
	// Generate returns the model's completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMError is a transient service failure that survived the retry budget.
type LLMError struct {
	Attempts int
	Err      error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// transientError wraps a failure the caller may retry: timeouts, rate limits,
// 5xx responses.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient tags an error as retryable.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether the error is worth retrying: an explicitly
// tagged transient failure, a deadline expiry, or a network timeout.
func IsTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RetryPolicy bounds the jittered exponential backoff applied to transient
// call failures.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	// CallTimeout bounds each individual call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultRetryPolicy matches the service quotas the pipeline is normally run
// against.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		CallTimeout: 60 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = d.CallTimeout
	}
	return p
}

// Retrying wraps a TextGenerator with backoff on transient failures and a
// limit on concurrent in-flight calls, so batch runs respect the service's
// quota.
type Retrying struct {
	inner    TextGenerator
	policy   RetryPolicy
	inflight chan struct{}
}

// NewRetrying builds the retrying wrapper. maxInFlight <= 0 means no
// concurrency limit.
func NewRetrying(inner TextGenerator, policy RetryPolicy, maxInFlight int) *Retrying {
	var gate chan struct{}
	if maxInFlight > 0 {
		gate = make(chan struct{}, maxInFlight)
	}
	return &Retrying{inner: inner, policy: policy.withDefaults(), inflight: gate}
}

// Generate calls the wrapped generator, retrying transient failures with
// jittered exponential backoff. Permanent failures surface immediately;
// exhausting the budget yields an LLMError. Cancellation is honored at every
// retry boundary.
func (r *Retrying) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := r.acquire(ctx); err != nil {
			return "", err
		}
		callCtx, cancel := context.WithTimeout(ctx, r.policy.CallTimeout)
		text, err := r.inner.Generate(callCtx, prompt)
		cancel()
		r.release()

		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !IsTransient(err) {
			return "", fmt.Errorf("llm: permanent failure: %w", err)
		}
		lastErr = err

		if attempt < r.policy.MaxAttempts {
			select {
			case <-time.After(r.backoff(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", &LLMError{Attempts: r.policy.MaxAttempts, Err: lastErr}
}

func (r *Retrying) acquire(ctx context.Context) error {
	if r.inflight == nil {
		return nil
	}
	select {
	case r.inflight <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Retrying) release() {
	if r.inflight != nil {
		<-r.inflight
	}
}

// backoff returns base*2^(attempt-1), capped at MaxDelay, with up to 25%
// random jitter to spread throttled retries apart.
func (r *Retrying) backoff(attempt int) time.Duration {
	delay := r.policy.BaseDelay << uint(attempt-1)
	if delay > r.policy.MaxDelay || delay <= 0 {
		delay = r.policy.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
