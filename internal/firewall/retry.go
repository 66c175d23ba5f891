package firewall

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrTemporary matches failures worth another attempt, such as xtables lock
// contention or a link the kernel has not published yet.
var ErrTemporary = errors.New("temporary error")

type temporaryError struct{ err error }

func (e *temporaryError) Error() string        { return e.err.Error() }
func (e *temporaryError) Unwrap() error        { return e.err }
func (e *temporaryError) Is(target error) bool { return target == ErrTemporary }

// Temporary marks err as retryable.
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &temporaryError{err: err}
}

// IsTemporary reports whether err was marked with Temporary.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrTemporary)
}

// Backoff retries temporary failures with doubling delays.
type Backoff struct {
	Attempts int
	Delay    time.Duration // wait after the first failure
	Max      time.Duration // ceiling for any single wait
	Jitter   float64       // random extra, as a fraction of the wait
}

// LockBackoff suits iptables invocations racing other xtables users.
func LockBackoff() Backoff {
	return Backoff{Attempts: 4, Delay: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.25}
}

// Do calls fn until it succeeds, fails permanently, the attempts run out or
// ctx ends. The last error is returned.
func (b Backoff) Do(ctx context.Context, fn func() error) error {
	attempts := max(b.Attempts, 1)
	var err error
	for i := range attempts {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = fn(); err == nil || !IsTemporary(err) || i == attempts-1 {
			return err
		}

		t := time.NewTimer(b.wait(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func (b Backoff) wait(attempt int) time.Duration {
	d := b.Delay << attempt
	if attempt >= 32 || d>>attempt != b.Delay || (b.Max > 0 && d > b.Max) {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration(float64(d) * b.Jitter * rand.Float64())
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}
