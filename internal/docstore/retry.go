package docstore

import (
	"context"
	"time"
)

// RetryPolicy bounds RetryUnavailable.
type RetryPolicy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultRetryPolicy retries five times from 200ms up to 5s.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:   5,
	Initial:    200 * time.Millisecond,
	Max:        5 * time.Second,
	Multiplier: 2,
}

// RetryUnavailable runs fn until it returns something other than a
// *StoreUnavailableError, backing off exponentially between attempts.
// fn must re-read whatever it writes; a version captured outside fn is
// stale after a failure.
func RetryUnavailable(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	delay := p.Initial

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !IsUnavailable(err) || attempt >= p.Attempts {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
}
