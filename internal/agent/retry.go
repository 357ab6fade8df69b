package agent

import "time"

// RetryConfig holds retry behavior for a runner's operations.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt: a runner
	// with MaxRetries=2 executes an operation at most 3 times in total. The
	// limit is exclusive of the initial attempt.
	MaxRetries int

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the delay on each subsequent retry.
	BackoffMultiplier float64

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible defaults for remote-call stages.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
	}
}

// backoff computes the delay before the given retry (1-based).
func (c RetryConfig) backoff(retry int) time.Duration {
	d := float64(c.BackoffBase)
	for i := 1; i < retry; i++ {
		d *= c.BackoffMultiplier
	}
	delay := time.Duration(d)
	if c.MaxBackoff > 0 && delay > c.MaxBackoff {
		delay = c.MaxBackoff
	}
	return delay
}
