package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

const maxShift = 62

// Delay returns the wait before the given attempt (1-based). The first
// attempt never waits.
func Delay(attempt int, initial, maxDelay time.Duration) time.Duration {
	if attempt < 2 || initial <= 0 {
		return 0
	}

	shift := attempt - 2
	if shift > maxShift {
		shift = maxShift
	}

	multiplier := int64(1) << shift
	delay := time.Duration(math.MaxInt64)
	if int64(initial) <= math.MaxInt64/multiplier {
		delay = time.Duration(int64(initial) * multiplier)
	}

	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Schedule lists the delays between consecutive attempts: maxAttempts-1
// entries.
func Schedule(s Settings) []time.Duration {
	if s.MaxAttempts < 2 {
		return nil
	}

	delays := make([]time.Duration, 0, s.MaxAttempts-1)
	for n := 2; n <= s.MaxAttempts; n++ {
		delays = append(delays, Delay(n, s.InitialDelay, s.MaxDelay))
	}
	return delays
}

// SleepWithContext waits for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
