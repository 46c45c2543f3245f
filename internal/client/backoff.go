package client

import (
	"math/rand/v2"
	"time"
)

// nextBackoff returns the reconnect delay for the given attempt number:
// exponential growth from base, capped at max, with jitter over the upper
// half so simultaneous reconnects spread out without losing the floor.
func nextBackoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int64N(int64(half)+1))
}
