/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package retrier wraps fallible infrastructure calls with a bounded,
// fixed-delay retry loop
package retrier

import (
	"context"
	"fmt"
	"time"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/log"
)

const (
	// DefaultAttempts is the number of attempts used when nothing
	// is configured
	DefaultAttempts = 12

	// DefaultDelay is the pause between attempts used when nothing
	// is configured
	DefaultDelay = 8 * time.Second
)

// Retrier retries an operation a fixed number of times, sleeping a
// fixed delay between attempts. There is deliberately no exponential
// backoff: the cycler is a supervised batch job talking to APIs whose
// convergence is measured in seconds, not a high-QPS service.
type Retrier struct {
	Attempts int
	Delay    time.Duration
}

// New creates a Retrier with the given attempt ceiling and delay,
// falling back to the defaults for non-positive values
func New(attempts int, delay time.Duration) *Retrier {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Retrier{Attempts: attempts, Delay: delay}
}

// Do runs op until it succeeds, the attempt ceiling is reached, or the
// context is canceled. The returned error wraps the last failure;
// callers treat it as unrecoverable.
func (r *Retrier) Do(ctx context.Context, what string, op func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.Attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		log.Warning("Operation failed",
			"operation", what,
			"attempt", attempt,
			"maxAttempts", r.Attempts,
			"error", lastErr.Error())

		if attempt == r.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%v interrupted: %w", what, ctx.Err())
		case <-time.After(r.Delay):
		}
	}

	return fmt.Errorf("%v failed after %d attempts: %w", what, r.Attempts, lastErr)
}
