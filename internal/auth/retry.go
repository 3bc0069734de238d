// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds automatic retries of a use case.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts uint64
	// Base is the first backoff delay; each retry doubles it.
	Base time.Duration
	// MaxDelay caps a single delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy tries three times starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Retry runs fn and retries it with exponential backoff while it fails with
// a retryable error (STORE_UNAVAILABLE). Any other error ends the loop. The
// last error is returned unchanged.
//
// CompletePasswordReset must not be run through Retry.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}
	if policy.Base <= 0 {
		policy.Base = DefaultRetryPolicy().Base
	}

	b := retry.NewExponential(policy.Base)
	if policy.MaxDelay > 0 {
		b = retry.WithCappedDuration(policy.MaxDelay, b)
	}
	b = retry.WithMaxRetries(policy.Attempts-1, b)

	//nolint:wrapcheck // the use case error is returned as-is
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
