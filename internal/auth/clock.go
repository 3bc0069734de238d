// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import "time"

// Clock supplies the current time. Lockout windows, token lifetimes and
// reset expiry are all evaluated against it.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock, in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
