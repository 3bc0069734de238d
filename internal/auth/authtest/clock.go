// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

// Package authtest provides in-memory implementations of the auth store
// contracts and a controllable clock for tests.
package authtest

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock. The zero value starts at the zero
// time; use NewFakeClock for a realistic start.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
