// Package platform abstracts the host platform services the gateway
// depends on (wall clock, secure randomness) behind small interfaces.
//
// The mobile shells each provide these natively; in Go the real
// implementations are trivial, but keeping the seam lets tests drive
// freshness windows and session identifiers deterministically without
// touching the components themselves.
package platform

import (
	"crypto/rand"
	"io"
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Entropy is a source of cryptographically secure random bytes.
type Entropy interface {
	io.Reader
}

// Platform bundles the capability seams handed to each component.
type Platform struct {
	Clock   Clock
	Entropy Entropy
}

// Real returns the production platform: system clock and crypto/rand.
func Real() Platform {
	return Platform{
		Clock:   systemClock{},
		Entropy: rand.Reader,
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a fake clock starting at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake current time.
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
