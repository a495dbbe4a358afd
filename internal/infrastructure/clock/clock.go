// Package clock provides the real and fake time sources devicecore's
// repository.Clock interface is backed by.
package clock

import "time"

// System is the production repository.Clock, a thin wrapper over
// time.Now so tests can inject a Fake instead.
type System struct{}

// New returns the production clock.
func New() System { return System{} }

func (System) Now() time.Time { return time.Now() }

// Fake is a manually advanced clock for deterministic tests of TTLs,
// throttle windows and journal ordering.
type Fake struct {
	now time.Time
}

// NewFake returns a Fake pinned at t.
func NewFake(t time.Time) *Fake { return &Fake{now: t} }

func (f *Fake) Now() time.Time { return f.now }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) { f.now = f.now.Add(d) }

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) { f.now = t }
