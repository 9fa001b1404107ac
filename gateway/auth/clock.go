package auth

import "time"

// Clock abstracts time for the poll loop.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives once d has
	// elapsed.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// RealClock returns a Clock backed by package time.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
