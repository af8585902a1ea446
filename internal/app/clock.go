package app

import "time"

// Clock supplies the current instant to every time-dependent decision.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
