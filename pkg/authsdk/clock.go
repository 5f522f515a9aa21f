package authsdk

import "time"

// Timer is the part of *time.Timer the Manager uses.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// Clock lets tests drive time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
