package ports

import "time"

// Clock supplies wall time. Injectable so tests can pin record ages.
type Clock interface {
	Now() time.Time
}

// RandomSource draws uniform floats in [0,1). Injectable so tests can
// force both outcomes of the probabilistic refresh window.
type RandomSource interface {
	Float64() float64
}

// ClockFunc adapts a func to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// RandomFunc adapts a func to RandomSource.
type RandomFunc func() float64

func (f RandomFunc) Float64() float64 { return f() }
