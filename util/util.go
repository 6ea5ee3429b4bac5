// Package util contains misc internal utilities.
package util

import "time"

// Limiter is a type which can check that a value is in a range.
// The zero value has Min == Max == 0, which Check treats as "no limit".
type Limiter struct {
	// Min is the lower bound of the limit
	Min float64 `json:"min" yaml:"Min"`

	// Max is the upper bound of the limit
	Max float64 `json:"max" yaml:"Max"`
}

// Check returns true if Min <= v <= Max
func (l Limiter) Check(v float64) bool {
	if l.Min == 0 && l.Max == 0 {
		return true
	}
	return v >= l.Min && v <= l.Max
}

// Clamp restricts v to the range of low < v < high
func Clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// SecsToDuration converts a float number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
