package session

import "time"

// Clock abstracts time for the tracker so tests can drive elapsed time
// deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
