package modem

import "time"

// Clock is the monotonic time source the engine polls against. Tests
// substitute a FakeClock so timeouts elapse without real waiting.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
