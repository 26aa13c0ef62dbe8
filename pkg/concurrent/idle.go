package concurrent

import (
	"runtime"
	"time"
)

// IdleStrategy decides how a duty-cycle runner behaves between invocations
// that produced no work.
type IdleStrategy interface {
	// Idle is called with the work count of the last duty cycle. A zero count
	// should back off; a non-zero count resets the strategy.
	Idle(workCount int)
}

// NoOpIdleStrategy spins without yielding. Useful in tests and latency-first
// deployments.
type NoOpIdleStrategy struct{}

func (NoOpIdleStrategy) Idle(int) {}

// BackoffIdleStrategy yields progressively harder: first spins, then yields
// the processor, then parks for increasing durations up to maxPark.
type BackoffIdleStrategy struct {
	spins    int
	yields   int
	minPark  time.Duration
	maxPark  time.Duration
	state    int
	parkFor  time.Duration
}

func NewBackoffIdleStrategy() *BackoffIdleStrategy {
	return &BackoffIdleStrategy{
		spins:   10,
		yields:  5,
		minPark: 50 * time.Microsecond,
		maxPark: time.Millisecond,
	}
}

func (s *BackoffIdleStrategy) Idle(workCount int) {
	if workCount > 0 {
		s.state = 0
		s.parkFor = 0
		return
	}
	switch {
	case s.state < s.spins:
		s.state++
	case s.state < s.spins+s.yields:
		s.state++
		runtime.Gosched()
	default:
		if s.parkFor < s.minPark {
			s.parkFor = s.minPark
		} else if s.parkFor < s.maxPark {
			s.parkFor *= 2
			if s.parkFor > s.maxPark {
				s.parkFor = s.maxPark
			}
		}
		time.Sleep(s.parkFor)
	}
}
