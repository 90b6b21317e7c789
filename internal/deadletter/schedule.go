package deadletter

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultDelays is the wait before the first, second and third retry.
var DefaultDelays = []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}

// Schedule is a fixed, bounded backoff.BackOff. Once the delays are used up
// it returns backoff.Stop.
type Schedule struct {
	delays  []time.Duration
	attempt int
}

func NewSchedule(delays ...time.Duration) *Schedule {
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	return &Schedule{delays: delays}
}

func (s *Schedule) NextBackOff() time.Duration {
	if s.attempt >= len(s.delays) {
		return backoff.Stop
	}
	d := s.delays[s.attempt]
	s.attempt++
	return d
}

func (s *Schedule) Reset() {
	s.attempt = 0
}

// Len is the number of automatic retries the schedule allows.
func (s *Schedule) Len() int {
	return len(s.delays)
}

// NextRetryAt returns when the next retry is due after retryCount failed
// retries, or nil when the event is not retryable or the schedule is spent.
func NextRetryAt(b backoff.BackOff, retryCount int, retryable bool, now time.Time) *time.Time {
	if !retryable || retryCount < 0 {
		return nil
	}

	b.Reset()
	d := b.NextBackOff()
	for i := 0; i < retryCount && d != backoff.Stop; i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop {
		return nil
	}

	at := now.Add(d)
	return &at
}
