package application

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// SystemClock hands out strictly increasing UTC instants at microsecond
// precision, the finest resolution every supported store round-trips.
type SystemClock struct {
	mu   sync.Mutex
	last time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}
