package app

import (
	"sync"
	"time"
)

// Countdown tracks the time left against an absolute deadline. Every tick
// re-derives the remaining time from the deadline instead of decrementing a
// counter, so reloads and late ticks cannot drift from wall-clock time.
type Countdown struct {
	deadline time.Time
	clock    Clock
	interval time.Duration
	onTick   func(remaining time.Duration)
	onExpire func()

	mu      sync.Mutex
	started bool
	expired bool
	stopped bool
	stop    chan struct{}
}

func NewCountdown(deadline time.Time, clock Clock, interval time.Duration, onTick func(time.Duration), onExpire func()) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{
		deadline: deadline,
		clock:    clock,
		interval: interval,
		onTick:   onTick,
		onExpire: onExpire,
		stop:     make(chan struct{}),
	}
}

// Deadline is the absolute end of the attempt.
func (c *Countdown) Deadline() time.Time {
	return c.deadline
}

// Remaining is max(deadline - now, 0).
func (c *Countdown) Remaining() time.Duration {
	remaining := c.deadline.Sub(c.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Start ticks once immediately, then on every interval until the deadline
// passes or Stop is called.
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	ticker := c.clock.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		if !c.Tick() {
			return
		}
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C():
				if !c.Tick() {
					return
				}
			}
		}
	}()
}

// Tick publishes the remaining time and fires the expiry callback exactly once
// when it reaches zero. It reports whether further ticks are wanted.
func (c *Countdown) Tick() bool {
	c.mu.Lock()
	if c.stopped || c.expired {
		c.mu.Unlock()
		return false
	}
	remaining := c.Remaining()
	if remaining <= 0 {
		c.expired = true
	}
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(remaining)
	}
	if remaining > 0 {
		return true
	}
	if c.onExpire != nil {
		c.onExpire()
	}
	return false
}

// Stop unsubscribes the countdown; later ticks are ignored.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stop)
}

// remainingSeconds rounds up so the display only shows 0 once the deadline passed.
func remainingSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
