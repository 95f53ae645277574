package forwarder

import "time"

const (
	DefaultRateLimitCount = 300
	DefaultWindow         = 15 * time.Minute
	DefaultMinInterval    = 60 * time.Second
)

// Limits describe the upstream budget: RateLimitCount fetches per Window.
type Limits struct {
	RateLimitCount int
	Window         time.Duration
	MinInterval    time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.RateLimitCount <= 0 {
		l.RateLimitCount = DefaultRateLimitCount
	}
	if l.Window <= 0 {
		l.Window = DefaultWindow
	}
	if l.MinInterval <= 0 {
		l.MinInterval = DefaultMinInterval
	}
	return l
}

// Interval returns the delay before the next cycle when n accounts are
// tracked: the whole window once n reaches the budget, otherwise n's share
// of the window rounded up to the second, but never below MinInterval.
func Interval(n int, l Limits) time.Duration {
	l = l.withDefaults()
	if n >= l.RateLimitCount {
		return l.Window
	}
	if n < 0 {
		n = 0
	}
	// ceil(n * window / count) in whole seconds
	win := int64(l.Window / time.Second)
	count := int64(l.RateLimitCount)
	secs := (int64(n)*win + count - 1) / count
	d := time.Duration(secs) * time.Second
	if d < l.MinInterval {
		return l.MinInterval
	}
	return d
}
