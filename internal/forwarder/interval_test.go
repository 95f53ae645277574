package forwarder

import (
	"testing"
	"time"
)

func TestInterval(t *testing.T) {
	t.Parallel()
	def := Limits{}
	cases := []struct {
		name string
		n    int
		l    Limits
		want time.Duration
	}{
		{"no accounts", 0, def, 60 * time.Second},
		{"one account", 1, def, 60 * time.Second},
		{"few accounts clamp to minimum", 10, def, 60 * time.Second},
		{"twenty accounts", 20, def, 60 * time.Second},
		{"share of window", 100, def, 300 * time.Second},
		{"rounds up", 101, def, 303 * time.Second},
		{"half the budget", 150, def, 450 * time.Second},
		{"just below budget", 299, def, 897 * time.Second},
		{"at budget", 300, def, 15 * time.Minute},
		{"over budget", 1000, def, 15 * time.Minute},
		{"custom limits", 3, Limits{RateLimitCount: 10, Window: 100 * time.Second, MinInterval: time.Second}, 30 * time.Second},
		{"custom ceil", 1, Limits{RateLimitCount: 3, Window: 10 * time.Second, MinInterval: time.Second}, 4 * time.Second},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Interval(tc.n, tc.l); got != tc.want {
				t.Fatalf("Interval(%d)=%v want %v", tc.n, got, tc.want)
			}
		})
	}
}

func TestIntervalIsMonotonic(t *testing.T) {
	t.Parallel()
	prev := time.Duration(0)
	for n := 0; n <= 400; n++ {
		got := Interval(n, Limits{})
		if got < prev {
			t.Fatalf("Interval(%d)=%v is below Interval(%d)=%v", n, got, n-1, prev)
		}
		if got < DefaultMinInterval || got > DefaultWindow {
			t.Fatalf("Interval(%d)=%v out of bounds", n, got)
		}
		prev = got
	}
}
