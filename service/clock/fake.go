package clock

import (
	"sync"
	"time"
)

// Fake is a clock whose waits complete immediately. Every requested duration
// advances the fake time and is recorded; OnAfter, when set, runs before the
// wait completes.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Duration
	OnAfter func(d time.Duration)
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	if f.OnAfter != nil {
		f.OnAfter(d)
	}

	f.mu.Lock()
	f.now = f.now.Add(d)
	f.waits = append(f.waits, d)
	now := f.now
	f.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Waits returns a copy of every duration waited on so far.
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.waits))
	copy(out, f.waits)
	return out
}
