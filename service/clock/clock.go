// Package clock abstracts the waits the ingestors and the scheduler perform so
// they can be interrupted and driven deterministically in tests.
package clock

import (
	"context"
	"time"
)

type IService interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func NewReal() IService {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep waits for d on c. It returns false if ctx was cancelled first.
func Sleep(ctx context.Context, c IService, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.After(d):
	}
	return ctx.Err() == nil
}
