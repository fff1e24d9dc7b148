package webhook

import (
	"context"
	"sync"
)

// Fake records every payload instead of posting it.
type Fake struct {
	mu       sync.Mutex
	payloads []interface{}
}

func NewFake() *Fake {
	return &Fake{}
}

func (svc *Fake) Post(_ context.Context, payload interface{}) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.payloads = append(svc.payloads, payload)
	return nil
}

func (svc *Fake) Payloads() []interface{} {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]interface{}, len(svc.payloads))
	copy(out, svc.payloads)
	return out
}
