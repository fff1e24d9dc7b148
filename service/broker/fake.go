package broker

import "sync"

type Message struct {
	Subtopic string
	Payload  interface{}
}

// Fake keeps published messages in memory.
type Fake struct {
	mu       sync.Mutex
	messages []Message
}

func NewFake() *Fake {
	return &Fake{}
}

func (svc *Fake) Publish(subtopic string, payload interface{}) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.messages = append(svc.messages, Message{Subtopic: subtopic, Payload: payload})
	return nil
}

func (svc *Fake) Close() error {
	return nil
}

func (svc *Fake) Messages() []Message {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]Message, len(svc.messages))
	copy(out, svc.messages)
	return out
}
