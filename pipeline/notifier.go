package pipeline

import "sync"

// notifier wakes every waiter when a new frame is published. Each publish
// bumps seq and closes the current channel.
type notifier struct {
	mu  sync.Mutex
	ch  chan struct{}
	seq uint64
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) next() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	close(n.ch)
	n.ch = make(chan struct{})
	return n.seq
}

// WaitNext returns a channel that is closed once seq moves past since.
func (n *notifier) WaitNext(since uint64) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if since != n.seq {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return n.ch
}
