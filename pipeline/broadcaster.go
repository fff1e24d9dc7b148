package pipeline

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/lgr"
)

var ErrUnsubscribed = errors.New("subscription closed")

type laneStream struct {
	mu          sync.RWMutex
	latest      []byte
	seq         uint64
	subscribers map[string]struct{}
	n           *notifier
}

// Broadcaster keeps only the most recent JPEG of every lane. Publishing
// overwrites it and wakes the viewers; viewers that fall behind skip straight
// to the newest frame.
type Broadcaster struct {
	lanes map[model.Direction]*laneStream
}

func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		lanes: make(map[model.Direction]*laneStream, len(model.Directions)),
	}
	for _, dir := range model.Directions {
		b.lanes[dir] = &laneStream{
			subscribers: map[string]struct{}{},
			n:           newNotifier(),
		}
	}
	return b
}

// Publish never blocks on viewers. The slice must not be modified afterwards.
func (b *Broadcaster) Publish(dir model.Direction, jpeg []byte) {
	l, ok := b.lanes[dir]
	if !ok || len(jpeg) == 0 {
		return
	}

	l.mu.Lock()
	l.latest = jpeg
	l.seq = l.n.next()
	l.mu.Unlock()
}

// Latest returns the most recent frame of dir, if any was published.
func (b *Broadcaster) Latest(dir model.Direction) ([]byte, bool) {
	l, ok := b.lanes[dir]
	if !ok {
		return nil, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest, len(l.latest) > 0
}

func (b *Broadcaster) Subscribe(dir model.Direction) (*Subscription, error) {
	l, ok := b.lanes[dir]
	if !ok {
		return nil, xerrors.Errorf("subscribe %q: %w", dir, model.ErrInvalidDirection)
	}

	sub := &Subscription{
		ID:        uuid.NewString(),
		Direction: dir,
		lane:      l,
		done:      make(chan struct{}),
	}

	l.mu.Lock()
	l.subscribers[sub.ID] = struct{}{}
	count := len(l.subscribers)
	l.mu.Unlock()

	lgr.Logger.Debug("viewer subscribed",
		slog.String("direction", string(dir)),
		slog.String("subscriber", sub.ID),
		slog.Int("subscribers", count),
	)
	return sub, nil
}

func (b *Broadcaster) Stats() model.BroadcasterStats {
	stats := model.BroadcasterStats{
		Lanes:     make(map[model.Direction]model.LaneStreamStats, len(b.lanes)),
		Timestamp: time.Now().Unix(),
	}
	for dir, l := range b.lanes {
		l.mu.RLock()
		stats.Lanes[dir] = model.LaneStreamStats{
			Published:   l.seq,
			Subscribers: len(l.subscribers),
		}
		l.mu.RUnlock()
	}
	return stats
}

// Subscription is one viewer of one lane. It is not safe for concurrent use
// by more than one goroutine, except for Unsubscribe.
type Subscription struct {
	ID        string
	Direction model.Direction

	lane *laneStream
	last uint64
	once sync.Once
	done chan struct{}
}

// Next blocks until a frame newer than the last one returned is available.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	for {
		s.lane.mu.RLock()
		seq, frame := s.lane.seq, s.lane.latest
		s.lane.mu.RUnlock()

		if seq != s.last && len(frame) > 0 {
			s.last = seq
			return frame, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrUnsubscribed
		case <-s.lane.n.WaitNext(seq):
		}
	}
}

// Frames yields frames until ctx is done or the viewer unsubscribes. The
// sequence continues from wherever the subscription is, so it cannot be
// restarted.
func (s *Subscription) Frames(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			frame, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(frame) {
				return
			}
		}
	}
}

// Unsubscribe releases this viewer only. Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)

		s.lane.mu.Lock()
		delete(s.lane.subscribers, s.ID)
		s.lane.mu.Unlock()

		lgr.Logger.Debug("viewer unsubscribed",
			slog.String("direction", string(s.Direction)),
			slog.String("subscriber", s.ID),
		)
	})
}
