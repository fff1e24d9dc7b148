package data

import (
	"sync"

	"github.com/khaledhikmat/traffic-go/model"
)

// Memory keeps everything it is given. It backs tests and runs without a
// data folder.
type Memory struct {
	mu          sync.Mutex
	Errors      []interface{}
	Ingestors   []model.IngestorStats
	Schedulers  []model.SchedulerStats
	Broadcaster []model.BroadcasterStats
	Phases      []model.PhaseEvent
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) NewError(err interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, err)
	return nil
}

func (m *Memory) NewIngestorStats(stats model.IngestorStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ingestors = append(m.Ingestors, stats)
	return nil
}

func (m *Memory) NewSchedulerStats(stats model.SchedulerStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Schedulers = append(m.Schedulers, stats)
	return nil
}

func (m *Memory) NewBroadcasterStats(stats model.BroadcasterStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Broadcaster = append(m.Broadcaster, stats)
	return nil
}

func (m *Memory) NewPhaseEvent(evt model.PhaseEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Phases = append(m.Phases, evt)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Len reports how many records of each kind were stored.
func (m *Memory) Len() (errs, ingestors, schedulers, phases int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Errors), len(m.Ingestors), len(m.Schedulers), len(m.Phases)
}
