package state

import (
	"sync/atomic"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/traffic-go/model"
)

type memoryService struct {
	mode   atomic.Pointer[model.Mode]
	phase  atomic.Pointer[model.Phase]
	counts [4]atomic.Int64
}

// NewMemory starts in the given mode with north active and every lane RED.
func NewMemory(mode model.Mode) IService {
	svc := &memoryService{}
	svc.mode.Store(&mode)
	svc.phase.Store(&model.Phase{
		Active: model.North,
		Signal: model.Red,
		Timer:  0,
	})
	return svc
}

func (svc *memoryService) Snapshot() model.Snapshot {
	phase := *svc.phase.Load()

	lanes := make(map[model.Direction]model.LaneState, len(model.Directions))
	for i, dir := range model.Directions {
		lane := model.LaneState{
			Count:  int(svc.counts[i].Load()),
			Signal: model.Red,
		}
		if dir == phase.Active {
			lane.Signal = phase.Signal
			lane.Timer = phase.Timer
		}
		lanes[dir] = lane
	}

	return model.Snapshot{
		Mode:       *svc.mode.Load(),
		ActiveLane: phase.Active,
		Lanes:      lanes,
	}
}

func (svc *memoryService) Mode() model.Mode {
	return *svc.mode.Load()
}

func (svc *memoryService) SetMode(mode model.Mode) error {
	m, err := model.ParseMode(string(mode))
	if err != nil {
		return xerrors.Errorf("set mode: %w", err)
	}
	svc.mode.Store(&m)
	return nil
}

func (svc *memoryService) Count(dir model.Direction) int {
	i := dir.Index()
	if i < 0 {
		return 0
	}
	return int(svc.counts[i].Load())
}

func (svc *memoryService) SetCount(dir model.Direction, count int) {
	i := dir.Index()
	if i < 0 {
		return
	}
	if count < 0 {
		count = 0
	}
	svc.counts[i].Store(int64(count))
}

func (svc *memoryService) Phase() model.Phase {
	return *svc.phase.Load()
}

// SetPhase replaces the active lane, its signal and its timer in one step, so
// switching from one lane to the next never exposes two non-RED lanes.
func (svc *memoryService) SetPhase(phase model.Phase) {
	if phase.Active.Index() < 0 {
		return
	}
	svc.phase.Store(&phase)
}
