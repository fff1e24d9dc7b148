package state

import "github.com/khaledhikmat/traffic-go/model"

// IService is the shared view of the intersection. Lane counts are written by
// the ingestors, the phase by the scheduler and the mode by the API; readers
// never block any of them.
type IService interface {
	Snapshot() model.Snapshot

	Mode() model.Mode
	SetMode(mode model.Mode) error

	Count(dir model.Direction) int
	SetCount(dir model.Direction, count int)

	Phase() model.Phase
	SetPhase(phase model.Phase)
}
