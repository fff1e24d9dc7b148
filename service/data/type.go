package data

import (
	"io"

	"github.com/khaledhikmat/traffic-go/model"
)

type IService interface {
	NewError(err interface{}) error
	NewIngestorStats(stats model.IngestorStats) error
	NewSchedulerStats(stats model.SchedulerStats) error
	NewBroadcasterStats(stats model.BroadcasterStats) error
	NewPhaseEvent(evt model.PhaseEvent) error

	io.Closer
}
