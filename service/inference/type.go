// Package inference is the vehicle detector contract consumed by the lane
// ingestors.
package inference

import (
	"context"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/capture"
)

type Result struct {
	Count int
	// Annotated is the frame to broadcast. It may be the input frame itself;
	// if not, the caller owns and closes it.
	Annotated capture.Frame
}

// IService counts vehicles in a frame. Failures wrap model.ErrDetector.
// Implementations are not required to be safe for concurrent use; each lane
// gets its own instance.
type IService interface {
	Detect(ctx context.Context, frame capture.Frame) (Result, error)
	Close() error
}

// Factory builds the detector for one lane.
type Factory func(dir model.Direction) (IService, error)
