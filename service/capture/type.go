// Package capture is the frame source contract used by the lane ingestors.
// Implementations live in sub-packages so the pipeline never links OpenCV
// directly.
package capture

import "github.com/khaledhikmat/traffic-go/model"

// Frame is a decoded image owned by whoever received it. It must be closed.
type Frame interface {
	Close() error
}

// Source is an open capture handle for one lane.
type Source interface {
	// Read returns the next frame, model.ErrEndOfStream when a video file is
	// exhausted or model.ErrRead for any other failure.
	Read() (Frame, error)
	// SeekStart rewinds a simulation source to its first frame. Live sources
	// return model.ErrSeek.
	SeekStart() error
	Address() model.SourceAddress
	Close() error
}

type IService interface {
	// Open returns model.ErrSourceUnavailable when the address cannot be opened.
	Open(addr model.SourceAddress) (Source, error)
	// Encode renders a frame as JPEG.
	Encode(frame Frame) ([]byte, error)
}
