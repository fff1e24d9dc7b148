package model

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrEndOfStream       = errors.New("end of stream")
	ErrRead              = errors.New("read error")
	ErrSeek              = errors.New("seek error")
	ErrInvalidMode       = errors.New("invalid mode")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrDetector          = errors.New("detector failure")
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

// Direction is one of the four approaches to the intersection.
type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
)

// Directions is the fixed signal cycle order.
var Directions = []Direction{North, South, East, West}

func ParseDirection(s string) (Direction, error) {
	for _, d := range Directions {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// Index returns the position of d in the cycle or -1.
func (d Direction) Index() int {
	for i, x := range Directions {
		if x == d {
			return i
		}
	}
	return -1
}

// Next returns the direction that follows d in the cycle, wrapping around.
func (d Direction) Next() Direction {
	return Directions[(d.Index()+1)%len(Directions)]
}

type Mode string

const (
	Live       Mode = "LIVE"
	Simulation Mode = "SIMULATION"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Live, Simulation:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

type Signal string

const (
	Red    Signal = "RED"
	Yellow Signal = "YELLOW"
	Green  Signal = "GREEN"
)

type LaneState struct {
	Count  int    `json:"count"`
	Signal Signal `json:"signal"`
	Timer  int    `json:"timer"`
}

// Snapshot is a point-in-time view of the whole intersection.
type Snapshot struct {
	Mode       Mode                    `json:"mode"`
	ActiveLane Direction               `json:"active_lane"`
	Lanes      map[Direction]LaneState `json:"lanes"`
}

// Phase is the scheduler-owned part of the intersection: the active lane, its
// signal and its timer. Every other lane is RED with a zero timer.
type Phase struct {
	Active Direction `json:"active"`
	Signal Signal    `json:"signal"`
	Timer  int       `json:"timer"`
}

// SourceAddress identifies the capture source a lane should be reading from.
type SourceAddress struct {
	Mode      Mode      `json:"mode"`
	Direction Direction `json:"direction"`
	Target    string    `json:"target"`
}

func (a SourceAddress) String() string {
	return fmt.Sprintf("%s/%s:%s", a.Mode, a.Direction, a.Target)
}

type PhaseEvent struct {
	Direction Direction `json:"direction" msgpack:"direction"`
	Signal    Signal    `json:"signal" msgpack:"signal"`
	Seconds   int       `json:"seconds" msgpack:"seconds"`
	Count     int       `json:"count" msgpack:"count"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

type IngestorStats struct {
	ID               string    `json:"id"`
	Direction        Direction `json:"direction"`
	Frames           int       `json:"frames"`
	Errors           int       `json:"errors"`
	DetectorFailures int       `json:"detectorFailures"`
	Opens            int       `json:"opens"`
	Seeks            int       `json:"seeks"`
	FPS              int       `json:"fps"`
	Uptime           int64     `json:"uptime"`
	Timestamp        int64     `json:"timestamp"`
}

type SchedulerStats struct {
	Cycles       int64             `json:"cycles"`
	GreenSeconds map[Direction]int `json:"greenSeconds"`
	Counts       map[Direction]int `json:"counts"`
	Uptime       int64             `json:"uptime"`
	Timestamp    int64             `json:"timestamp"`
}

type BroadcasterStats struct {
	Lanes     map[Direction]LaneStreamStats `json:"lanes"`
	Timestamp int64                         `json:"timestamp"`
}

type LaneStreamStats struct {
	Published   uint64 `json:"published"`
	Subscribers int    `json:"subscribers"`
}
