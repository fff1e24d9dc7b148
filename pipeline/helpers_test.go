package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/capture"
	"github.com/khaledhikmat/traffic-go/service/config"
	"github.com/khaledhikmat/traffic-go/service/inference"
	"github.com/khaledhikmat/traffic-go/service/state"
)

// quickClock turns every wait into a millisecond so retry loops stay cheap.
type quickClock struct{}

func (quickClock) Now() time.Time { return time.Now() }

func (quickClock) After(time.Duration) <-chan time.Time { return time.After(time.Millisecond) }

type testFrame struct {
	id  int
	src model.SourceAddress
}

func (f *testFrame) Close() error { return nil }

type testCapture struct {
	mu sync.Mutex

	failOpens     int
	framesPerFile int
	liveReadFails bool
	seekFails     bool

	opens  []model.SourceAddress
	closes []model.SourceAddress
	seeks  int
}

func (c *testCapture) Open(addr model.SourceAddress) (capture.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOpens > 0 {
		c.failOpens--
		return nil, fmt.Errorf("open %s: %w", addr, model.ErrSourceUnavailable)
	}
	c.opens = append(c.opens, addr)
	return &testSource{c: c, addr: addr}, nil
}

func (c *testCapture) Encode(frame capture.Frame) ([]byte, error) {
	f := frame.(*testFrame)
	return []byte(fmt.Sprintf("%s#%d", f.src, f.id)), nil
}

func (c *testCapture) opened(addr model.SourceAddress) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.opens {
		if a == addr {
			return true
		}
	}
	return false
}

func (c *testCapture) closed(addr model.SourceAddress) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.closes {
		if a == addr {
			return true
		}
	}
	return false
}

func (c *testCapture) counts() (opens, closes, seeks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.opens), len(c.closes), c.seeks
}

type testSource struct {
	c    *testCapture
	addr model.SourceAddress
	pos  int
}

func (s *testSource) Read() (capture.Frame, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.addr.Mode == model.Live {
		if s.c.liveReadFails {
			return nil, model.ErrRead
		}
	} else if s.c.framesPerFile > 0 && s.pos >= s.c.framesPerFile {
		return nil, model.ErrEndOfStream
	}
	s.pos++
	return &testFrame{id: s.pos, src: s.addr}, nil
}

func (s *testSource) SeekStart() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.c.seekFails {
		return model.ErrSeek
	}
	s.c.seeks++
	s.pos = 0
	return nil
}

func (s *testSource) Address() model.SourceAddress { return s.addr }

func (s *testSource) Close() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.closes = append(s.c.closes, s.addr)
	return nil
}

// flakyDetector reports the frame id as the count and fails on even frames.
type flakyDetector struct{}

func (flakyDetector) Detect(_ context.Context, frame capture.Frame) (inference.Result, error) {
	f := frame.(*testFrame)
	if f.id%2 == 0 {
		return inference.Result{}, fmt.Errorf("frame %d: %w", f.id, model.ErrDetector)
	}
	return inference.Result{Count: f.id, Annotated: frame}, nil
}

func (flakyDetector) Close() error { return nil }

func newTestServices(capSvc capture.IService, mode model.Mode) ServicesFactory {
	return ServicesFactory{
		CfgSvc:          config.NewHardCoded(),
		StateSvc:        state.NewMemory(mode),
		CaptureSvc:      capSvc,
		DetectorFactory: inference.NewFakeFactory(4),
		Clock:           quickClock{},
	}
}
