package config

import (
	"path/filepath"
	"time"

	"github.com/khaledhikmat/traffic-go/model"
)

// settings holds every configurable value. The hardcoded defaults below are
// overridden by the YAML file and then by environment variables.
type settings struct {
	ShutdownWaitSeconds int           `yaml:"shutdown_wait_seconds"`
	DataFolder          string        `yaml:"data_folder"`
	HTTPBind            string        `yaml:"http_bind"`
	StatsPeriodSeconds  int           `yaml:"stats_period_seconds"`
	Log                 LogParameters   `yaml:"log"`
	Trace               TraceParameters `yaml:"trace"`

	DefaultMode             model.Mode                 `yaml:"default_mode"`
	SimulationSources       map[model.Direction]string `yaml:"simulation_sources"`
	LiveSources             map[model.Direction]string `yaml:"live_sources"`
	FrameWidth              int                        `yaml:"frame_width"`
	FrameHeight             int                        `yaml:"frame_height"`
	SourceRetryBackoffMS    int                        `yaml:"source_retry_backoff_ms"`
	ReadRetryBackoffMS      int                        `yaml:"read_retry_backoff_ms"`
	LiveReopenAfterFailures int                        `yaml:"live_reopen_after_failures"`

	Timing   TimingParameters   `yaml:"timing"`
	Detector DetectorParameters `yaml:"detector"`

	WebhookURL string           `yaml:"webhook_url"`
	Broker     BrokerParameters `yaml:"broker"`
}

func defaults() settings {
	const videoDir = "videos"

	return settings{
		ShutdownWaitSeconds: 5,
		DataFolder:          "./data",
		HTTPBind:            ":5000",
		StatsPeriodSeconds:  30,
		Log: LogParameters{
			Level: "info",
		},
		Trace: TraceParameters{
			Exporter:    "file",
			SampleRatio: 0.1,
		},

		DefaultMode: model.Simulation,
		SimulationSources: map[model.Direction]string{
			model.North: filepath.Join(videoDir, "north.mp4"),
			model.South: filepath.Join(videoDir, "south.mp4"),
			model.East:  filepath.Join(videoDir, "east.mp4"),
			model.West:  filepath.Join(videoDir, "west.mp4"),
		},
		LiveSources: map[model.Direction]string{
			model.North: "0",
			model.South: "1",
			model.East:  "2",
			model.West:  "3",
		},
		FrameWidth:              1280,
		FrameHeight:             720,
		SourceRetryBackoffMS:    1000,
		ReadRetryBackoffMS:      1000,
		LiveReopenAfterFailures: 3,

		Timing: TimingParameters{
			MinGreen:   5,
			MaxGreen:   60,
			BaseGreen:  5,
			PerVehicle: 1.5,
			Yellow:     3,
		},
		Detector: DetectorParameters{
			ModelPath:                 "./yolo5/yolov5s.onnx",
			CocoNamesPath:             "./yolo5/coco.names",
			ConfidenceThreshold:       0.5,
			ObjectConfidenceThreshold: 0.4,
			NMSThreshold:              0.45,
			Logging:                   false,
		},

		Broker: BrokerParameters{
			ClientID: "traffic-controller",
			Topic:    "intersection/phases",
			Encoding: "json",
		},
	}
}

type hardcodedService struct {
	s settings
}

// NewHardCoded returns the built-in defaults without consulting the
// environment or any file.
func NewHardCoded() IService {
	return &hardcodedService{s: defaults()}
}

func (svc *hardcodedService) GetModeMaxShutdownTime() int {
	return svc.s.ShutdownWaitSeconds
}

func (svc *hardcodedService) GetDataFolder() string {
	return svc.s.DataFolder
}

func (svc *hardcodedService) GetHTTPBind() string {
	return svc.s.HTTPBind
}

func (svc *hardcodedService) GetStatsPeriod() int {
	return svc.s.StatsPeriodSeconds
}

func (svc *hardcodedService) GetLogParameters() LogParameters {
	return svc.s.Log
}

func (svc *hardcodedService) GetTraceParameters() TraceParameters {
	return svc.s.Trace
}

func (svc *hardcodedService) GetDefaultMode() model.Mode {
	return svc.s.DefaultMode
}

func (svc *hardcodedService) GetSourceAddress(mode model.Mode, dir model.Direction) model.SourceAddress {
	target := svc.s.SimulationSources[dir]
	if mode == model.Live {
		target = svc.s.LiveSources[dir]
	}
	return model.SourceAddress{
		Mode:      mode,
		Direction: dir,
		Target:    target,
	}
}

func (svc *hardcodedService) GetFrameSize() (int, int) {
	return svc.s.FrameWidth, svc.s.FrameHeight
}

func (svc *hardcodedService) GetSourceRetryBackoff() time.Duration {
	return time.Duration(svc.s.SourceRetryBackoffMS) * time.Millisecond
}

func (svc *hardcodedService) GetReadRetryBackoff() time.Duration {
	return time.Duration(svc.s.ReadRetryBackoffMS) * time.Millisecond
}

func (svc *hardcodedService) GetLiveReopenAfterFailures() int {
	return svc.s.LiveReopenAfterFailures
}

func (svc *hardcodedService) GetTimingParameters() TimingParameters {
	return svc.s.Timing
}

func (svc *hardcodedService) GetDetectorParameters() DetectorParameters {
	return svc.s.Detector
}

func (svc *hardcodedService) GetWebhookURL() string {
	return svc.s.WebhookURL
}

func (svc *hardcodedService) GetBrokerParameters() BrokerParameters {
	return svc.s.Broker
}
