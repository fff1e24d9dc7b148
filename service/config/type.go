package config

import (
	"time"

	"github.com/khaledhikmat/traffic-go/model"
)

type IService interface {
	GetModeMaxShutdownTime() int
	GetDataFolder() string
	GetHTTPBind() string
	GetStatsPeriod() int
	GetLogParameters() LogParameters
	GetTraceParameters() TraceParameters

	GetDefaultMode() model.Mode
	GetSourceAddress(mode model.Mode, dir model.Direction) model.SourceAddress
	GetFrameSize() (width, height int)
	GetSourceRetryBackoff() time.Duration
	GetReadRetryBackoff() time.Duration
	GetLiveReopenAfterFailures() int

	GetTimingParameters() TimingParameters
	GetDetectorParameters() DetectorParameters

	GetWebhookURL() string
	GetBrokerParameters() BrokerParameters
}

// TimingParameters drives the green duration formula
// clamp(MinGreen, MaxGreen, BaseGreen + PerVehicle*count) and the fixed yellow.
type TimingParameters struct {
	MinGreen   float64 `yaml:"min_green_seconds"`
	MaxGreen   float64 `yaml:"max_green_seconds"`
	BaseGreen  float64 `yaml:"base_green_seconds"`
	PerVehicle float64 `yaml:"green_seconds_per_vehicle"`
	Yellow     int     `yaml:"yellow_seconds"`
}

type DetectorParameters struct {
	ModelPath                 string  `yaml:"model_path"`
	CocoNamesPath             string  `yaml:"coco_names_path"`
	ConfidenceThreshold       float32 `yaml:"confidence_threshold"`
	ObjectConfidenceThreshold float32 `yaml:"object_confidence_threshold"`
	NMSThreshold              float32 `yaml:"nms_threshold"`
	Logging                   bool    `yaml:"logging"`
}

type BrokerParameters struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	// Encoding is json or msgpack.
	Encoding string `yaml:"encoding"`
}

// TraceParameters selects where spans go: none, stdout, or file (JSON lines
// under the data folder).
type TraceParameters struct {
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LogParameters struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}
