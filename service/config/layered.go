package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/khaledhikmat/traffic-go/model"
)

const DefaultFile = "./settings/intersection.yaml"

// New layers the hardcoded defaults, the YAML file at path (skipped when it
// does not exist) and environment variable overrides, in that order.
func New(path string) (IService, error) {
	s := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, xerrors.Errorf("reading config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return nil, xerrors.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&s); err != nil {
		return nil, err
	}

	if err := validate(s); err != nil {
		return nil, err
	}

	return &hardcodedService{s: s}, nil
}

func applyEnv(s *settings) error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, xerrors.Errorf("env %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, xerrors.Errorf("env %s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	setInt("SHUTDOWN_WAIT_SECONDS", &s.ShutdownWaitSeconds)
	setString("DATA_FOLDER", &s.DataFolder)
	setString("HTTP_BIND", &s.HTTPBind)
	setInt("STATS_PERIOD_SECONDS", &s.StatsPeriodSeconds)
	setString("LOG_LEVEL", &s.Log.Level)
	setString("LOG_FILE", &s.Log.File)
	setString("TRACE_EXPORTER", &s.Trace.Exporter)
	setFloat("TRACE_SAMPLE_RATIO", &s.Trace.SampleRatio)

	if v, ok := lookup("DEFAULT_MODE"); ok {
		s.DefaultMode = model.Mode(v)
	}
	for _, dir := range model.Directions {
		upper := strings.ToUpper(string(dir))
		if v, ok := lookup("SIM_SOURCE_" + upper); ok {
			s.SimulationSources[dir] = v
		}
		if v, ok := lookup("LIVE_SOURCE_" + upper); ok {
			s.LiveSources[dir] = v
		}
	}
	setInt("FRAME_WIDTH", &s.FrameWidth)
	setInt("FRAME_HEIGHT", &s.FrameHeight)
	setInt("SOURCE_RETRY_BACKOFF_MS", &s.SourceRetryBackoffMS)
	setInt("READ_RETRY_BACKOFF_MS", &s.ReadRetryBackoffMS)
	setInt("LIVE_REOPEN_AFTER_FAILURES", &s.LiveReopenAfterFailures)

	setFloat("MIN_GREEN_SECONDS", &s.Timing.MinGreen)
	setFloat("MAX_GREEN_SECONDS", &s.Timing.MaxGreen)
	setFloat("BASE_GREEN_SECONDS", &s.Timing.BaseGreen)
	setFloat("GREEN_SECONDS_PER_VEHICLE", &s.Timing.PerVehicle)
	setInt("YELLOW_SECONDS", &s.Timing.Yellow)

	setString("DETECTOR_MODEL_PATH", &s.Detector.ModelPath)
	setString("DETECTOR_NAMES_PATH", &s.Detector.CocoNamesPath)

	setString("WEBHOOK_URL", &s.WebhookURL)
	setString("MQTT_BROKER", &s.Broker.Broker)
	setString("MQTT_CLIENT_ID", &s.Broker.ClientID)
	setString("MQTT_TOPIC", &s.Broker.Topic)
	setString("MQTT_ENCODING", &s.Broker.Encoding)

	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func validate(s settings) error {
	if _, err := model.ParseMode(string(s.DefaultMode)); err != nil {
		return xerrors.Errorf("default mode: %w", err)
	}
	for _, dir := range model.Directions {
		if s.SimulationSources[dir] == "" {
			return xerrors.Errorf("no simulation source for %s", dir)
		}
		if s.LiveSources[dir] == "" {
			return xerrors.Errorf("no live source for %s", dir)
		}
	}
	t := s.Timing
	if t.MinGreen <= 0 || t.MaxGreen < t.MinGreen {
		return xerrors.Errorf("green bounds must satisfy 0 < min <= max, got [%g, %g]", t.MinGreen, t.MaxGreen)
	}
	if t.Yellow <= 0 {
		return xerrors.Errorf("yellow seconds must be positive, got %d", t.Yellow)
	}
	if s.StatsPeriodSeconds <= 0 {
		return xerrors.Errorf("stats period must be positive, got %d", s.StatsPeriodSeconds)
	}
	if s.FrameWidth <= 0 || s.FrameHeight <= 0 {
		return xerrors.Errorf("invalid frame size %dx%d", s.FrameWidth, s.FrameHeight)
	}
	switch s.Trace.Exporter {
	case "none", "stdout", "file":
	default:
		return xerrors.Errorf("unsupported trace exporter %q", s.Trace.Exporter)
	}
	if s.Trace.SampleRatio < 0 || s.Trace.SampleRatio > 1 {
		return xerrors.Errorf("trace sample ratio must be within [0, 1], got %g", s.Trace.SampleRatio)
	}
	switch s.Broker.Encoding {
	case "json", "msgpack":
	default:
		return xerrors.Errorf("unsupported broker encoding %q", s.Broker.Encoding)
	}
	return nil
}
