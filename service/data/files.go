package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/config"
)

// filesDBService appends every entity as one JSON line to a rotating file
// named after its kind inside the data folder.
type filesDBService struct {
	CfgSvc config.IService

	mu      sync.Mutex
	writers map[string]*lumberjack.Logger
}

func NewFilesDB(cfgsvc config.IService) IService {
	return &filesDBService{
		CfgSvc:  cfgsvc,
		writers: map[string]*lumberjack.Logger{},
	}
}

func (svc *filesDBService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case error:
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	default:
		customErr.Processor = "N/A"
		customErr.Message = fmt.Sprintf("%v", err)
		customErr.StackTrace = "N/A"
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	// Create an error object to persist
	errorData := struct {
		Timestamp  int64                  `json:"timestamp"`
		Processor  string                 `json:"processor"`
		Inner      string                 `json:"innerError"`
		Message    string                 `json:"message"`
		StackTrace string                 `json:"stackTrace"`
		Misc       map[string]interface{} `json:"misc"`
	}{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}
	return svc.newEntity(errorData, "errors")
}

func (svc *filesDBService) NewIngestorStats(stats model.IngestorStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.newEntity(stats, "ingestor-stats")
}

func (svc *filesDBService) NewSchedulerStats(stats model.SchedulerStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.newEntity(stats, "scheduler-stats")
}

func (svc *filesDBService) NewBroadcasterStats(stats model.BroadcasterStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.newEntity(stats, "broadcaster-stats")
}

func (svc *filesDBService) NewPhaseEvent(evt model.PhaseEvent) error {
	return svc.newEntity(evt, "phases")
}

func (svc *filesDBService) Close() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	var errs []error
	for name, w := range svc.writers {
		errs = append(errs, w.Close())
		delete(svc.writers, name)
	}
	return errors.Join(errs...)
}

func (svc *filesDBService) newEntity(entity any, filename string) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	w, ok := svc.writers[filename]
	if !ok {
		w = &lumberjack.Logger{
			Filename:   filepath.Join(svc.CfgSvc.GetDataFolder(), filename+".jsonl"),
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     7, // days
		}
		svc.writers[filename] = w
	}

	_, err = w.Write(append(data, '\n'))
	return err
}
