package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/capture"
	"github.com/khaledhikmat/traffic-go/service/clock"
	"github.com/khaledhikmat/traffic-go/service/inference"
	"github.com/khaledhikmat/traffic-go/service/lgr"
)

const ingestorProc = "lane_ingestor"

// Ingestor keeps one lane's source open for the current mode, counts vehicles
// in every frame and publishes the annotated frame. It returns only when the
// context is cancelled; every fault is retried.
func Ingestor(canxCtx context.Context, svcs ServicesFactory, dir model.Direction, bcast *Broadcaster, errorStream chan interface{}, statsStream chan interface{}) {
	ing := &ingestor{
		id:          uuid.NewString(),
		dir:         dir,
		svcs:        svcs,
		clk:         svcs.getClock(),
		tracer:      svcs.getTracer(),
		bcast:       bcast,
		errorStream: errorStream,
		statsStream: statsStream,
	}
	ing.run(canxCtx)
}

type ingestor struct {
	id     string
	dir    model.Direction
	svcs   ServicesFactory
	clk    clock.IService
	tracer trace.Tracer
	bcast  *Broadcaster

	errorStream chan interface{}
	statsStream chan interface{}

	src      capture.Source
	detector inference.IService
	stats    model.IngestorStats
	started  time.Time
}

func (ing *ingestor) run(canxCtx context.Context) {
	ing.started = ing.clk.Now()
	ing.stats = model.IngestorStats{
		ID:        ing.id,
		Direction: ing.dir,
	}

	lgr.Logger.Info("lane ingestor starting",
		slog.String("id", ing.id),
		slog.String("direction", string(ing.dir)),
	)

	ing.detector = ing.newDetector()
	defer func() {
		ing.release()
		if err := ing.detector.Close(); err != nil {
			lgr.Logger.Warn("detector close failed", slog.String("direction", string(ing.dir)), slog.Any("error", err))
		}
		report(ing.statsStream, ing.snapshotStats())
		lgr.Logger.Info("lane ingestor context cancelled", slog.String("direction", string(ing.dir)))
	}()

	statsPeriod := time.Duration(ing.svcs.CfgSvc.GetStatsPeriod()) * time.Second
	lastStats := ing.started

	// Consecutive failed reads on a live source, or reads that failed right
	// after rewinding a simulation file.
	failures := 0
	rewound := false

	for {
		if canxCtx.Err() != nil {
			return
		}

		if statsPeriod > 0 && ing.clk.Now().Sub(lastStats) >= statsPeriod {
			lastStats = ing.clk.Now()
			report(ing.statsStream, ing.snapshotStats())
		}

		desired := ing.svcs.CfgSvc.GetSourceAddress(ing.svcs.StateSvc.Mode(), ing.dir)
		if ing.src != nil && ing.src.Address() != desired {
			lgr.Logger.Info("lane switching source",
				slog.String("direction", string(ing.dir)),
				slog.String("from", ing.src.Address().String()),
				slog.String("to", desired.String()),
			)
			ing.release()
		}

		if ing.src == nil {
			src, err := ing.svcs.CaptureSvc.Open(desired)
			if err != nil {
				ing.fault(err, "error opening source %s", desired)
				if !clock.Sleep(canxCtx, ing.clk, ing.svcs.CfgSvc.GetSourceRetryBackoff()) {
					return
				}
				continue
			}
			ing.src = src
			ing.stats.Opens++
			failures = 0
			rewound = false
			lgr.Logger.Info("lane source opened",
				slog.String("direction", string(ing.dir)),
				slog.String("source", desired.String()),
			)
		}

		frame, err := ing.src.Read()
		if err != nil {
			if !ing.recoverRead(canxCtx, err, &failures, &rewound) {
				return
			}
			continue
		}
		failures = 0
		rewound = false
		ing.stats.Frames++

		ing.process(canxCtx, frame)
	}
}

// recoverRead applies the per-mode recovery for a failed read. It returns
// false if the context was cancelled while waiting.
func (ing *ingestor) recoverRead(canxCtx context.Context, err error, failures *int, rewound *bool) bool {
	if ing.src.Address().Mode == model.Simulation {
		// A file that fails straight after a rewind is broken; reopen it.
		if *rewound {
			ing.fault(err, "simulation source yields no frames after rewind")
			ing.release()
			return clock.Sleep(canxCtx, ing.clk, ing.svcs.CfgSvc.GetSourceRetryBackoff())
		}

		if !errors.Is(err, model.ErrEndOfStream) {
			ing.fault(err, "error reading simulation source")
		}
		if seekErr := ing.src.SeekStart(); seekErr != nil {
			ing.fault(seekErr, "error rewinding simulation source")
			ing.release()
			return clock.Sleep(canxCtx, ing.clk, ing.svcs.CfgSvc.GetSourceRetryBackoff())
		}
		ing.stats.Seeks++
		*rewound = true
		return true
	}

	*failures++
	ing.fault(err, "error reading live source (attempt %d)", *failures)
	if threshold := ing.svcs.CfgSvc.GetLiveReopenAfterFailures(); threshold > 0 && *failures >= threshold {
		ing.release()
	}
	return clock.Sleep(canxCtx, ing.clk, ing.svcs.CfgSvc.GetReadRetryBackoff())
}

func (ing *ingestor) process(canxCtx context.Context, frame capture.Frame) {
	defer frame.Close() // Crucial to close the frame to avoid memory leaks

	ctx, span := ing.tracer.Start(canxCtx, "lane.detect",
		trace.WithAttributes(attribute.String("direction", string(ing.dir))),
	)
	res, err := ing.detector.Detect(ctx, frame)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detector failure")
		span.End()

		ing.stats.DetectorFailures++
		if canxCtx.Err() == nil {
			ing.fault(err, "detector failure, keeping last count")
		}
		return
	}
	span.SetAttributes(attribute.Int("count", res.Count))
	span.End()

	if res.Annotated != nil && res.Annotated != frame {
		defer res.Annotated.Close()
	}

	ing.svcs.StateSvc.SetCount(ing.dir, res.Count)

	annotated := res.Annotated
	if annotated == nil {
		annotated = frame
	}
	jpeg, err := ing.svcs.CaptureSvc.Encode(annotated)
	if err != nil {
		ing.fault(err, "error encoding frame")
		return
	}
	ing.bcast.Publish(ing.dir, jpeg)
}

func (ing *ingestor) newDetector() inference.IService {
	if ing.svcs.DetectorFactory != nil {
		detector, err := ing.svcs.DetectorFactory(ing.dir)
		if err == nil {
			return detector
		}
		ing.fault(err, "error creating detector, counting disabled")
	}
	return inference.NewFake(0)
}

func (ing *ingestor) release() {
	if ing.src == nil {
		return
	}
	if err := ing.src.Close(); err != nil {
		lgr.Logger.Warn("lane source close failed",
			slog.String("direction", string(ing.dir)),
			slog.Any("error", err),
		)
	}
	ing.src = nil
}

func (ing *ingestor) fault(err error, messagef string, args ...interface{}) {
	ing.stats.Errors++
	lgr.Logger.Warn("lane ingestor fault",
		slog.String("direction", string(ing.dir)),
		slog.Any("error", err),
	)
	report(ing.errorStream, model.GenError(ingestorProc,
		err,
		map[string]interface{}{"direction": ing.dir, "ingestor": ing.id},
		messagef, args...))
}

func (ing *ingestor) snapshotStats() model.IngestorStats {
	s := ing.stats
	s.Uptime = int64(ing.clk.Now().Sub(ing.started).Seconds())
	if s.Uptime > 0 {
		s.FPS = int(float64(s.Frames) / float64(s.Uptime))
	}
	return s
}
