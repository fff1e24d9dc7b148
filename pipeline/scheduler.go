package pipeline

import (
	"context"
	"log/slog"
	"maps"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/clock"
	"github.com/khaledhikmat/traffic-go/service/config"
	"github.com/khaledhikmat/traffic-go/service/lgr"
)

// GreenSeconds is BaseGreen + PerVehicle*count clamped to [MinGreen, MaxGreen].
func GreenSeconds(count int, p config.TimingParameters) float64 {
	if count < 0 {
		count = 0
	}
	g := p.BaseGreen + p.PerVehicle*float64(count)
	return math.Max(p.MinGreen, math.Min(p.MaxGreen, g))
}

// Scheduler cycles the green phase through the lanes in fixed order, sizing
// each green by the lane's vehicle count when it starts. It is the only writer
// of the phase and returns when the context is cancelled.
func Scheduler(canxCtx context.Context, svcs ServicesFactory, phaseStream chan model.PhaseEvent, statsStream chan interface{}) {
	clk := svcs.getClock()
	tracer := svcs.getTracer()
	timing := svcs.CfgSvc.GetTimingParameters()
	yellow := timing.Yellow

	started := clk.Now()
	stats := model.SchedulerStats{
		GreenSeconds: map[model.Direction]int{},
		Counts:       map[model.Direction]int{},
	}

	current := svcs.StateSvc.Phase().Active

	lgr.Logger.Info("signal scheduler starting", slog.String("lane", string(current)))
	defer lgr.Logger.Info("signal scheduler context cancelled")

	for {
		count := svcs.StateSvc.Count(current)
		secs := int(math.Floor(GreenSeconds(count, timing)))

		ctx, span := tracer.Start(canxCtx, "signal.phase", trace.WithAttributes(
			attribute.String("direction", string(current)),
			attribute.Int("count", count),
			attribute.Int("green", secs),
		))

		lgr.Logger.Info("lane green",
			slog.String("lane", string(current)),
			slog.Int("count", count),
			slog.Int("seconds", secs),
		)
		emitPhase(phaseStream, model.PhaseEvent{
			Direction: current,
			Signal:    model.Green,
			Seconds:   secs,
			Count:     count,
			Timestamp: clk.Now(),
		})

		// The first write of the phase also turns the previous lane RED.
		for t := secs; t > 0; t-- {
			svcs.StateSvc.SetPhase(model.Phase{Active: current, Signal: model.Green, Timer: t})
			if !clock.Sleep(ctx, clk, time.Second) {
				span.End()
				return
			}
		}

		svcs.StateSvc.SetPhase(model.Phase{Active: current, Signal: model.Yellow, Timer: yellow})
		emitPhase(phaseStream, model.PhaseEvent{
			Direction: current,
			Signal:    model.Yellow,
			Seconds:   yellow,
			Count:     count,
			Timestamp: clk.Now(),
		})
		if !clock.Sleep(ctx, clk, time.Duration(yellow)*time.Second) {
			span.End()
			return
		}
		span.End()

		stats.GreenSeconds[current] = secs
		stats.Counts[current] = count

		current = current.Next()
		if current == model.Directions[0] {
			stats.Cycles++
			stats.Uptime = int64(clk.Now().Sub(started).Seconds())
			report(statsStream, cloneSchedulerStats(stats))
		}
	}
}

func emitPhase(phaseStream chan model.PhaseEvent, evt model.PhaseEvent) {
	if phaseStream == nil {
		return
	}
	select {
	case phaseStream <- evt:
	default:
		lgr.Logger.Warn("phase stream full, dropping event",
			slog.String("lane", string(evt.Direction)),
			slog.String("signal", string(evt.Signal)),
		)
	}
}

func cloneSchedulerStats(s model.SchedulerStats) model.SchedulerStats {
	out := s
	out.GreenSeconds = maps.Clone(s.GreenSeconds)
	out.Counts = maps.Clone(s.Counts)
	return out
}
