package mode

import (
	"context"
	"log/slog"
	"time"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/pipeline"
	"github.com/khaledhikmat/traffic-go/service/lgr"
)

// Headless runs the ingestors and the scheduler without the HTTP surface and
// logs an intersection snapshot every stats period.
func Headless(canxCtx context.Context, svcs pipeline.ServicesFactory, alerter pipeline.Alerter) error {
	ctx, cancel := context.WithCancel(canxCtx)
	defer cancel()

	errorStream := make(chan interface{}, 100)
	statsStream := make(chan interface{}, 100)

	bcast, wg := startPipeline(ctx, svcs, alerter, errorStream, statsStream)

	period := time.Duration(svcs.CfgSvc.GetStatsPeriod()) * time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lgr.Logger.Info(
				"headless context cancelled",
			)
			goto resume

		case <-ticker.C:
			snap := svcs.StateSvc.Snapshot()
			logSnapshot(snap)
			publishStatus(svcs, snap)
			procStats(svcs.DataSvc, bcast.Stats())

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

resume:
	cancel()
	awaitShutdown("headless", svcs, wg, errorStream, statsStream)
	return nil
}

func logSnapshot(snap model.Snapshot) {
	attrs := []any{
		slog.String("mode", string(snap.Mode)),
		slog.String("activeLane", string(snap.ActiveLane)),
	}
	for _, dir := range model.Directions {
		lane := snap.Lanes[dir]
		attrs = append(attrs, slog.Group(string(dir),
			slog.Int("count", lane.Count),
			slog.String("signal", string(lane.Signal)),
			slog.Int("timer", lane.Timer),
		))
	}
	lgr.Logger.Info("intersection", attrs...)
}
