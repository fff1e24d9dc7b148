package mode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/pipeline"
	"github.com/khaledhikmat/traffic-go/service/data"
	"github.com/khaledhikmat/traffic-go/service/lgr"
)

type Processor func(canxCtx context.Context,
	svcs pipeline.ServicesFactory,
	alerter pipeline.Alerter) error

// startPipeline launches the alerter, one ingestor per lane and the scheduler.
// The returned wait group completes once the ingestors and the scheduler exit.
func startPipeline(canxCtx context.Context, svcs pipeline.ServicesFactory, alerter pipeline.Alerter, errorStream chan interface{}, statsStream chan interface{}) (*pipeline.Broadcaster, *sync.WaitGroup) {
	bcast := pipeline.NewBroadcaster()
	phaseStream := alerter(canxCtx, svcs, errorStream, statsStream)

	var wg sync.WaitGroup
	for _, dir := range model.Directions {
		wg.Add(1)
		go func(dir model.Direction) {
			defer wg.Done()
			pipeline.Ingestor(canxCtx, svcs, dir, bcast, errorStream, statsStream)
		}(dir)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Scheduler(canxCtx, svcs, phaseStream, statsStream)
	}()

	return bcast, &wg
}

// awaitShutdown keeps persisting stats and errors until every pipeline
// goroutine has exited or the shutdown period expires.
func awaitShutdown(name string, svcs pipeline.ServicesFactory, wg *sync.WaitGroup, errorStream chan interface{}, statsStream chan interface{}) {
	lgr.Logger.Info(
		name + " is waiting for all go routines to exit",
	)

	exited := make(chan struct{})
	go func() {
		wg.Wait()
		close(exited)
	}()

	period := time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second
	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				name+" shutdown waiting period expired. Exiting now",
				slog.Duration("period", period),
			)
			return

		case <-exited:
			// Flush whatever the goroutines reported on their way out.
			for {
				select {
				case s := <-statsStream:
					procStats(svcs.DataSvc, s)
				case e := <-errorStream:
					procError(svcs.DataSvc, e)
				default:
					lgr.Logger.Info(name + " go routines exited")
					return
				}
			}

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}
}

// statusSubtopic carries periodic intersection snapshots on the broker.
const statusSubtopic = "status"

func publishStatus(svcs pipeline.ServicesFactory, snap model.Snapshot) {
	if svcs.BrokerSvc == nil {
		return
	}
	if err := svcs.BrokerSvc.Publish(statusSubtopic, snap); err != nil {
		procError(svcs.DataSvc, model.GenError("status_publisher",
			err,
			map[string]interface{}{"subtopic": statusSubtopic},
			"error publishing intersection status"))
	}
}

func procStats(datasvc data.IService, stats interface{}) {
	var err error
	switch stats := stats.(type) {
	case model.IngestorStats:
		err = datasvc.NewIngestorStats(stats)
	case model.SchedulerStats:
		err = datasvc.NewSchedulerStats(stats)
	case model.BroadcasterStats:
		err = datasvc.NewBroadcasterStats(stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
		return
	}

	if err != nil {
		lgr.Logger.Error(
			"failed to store stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}
