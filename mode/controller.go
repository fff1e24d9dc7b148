package mode

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/pipeline"
	"github.com/khaledhikmat/traffic-go/server"
	"github.com/khaledhikmat/traffic-go/service/lgr"
)

// Controller runs the whole intersection: ingestors, scheduler, alerter and
// the HTTP surface.
func Controller(canxCtx context.Context, svcs pipeline.ServicesFactory, alerter pipeline.Alerter) error {
	ctx, cancel := context.WithCancel(canxCtx)
	defer cancel()

	// Create error and stats streams
	errorStream := make(chan interface{}, 100)
	statsStream := make(chan interface{}, 100)

	bcast, wg := startPipeline(ctx, svcs, alerter, errorStream, statsStream)

	srv := server.New(svcs.CfgSvc.GetHTTPBind(), svcs.StateSvc, bcast)
	serverErr := make(chan error, 1)
	go func() {
		lgr.Logger.Info("http server listening", slog.String("bind", svcs.CfgSvc.GetHTTPBind()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	statsPeriod := time.Duration(svcs.CfgSvc.GetStatsPeriod()) * time.Second
	statsTicker := time.NewTicker(statsPeriod)
	defer statsTicker.Stop()

	var result error

	// Wait for cancellation, server failure, stats or error
	for {
		select {
		case <-ctx.Done():
			lgr.Logger.Info(
				"controller context cancelled",
			)
			goto resume

		case err := <-serverErr:
			procError(svcs.DataSvc, model.GenError("controller",
				err,
				map[string]interface{}{"bind": svcs.CfgSvc.GetHTTPBind()},
				"http server failed"))
			result = err
			goto resume

		case <-statsTicker.C:
			procStats(svcs.DataSvc, bcast.Stats())
			publishStatus(svcs, svcs.StateSvc.Snapshot())

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

resume:
	cancel()

	shutdownCtx, shutdownFn := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownFn()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lgr.Logger.Warn("http server shutdown", slog.Any("error", err))
	}

	awaitShutdown("controller", svcs, wg, errorStream, statsStream)
	return result
}
