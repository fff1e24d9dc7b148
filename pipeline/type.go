package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/broker"
	"github.com/khaledhikmat/traffic-go/service/capture"
	"github.com/khaledhikmat/traffic-go/service/clock"
	"github.com/khaledhikmat/traffic-go/service/config"
	"github.com/khaledhikmat/traffic-go/service/data"
	"github.com/khaledhikmat/traffic-go/service/inference"
	"github.com/khaledhikmat/traffic-go/service/lgr"
	"github.com/khaledhikmat/traffic-go/service/state"
	"github.com/khaledhikmat/traffic-go/service/webhook"
)

const tracerName = "github.com/khaledhikmat/traffic-go/pipeline"

// ServicesFactory carries every collaborator the pipeline processors need.
type ServicesFactory struct {
	CfgSvc          config.IService
	DataSvc         data.IService
	StateSvc        state.IService
	CaptureSvc      capture.IService
	DetectorFactory inference.Factory
	WebhookSvc      webhook.IService
	BrokerSvc       broker.IService
	Clock           clock.IService
	Tracer          trace.Tracer
}

func (svcs ServicesFactory) getTracer() trace.Tracer {
	if svcs.Tracer != nil {
		return svcs.Tracer
	}
	return otel.Tracer(tracerName)
}

func (svcs ServicesFactory) getClock() clock.IService {
	if svcs.Clock != nil {
		return svcs.Clock
	}
	return clock.NewReal()
}

// Signature of alerter function
type Alerter func(canx context.Context, svcs ServicesFactory, errorStream chan interface{}, statsStream chan interface{}) chan model.PhaseEvent

// report hands v to a processor stream without ever blocking the caller.
func report(stream chan interface{}, v interface{}) {
	if stream == nil {
		return
	}
	select {
	case stream <- v:
	default:
		lgr.Logger.Warn("stream full, dropping report", slog.Any("report", v))
	}
}
