package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/traffic-go/mode"
	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/pipeline"
	"github.com/khaledhikmat/traffic-go/service/broker"
	"github.com/khaledhikmat/traffic-go/service/capture/cv"
	"github.com/khaledhikmat/traffic-go/service/clock"
	"github.com/khaledhikmat/traffic-go/service/config"
	"github.com/khaledhikmat/traffic-go/service/data"
	"github.com/khaledhikmat/traffic-go/service/inference/yolo"
	"github.com/khaledhikmat/traffic-go/service/lgr"
	"github.com/khaledhikmat/traffic-go/service/state"
	"github.com/khaledhikmat/traffic-go/service/tracing"
	"github.com/khaledhikmat/traffic-go/service/webhook"
)

var modeProcessors = map[string]mode.Processor{
	"controller": mode.Controller,
	"headless":   mode.Headless,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		if err := godotenv.Load(); err != nil {
			lgr.Logger.Warn("no .env file loaded", slog.Any("error", err))
		}
	}

	modeType := "controller"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		os.Exit(2)
	}

	cfgFile := os.Getenv("INTERSECTION_CONFIG")
	if cfgFile == "" {
		cfgFile = config.DefaultFile
	}
	cfgSvc, err := config.New(cfgFile)
	if err != nil {
		lgr.Logger.Error("invalid configuration", slog.Any("error", xerrors.Errorf("config: %w", err)))
		os.Exit(1)
	}

	logParams := cfgSvc.GetLogParameters()
	logCloser := lgr.Configure(lgr.Options{
		Level:      logParams.Level,
		File:       logParams.File,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 7,
	})
	defer logCloser.Close()

	banner(modeType, cfgSvc)

	if err := os.MkdirAll(cfgSvc.GetDataFolder(), 0o755); err != nil {
		lgr.Logger.Error("cannot create data folder", slog.String("folder", cfgSvc.GetDataFolder()), slog.Any("error", err))
		os.Exit(1)
	}

	traceShutdown, err := tracing.Configure(cfgSvc.GetTraceParameters(), cfgSvc.GetDataFolder())
	if err != nil {
		lgr.Logger.Warn("tracing disabled", slog.Any("error", err))
		traceShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceShutdown(ctx); err != nil {
			lgr.Logger.Warn("trace flush failed", slog.Any("error", err))
		}
	}()

	// Create the services needed for the mode processor
	// Data service
	dataSvc := data.NewFilesDB(cfgSvc)
	defer dataSvc.Close()
	// Broker service
	brokerSvc, err := broker.NewMQTT(canxCtx, cfgSvc)
	if err != nil {
		lgr.Logger.Warn("mqtt unavailable, phase events stay local", slog.Any("error", err))
		brokerSvc = broker.NewFake()
	}
	defer brokerSvc.Close()

	svcs := pipeline.ServicesFactory{
		CfgSvc:          cfgSvc,
		DataSvc:         dataSvc,
		StateSvc:        state.NewMemory(cfgSvc.GetDefaultMode()),
		CaptureSvc:      cv.New(cfgSvc),
		DetectorFactory: yolo.NewFactory(cfgSvc),
		WebhookSvc:      webhook.NewHTTP(cfgSvc),
		BrokerSvc:       brokerSvc,
		Clock:           clock.NewReal(),
		Tracer:          otel.Tracer(tracing.ServiceName),
	}

	// Create mode processor result
	modeProcResult := make(chan error, 1)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs, pipeline.PhaseAlerter)
	}()

	// Wait for cancellation or mode proc
	select {
	case <-canxCtx.Done():
		lgr.Logger.Info(
			"intersection context cancelled",
		)

	case err := <-modeProcResult:
		if err != nil {
			lgr.Logger.Info(
				"intersection mode processor exited",
				slog.Any("error", err),
			)
		}
	}

	// Cancel the context if not already cancelled
	if canxCtx.Err() == nil {
		canxFn()
	}

	lgr.Logger.Info(
		"intersection is waiting for the mode processor to exit",
	)

	// The mode processor waits up to its own shutdown time; give it a little more.
	waitOnShutdown := time.Duration(cfgSvc.GetModeMaxShutdownTime()+3) * time.Second
	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	select {
	case <-timer.C:
		lgr.Logger.Info(
			"intersection shutdown waiting period expired. Exiting now",
			slog.Duration("period", waitOnShutdown),
		)

	case err := <-modeProcResult:
		if err != nil {
			lgr.Logger.Info(
				"intersection mode processor exited",
				slog.Any("error", err),
			)
		}
	}
}

func banner(modeType string, cfgSvc config.IService) {
	title := color.New(color.FgHiGreen, color.Bold).SprintFunc()
	key := color.New(color.FgCyan).SprintFunc()

	w, h := cfgSvc.GetFrameSize()
	timing := cfgSvc.GetTimingParameters()

	fmt.Println(title("adaptive intersection controller"))
	fmt.Printf("  %s %s\n", key("processor:"), modeType)
	fmt.Printf("  %s %s\n", key("mode:     "), cfgSvc.GetDefaultMode())
	if modeType == "controller" {
		fmt.Printf("  %s %s\n", key("http:     "), cfgSvc.GetHTTPBind())
	}
	fmt.Printf("  %s %dx%d\n", key("frames:   "), w, h)
	fmt.Printf("  %s %g-%gs green, %ds yellow\n", key("timing:   "), timing.MinGreen, timing.MaxGreen, timing.Yellow)
	for _, dir := range model.Directions {
		fmt.Printf("  %s %s | %s\n", key(fmt.Sprintf("%-10s", string(dir)+":")),
			cfgSvc.GetSourceAddress(model.Simulation, dir).Target,
			cfgSvc.GetSourceAddress(model.Live, dir).Target)
	}
}
