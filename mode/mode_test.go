package mode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/pipeline"
	"github.com/khaledhikmat/traffic-go/service/broker"
	"github.com/khaledhikmat/traffic-go/service/capture"
	"github.com/khaledhikmat/traffic-go/service/config"
	"github.com/khaledhikmat/traffic-go/service/data"
	"github.com/khaledhikmat/traffic-go/service/inference"
	"github.com/khaledhikmat/traffic-go/service/state"
	"github.com/khaledhikmat/traffic-go/service/webhook"
)

type offlineCapture struct{}

func (offlineCapture) Open(addr model.SourceAddress) (capture.Source, error) {
	return nil, xerrors.Errorf("open %s: %w", addr, model.ErrSourceUnavailable)
}

func (offlineCapture) Encode(capture.Frame) ([]byte, error) { return nil, nil }

func TestProcStatsRoutesByType(t *testing.T) {
	store := data.NewMemory()

	procStats(store, model.IngestorStats{Direction: model.North})
	procStats(store, model.SchedulerStats{Cycles: 1})
	procStats(store, "unknown")
	procError(store, model.GenError("test", model.ErrRead, nil, "boom"))

	errs, ingestors, schedulers, _ := store.Len()
	assert.Equal(t, 1, errs)
	assert.Equal(t, 1, ingestors)
	assert.Equal(t, 1, schedulers)
}

func TestHeadlessRunsUntilCancelled(t *testing.T) {
	store := data.NewMemory()
	svcs := pipeline.ServicesFactory{
		CfgSvc:          config.NewHardCoded(),
		DataSvc:         store,
		StateSvc:        state.NewMemory(model.Simulation),
		CaptureSvc:      offlineCapture{},
		DetectorFactory: inference.NewFakeFactory(0),
		WebhookSvc:      webhook.NewFake(),
		BrokerSvc:       broker.NewFake(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- Headless(ctx, svcs, pipeline.PhaseAlerter)
	}()

	require.Eventually(t, func() bool {
		errs, _, _, _ := store.Len()
		return errs >= 4 && svcs.StateSvc.Phase().Signal == model.Green
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(4 * time.Second):
		t.Fatal("headless did not shut down")
	}

	errs, ingestors, _, _ := store.Len()
	assert.GreaterOrEqual(t, errs, 4, "every lane reports its unavailable source")
	assert.Equal(t, 4, ingestors, "every lane reports final stats")
}

type downBroker struct{}

func (downBroker) Publish(string, interface{}) error {
	return xerrors.Errorf("publish: %w", model.ErrSourceUnavailable)
}

func (downBroker) Close() error { return nil }

func TestPublishStatusSendsSnapshot(t *testing.T) {
	brk := broker.NewFake()
	st := state.NewMemory(model.Live)
	st.SetCount(model.East, 7)
	svcs := pipeline.ServicesFactory{
		DataSvc:   data.NewMemory(),
		StateSvc:  st,
		BrokerSvc: brk,
	}

	publishStatus(svcs, st.Snapshot())

	msgs := brk.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "status", msgs[0].Subtopic)
	snap, ok := msgs[0].Payload.(model.Snapshot)
	require.True(t, ok)
	assert.Equal(t, model.Live, snap.Mode)
	assert.Equal(t, 7, snap.Lanes[model.East].Count)
}

func TestPublishStatusRecordsBrokerFailure(t *testing.T) {
	store := data.NewMemory()
	svcs := pipeline.ServicesFactory{
		DataSvc:   store,
		StateSvc:  state.NewMemory(model.Simulation),
		BrokerSvc: downBroker{},
	}

	publishStatus(svcs, svcs.StateSvc.Snapshot())

	errs, _, _, _ := store.Len()
	assert.Equal(t, 1, errs)
}
