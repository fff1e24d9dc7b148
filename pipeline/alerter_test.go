package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/broker"
	"github.com/khaledhikmat/traffic-go/service/config"
	"github.com/khaledhikmat/traffic-go/service/data"
	"github.com/khaledhikmat/traffic-go/service/webhook"
)

func TestPhaseAlerterFansOut(t *testing.T) {
	store := data.NewMemory()
	hook := webhook.NewFake()
	bus := broker.NewFake()
	svcs := ServicesFactory{
		CfgSvc:     config.NewHardCoded(),
		DataSvc:    store,
		WebhookSvc: hook,
		BrokerSvc:  bus,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := PhaseAlerter(ctx, svcs, make(chan interface{}, 10), nil)
	in <- model.PhaseEvent{
		Direction: model.East,
		Signal:    model.Green,
		Seconds:   11,
		Count:     4,
		Timestamp: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC),
	}

	require.Eventually(t, func() bool {
		return len(hook.Payloads()) == 1 && len(bus.Messages()) == 1
	}, time.Second, 5*time.Millisecond)

	payload := hook.Payloads()[0].(map[string]interface{})
	assert.Equal(t, model.East, payload["direction"])
	assert.Equal(t, "2026-05-04T08:00:00Z", payload["timestamp"])

	msg := bus.Messages()[0]
	assert.Equal(t, "east", msg.Subtopic)
	assert.Equal(t, 11, msg.Payload.(model.PhaseEvent).Seconds)

	_, _, _, phases := store.Len()
	assert.Equal(t, 1, phases)
}
