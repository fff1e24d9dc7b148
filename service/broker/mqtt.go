package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/traffic-go/service/config"
	"github.com/khaledhikmat/traffic-go/service/lgr"
)

type mqttService struct {
	params config.BrokerParameters
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTT connects to the configured broker. With no broker configured it
// returns the fake so the controller runs standalone.
func NewMQTT(ctx context.Context, cfgsvc config.IService) (IService, error) {
	params := cfgsvc.GetBrokerParameters()
	if params.Broker == "" {
		return NewFake(), nil
	}

	svc := &mqttService{
		params: params,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(params.Broker)
	opts.SetClientID(params.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(_ mqtt.Client) {
		svc.setConnected(true)
		lgr.Logger.Info("mqtt connection established",
			slog.String("broker", params.Broker),
			slog.String("clientID", params.ClientID),
		)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		svc.setConnected(false)
		lgr.Logger.Warn("mqtt connection lost, will auto-reconnect",
			slog.String("broker", params.Broker),
			slog.Any("error", err),
		)
	}

	svc.client = mqtt.NewClient(opts)

	token := svc.client.Connect()
	select {
	case <-ctx.Done():
		svc.client.Disconnect(0)
		return nil, ctx.Err()
	case <-token.Done():
	case <-time.After(5 * time.Second):
		// Keep retrying in the background; publishes fail until connected.
		lgr.Logger.Warn("mqtt connection timeout", slog.String("broker", params.Broker))
		return svc, nil
	}
	if err := token.Error(); err != nil {
		return nil, xerrors.Errorf("mqtt connection failed: %w", err)
	}

	svc.setConnected(true)
	return svc, nil
}

func (svc *mqttService) Publish(subtopic string, payload interface{}) error {
	if !svc.isConnected() {
		svc.countError()
		return xerrors.New("mqtt not connected")
	}

	data, err := Encode(svc.params.Encoding, payload)
	if err != nil {
		svc.countError()
		return xerrors.Errorf("mqtt encode: %w", err)
	}

	topic := svc.params.Topic + "/" + subtopic
	token := svc.client.Publish(topic, 0, false, data)
	if !token.WaitTimeout(2 * time.Second) {
		svc.countError()
		return xerrors.Errorf("mqtt publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		svc.countError()
		return xerrors.Errorf("mqtt publish to %s: %w", topic, err)
	}

	svc.mu.Lock()
	svc.published++
	svc.mu.Unlock()

	lgr.Logger.Debug("mqtt message published",
		slog.String("topic", topic),
		slog.Int("size", len(data)),
	)
	return nil
}

func (svc *mqttService) Close() error {
	svc.mu.RLock()
	lgr.Logger.Info("mqtt disconnecting",
		slog.Uint64("published", svc.published),
		slog.Uint64("errors", svc.errors),
	)
	svc.mu.RUnlock()

	svc.client.Disconnect(250)
	svc.setConnected(false)
	return nil
}

func (svc *mqttService) setConnected(v bool) {
	svc.mu.Lock()
	svc.connected = v
	svc.mu.Unlock()
}

func (svc *mqttService) isConnected() bool {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.connected
}

func (svc *mqttService) countError() {
	svc.mu.Lock()
	svc.errors++
	svc.mu.Unlock()
}
