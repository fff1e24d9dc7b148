package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/lgr"
)

const (
	alerterProc        = "phase_alerter"
	webhookRetryPeriod = 10 * time.Second
	maxPendingWebhooks = 100
)

// PhaseAlerter fans every phase change out to the data store, the webhook and
// the broker. Webhook posts that fail are retried periodically.
func PhaseAlerter(canx context.Context, svcs ServicesFactory, errorStream chan interface{}, _ chan interface{}) chan model.PhaseEvent {
	in := make(chan model.PhaseEvent, 100)

	go func() {
		var pending []model.PhaseEvent

		post := func(evt model.PhaseEvent) bool {
			if svcs.WebhookSvc == nil {
				return true
			}
			ctx, cancel := context.WithTimeout(canx, 5*time.Second)
			defer cancel()
			if err := svcs.WebhookSvc.Post(ctx, phasePayload(evt)); err != nil {
				report(errorStream, model.GenError(alerterProc,
					err,
					map[string]interface{}{"direction": evt.Direction, "signal": evt.Signal},
					"error posting phase webhook"))
				return false
			}
			return true
		}

		ticker := time.NewTicker(webhookRetryPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-canx.Done():
				lgr.Logger.Info(
					"alerter context cancelled",
					slog.Int("pendingWebhooks", len(pending)),
				)
				return

			case <-ticker.C:
				retry := pending
				pending = nil
				for _, evt := range retry {
					if !post(evt) {
						pending = append(pending, evt)
					}
				}

			case evt := <-in:
				lgr.Logger.Debug(
					"phase change",
					slog.String("lane", string(evt.Direction)),
					slog.String("signal", string(evt.Signal)),
					slog.Int("seconds", evt.Seconds),
					slog.Int("count", evt.Count),
				)

				if svcs.DataSvc != nil {
					if err := svcs.DataSvc.NewPhaseEvent(evt); err != nil {
						report(errorStream, model.GenError(alerterProc, err, nil, "error storing phase event"))
					}
				}

				if svcs.BrokerSvc != nil {
					if err := svcs.BrokerSvc.Publish(string(evt.Direction), evt); err != nil {
						report(errorStream, model.GenError(alerterProc,
							err,
							map[string]interface{}{"direction": evt.Direction},
							"error publishing phase event"))
					}
				}

				if !post(evt) {
					pending = append(pending, evt)
					if len(pending) > maxPendingWebhooks {
						pending = pending[len(pending)-maxPendingWebhooks:]
					}
				}
			}
		}
	}()

	return in
}

func phasePayload(evt model.PhaseEvent) map[string]interface{} {
	return map[string]interface{}{
		"source":    "intersection",
		"direction": evt.Direction,
		"signal":    evt.Signal,
		"seconds":   evt.Seconds,
		"count":     evt.Count,
		"timestamp": evt.Timestamp.Format(time.RFC3339),
	}
}
