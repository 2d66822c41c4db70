package automation

import (
	"context"

	"github.com/sirupsen/logrus"

	"homehub/internal/metrics"
	"homehub/internal/models"
)

// executeActions runs actions in order. A failed action does not stop the
// ones after it.
func (e *Engine) executeActions(ctx context.Context, actions []models.Action, log *logrus.Entry) {
	for i, action := range actions {
		alog := log.WithFields(logrus.Fields{"action": i, "device_id": action.DeviceID})

		switch action.Type {
		case models.ActionMQTTCommand:
			if err := e.commands.Publish(ctx, action.DeviceID, action.Payload); err != nil {
				metrics.IncActionFailure()
				alog.WithError(err).Error("failed to execute action")
			}
		default:
			metrics.IncActionFailure()
			alog.WithField("type", action.Type).Warn("unknown action type")
		}
	}
}
