package automation

import (
	"context"

	"github.com/sirupsen/logrus"

	"homehub/internal/models"
	"homehub/internal/utils"
)

func stateTriggerMatches(t models.Trigger, deviceID string, updated models.State) bool {
	return t.Type == models.TriggerDeviceState && t.MatchesDevice(deviceID) && updated.Has(t.Key)
}

func eventTriggerMatches(t models.Trigger, deviceID, event string) bool {
	return t.Type == models.TriggerDeviceEvent && t.MatchesDevice(deviceID) && t.Event == event
}

// conditionsMet evaluates conditions in order and stops at the first false.
func (e *Engine) conditionsMet(ctx context.Context, conditions []models.Condition, log *logrus.Entry) bool {
	for i, c := range conditions {
		if !e.evaluateCondition(ctx, c, log.WithField("condition", i)) {
			return false
		}
	}
	return true
}

func (e *Engine) evaluateCondition(ctx context.Context, c models.Condition, log *logrus.Entry) bool {
	switch c.Type {
	case models.ConditionStateEquals:
		current, ok := e.states.GetState(ctx, c.DeviceID)[c.Key]
		return ok && current.Equal(c.Value)

	case models.ConditionNumericCompare:
		expected, ok := c.Value.AsNumber()
		if !ok {
			log.WithField("value", c.Value.String()).Warn("numeric_compare value is not a number")
			return false
		}
		current, ok := e.states.GetState(ctx, c.DeviceID)[c.Key]
		if !ok {
			return false
		}
		actual, ok := current.Numeric()
		if !ok {
			return false
		}
		result, err := utils.Compare(actual, c.Operator, expected)
		if err != nil {
			log.WithError(err).Warn("numeric_compare failed")
			return false
		}
		return result

	case models.ConditionTimeRange:
		start, err := utils.ParseClock(c.Start)
		if err != nil {
			log.WithError(err).Warn("invalid time_range start")
			return false
		}
		end, err := utils.ParseClock(c.End)
		if err != nil {
			log.WithError(err).Warn("invalid time_range end")
			return false
		}
		return utils.InClockRange(utils.SinceMidnight(e.now()), start, end)
	}

	log.WithField("type", c.Type).Warn("unknown condition type")
	return false
}
