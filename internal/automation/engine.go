package automation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"homehub/internal/metrics"
	"homehub/internal/models"
)

// RuleRepository loads the active automations that may react to a device.
type RuleRepository interface {
	ListActiveByDevice(ctx context.Context, deviceID string) ([]models.Automation, error)
}

// StateReader returns the current state of a device, {} when unknown.
type StateReader interface {
	GetState(ctx context.Context, deviceID string) models.State
}

// CommandPublisher sends a command payload to a device.
type CommandPublisher interface {
	Publish(ctx context.Context, deviceID string, payload models.Value) error
}

// Engine evaluates automations against device updates.
type Engine struct {
	rules    RuleRepository
	states   StateReader
	commands CommandPublisher
	now      func() time.Time
	logger   *logrus.Entry
}

// NewEngine creates an engine using the local wall clock.
func NewEngine(rules RuleRepository, states StateReader, commands CommandPublisher, logger *logrus.Entry) *Engine {
	return &Engine{
		rules:    rules,
		states:   states,
		commands: commands,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock replaces the clock used by time_range conditions.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Evaluate runs every active automation whose device_state trigger matches
// the update. Failures are logged and never returned.
func (e *Engine) Evaluate(ctx context.Context, deviceID string, updated models.State) {
	e.evaluate(ctx, deviceID, func(t models.Trigger) bool {
		return stateTriggerMatches(t, deviceID, updated)
	})
}

// EvaluateEvent runs every active automation whose device_event trigger
// names event.
func (e *Engine) EvaluateEvent(ctx context.Context, deviceID, event string) {
	e.evaluate(ctx, deviceID, func(t models.Trigger) bool {
		return eventTriggerMatches(t, deviceID, event)
	})
}

func (e *Engine) evaluate(ctx context.Context, deviceID string, matches func(models.Trigger) bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncEvaluation(metrics.ResultError)
			e.logger.WithFields(logrus.Fields{"device_id": deviceID, "panic": r}).Error("automation evaluation panicked")
		}
	}()

	automations, err := e.rules.ListActiveByDevice(ctx, deviceID)
	if err != nil {
		metrics.IncEvaluation(metrics.ResultError)
		e.logger.WithError(err).WithField("device_id", deviceID).Error("failed to load automations")
		return
	}

	for _, a := range automations {
		if !matches(a.Trigger) {
			continue
		}
		e.run(ctx, a)
	}
	metrics.IncEvaluation(metrics.ResultOK)
}

// run checks one automation's conditions and executes its actions. A panic
// stops only this automation.
func (e *Engine) run(ctx context.Context, a models.Automation) {
	log := e.logger.WithFields(logrus.Fields{"automation_id": a.ID, "automation": a.Name})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("automation panicked")
		}
	}()

	if !e.conditionsMet(ctx, a.Conditions, log) {
		log.Debug("conditions not met")
		return
	}

	metrics.IncAutomationFired()
	log.Info("automation fired")
	e.executeActions(ctx, a.Actions, log)
}
