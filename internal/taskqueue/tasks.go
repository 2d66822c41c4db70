package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"homehub/internal/models"
)

// TypeEvaluate is the task type for one automation evaluation pass.
const TypeEvaluate = "automation:evaluate"

const (
	evaluateMaxRetry = 3
	evaluateTimeout  = 30 * time.Second
)

// EvaluationPayload carries either a state update or an event name.
type EvaluationPayload struct {
	DeviceID string       `json:"device_id"`
	State    models.State `json:"state,omitempty"`
	Event    string       `json:"event,omitempty"`
}

// NewEvaluateTask builds the task for payload.
func NewEvaluateTask(p EvaluationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: encode payload: %w", err)
	}
	return asynq.NewTask(TypeEvaluate, data, asynq.MaxRetry(evaluateMaxRetry), asynq.Timeout(evaluateTimeout)), nil
}

// Enqueuer is implemented by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher hands evaluations to the queue instead of running them in
// process. Enqueue failures are logged.
type Dispatcher struct {
	client Enqueuer
	logger *logrus.Entry
}

func NewDispatcher(client Enqueuer, logger *logrus.Entry) *Dispatcher {
	return &Dispatcher{client: client, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, updated models.State) {
	d.enqueue(ctx, EvaluationPayload{DeviceID: deviceID, State: updated})
}

func (d *Dispatcher) DispatchEvent(ctx context.Context, deviceID, event string) {
	d.enqueue(ctx, EvaluationPayload{DeviceID: deviceID, Event: event})
}

func (d *Dispatcher) enqueue(ctx context.Context, p EvaluationPayload) {
	log := d.logger.WithField("device_id", p.DeviceID)

	task, err := NewEvaluateTask(p)
	if err != nil {
		log.WithError(err).Error("failed to build evaluation task")
		return
	}
	info, err := d.client.EnqueueContext(context.WithoutCancel(ctx), task)
	if err != nil {
		log.WithError(err).Error("failed to enqueue evaluation")
		return
	}
	log.WithField("task_id", info.ID).Debug("evaluation enqueued")
}
