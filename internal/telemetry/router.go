package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"homehub/internal/metrics"
	"homehub/internal/models"
	"homehub/internal/mqtt"
	"homehub/internal/realtime"
	"homehub/internal/utils"
)

const (
	subscribeQoS  = 1
	defaultBuffer = 256
)

// StateStore persists device state and status.
type StateStore interface {
	SaveState(ctx context.Context, deviceID string, state models.State) (homeID string, found bool, err error)
	SetStatus(ctx context.Context, deviceID string, status models.DeviceStatus)
}

// Dispatcher schedules automation evaluation without blocking ingestion.
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceID string, updated models.State)
	DispatchEvent(ctx context.Context, deviceID, event string)
}

// Broadcaster fans a message out to a home's live viewers.
type Broadcaster interface {
	Broadcast(homeID string, payload any) int
}

// Sink records accepted states in a history backend.
type Sink interface {
	Record(ctx context.Context, deviceID string, state models.State, at time.Time) error
}

// Subscriber is the MQTT side of the router.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.MessageHandler) error
}

type Options struct {
	StationID string
	Workers   int
	Buffer    int
}

// Router classifies inbound device telemetry and drives persistence,
// automation and fan-out.
type Router struct {
	opts       Options
	store      StateStore
	dispatcher Dispatcher
	hub        Broadcaster
	sinks      []Sink
	validate   *validator.Validate
	logger     *logrus.Entry
	now        func() time.Time

	ctx   context.Context
	queue *shardedQueue
}

func NewRouter(opts Options, store StateStore, dispatcher Dispatcher, hub Broadcaster, logger *logrus.Entry, sinks ...Sink) *Router {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	return &Router{
		opts:       opts,
		store:      store,
		dispatcher: dispatcher,
		hub:        hub,
		sinks:      sinks,
		validate:   newValidator(),
		logger:     logger,
		now:        time.Now,
		ctx:        context.Background(),
	}
}

// Start launches the workers and subscribes to the station's device topics.
func (r *Router) Start(ctx context.Context, sub Subscriber) error {
	r.ctx = context.WithoutCancel(ctx)
	r.queue = newShardedQueue(r.opts.Workers, r.opts.Buffer, r.process)

	for _, topic := range mqtt.DeviceTopics(r.opts.StationID) {
		if err := sub.Subscribe(ctx, topic, subscribeQoS, r.Enqueue); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		r.logger.WithField("topic", topic).Info("subscribed")
	}
	return nil
}

// Stop processes what is already queued and stops the workers.
func (r *Router) Stop() {
	if r.queue != nil {
		r.queue.stop()
	}
}

// Enqueue is the MQTT message handler. It only hands the message to the
// topic's worker.
func (r *Router) Enqueue(topic string, payload []byte) error {
	if r.queue == nil {
		return ErrStopped
	}
	return r.queue.push(message{topic: topic, payload: payload})
}

func (r *Router) process(m message) {
	if err := r.HandleMessage(r.ctx, m.topic, m.payload); err != nil {
		r.logger.WithError(err).WithField("topic", m.topic).Warn("dropped message")
	}
}

// HandleMessage processes one message. Malformed topics and payloads are
// returned as errors; persistence failures are logged only.
func (r *Router) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	started := r.now()
	deviceID, class, ok := mqtt.ParseDeviceTopic(topic)
	if !ok {
		metrics.ObserveIngest("unknown", metrics.ResultDropped, 0)
		return fmt.Errorf("%w: %s", ErrMalformedTopic, topic)
	}

	var (
		result string
		err    error
	)
	switch class {
	case mqtt.ClassState:
		result, err = r.handleState(ctx, deviceID, payload)
	case mqtt.ClassEvent:
		result, err = r.handleEvent(ctx, deviceID, payload)
	case mqtt.ClassHeartbeat:
		result, err = r.handleHeartbeat(ctx, deviceID, payload)
	default:
		metrics.ObserveIngest("unknown", metrics.ResultDropped, 0)
		return fmt.Errorf("%w: unknown class %q", ErrMalformedTopic, class)
	}
	if errors.Is(err, ErrInvalidPayload) {
		result = metrics.ResultDropped
	}
	metrics.ObserveIngest(class, result, r.now().Sub(started))
	return err
}

func (r *Router) handleState(ctx context.Context, deviceID string, payload []byte) (string, error) {
	var p statePayload
	if err := decode(r.validate, payload, &p); err != nil {
		return "", err
	}
	at := messageTime(p.Timestamp, r.now())
	log := r.logger.WithField("device_id", deviceID)

	result := metrics.ResultOK
	homeID, found, err := r.store.SaveState(ctx, deviceID, p.State)
	switch {
	case err != nil:
		log.WithError(err).Error("failed to save device state")
		result = metrics.ResultError
	case !found:
		log.Debug("state for unknown device")
		result = metrics.ResultUnknown
	}

	r.dispatcher.Dispatch(ctx, deviceID, p.State)

	if err != nil || !found {
		return result, nil
	}
	if homeID != "" {
		r.hub.Broadcast(homeID, StateEnvelope{
			Type:      realtime.TypeDeviceState,
			DeviceID:  deviceID,
			State:     p.State,
			Timestamp: utils.ISOTimestamp(at),
		})
	}
	for _, sink := range r.sinks {
		if err := sink.Record(ctx, deviceID, p.State, at); err != nil {
			log.WithError(err).Warn("failed to record state history")
		}
	}
	return result, nil
}

func (r *Router) handleEvent(ctx context.Context, deviceID string, payload []byte) (string, error) {
	var p eventPayload
	if err := decode(r.validate, payload, &p); err != nil {
		return "", err
	}
	r.logger.WithFields(logrus.Fields{"device_id": deviceID, "event": p.Event}).Info("device event")
	r.dispatcher.DispatchEvent(ctx, deviceID, p.Event)
	return metrics.ResultOK, nil
}

func (r *Router) handleHeartbeat(ctx context.Context, deviceID string, payload []byte) (string, error) {
	var p heartbeatPayload
	if err := decode(r.validate, payload, &p); err != nil {
		return "", err
	}
	r.store.SetStatus(ctx, deviceID, models.DeviceStatus(p.Status))
	return metrics.ResultOK, nil
}
