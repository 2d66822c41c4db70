package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"homehub/internal/db"
	"homehub/internal/metrics"
	"homehub/internal/models"
	"homehub/internal/mqtt"
)

const commandQoS = 1

// ErrDeviceNotFound is returned when a device is unknown or belongs to
// another home.
var ErrDeviceNotFound = errors.New("services: device not found")

// Transport is the subset of mqtt.Client used to send commands.
type Transport interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// CommandPublisher sends commands to devices on device/{id}/command.
type CommandPublisher struct {
	transport Transport
	logger    *logrus.Entry
}

func NewCommandPublisher(transport Transport, logger *logrus.Entry) *CommandPublisher {
	return &CommandPublisher{transport: transport, logger: logger}
}

// Publish sends payload as JSON with QoS 1, not retained. It returns
// mqtt.ErrNotConnected when the transport is down; nothing is sent then.
func (p *CommandPublisher) Publish(ctx context.Context, deviceID string, payload models.Value) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncCommandResult(metrics.CommandFailed)
		return fmt.Errorf("services: encode command for %s: %w", deviceID, err)
	}

	topic := mqtt.CommandTopic(deviceID)
	if err := p.transport.Publish(ctx, topic, commandQoS, false, data); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			metrics.IncCommandResult(metrics.CommandNotConnected)
		} else {
			metrics.IncCommandResult(metrics.CommandFailed)
		}
		return err
	}

	metrics.IncCommandResult(metrics.CommandSent)
	p.logger.WithFields(logrus.Fields{"device_id": deviceID, "topic": topic}).Debug("command published")
	return nil
}

// DeviceDirectory resolves which home a device belongs to.
type DeviceDirectory interface {
	DeviceHomeID(ctx context.Context, deviceID string) (string, error)
}

// CommandService sends commands on behalf of users.
type CommandService struct {
	devices   DeviceDirectory
	publisher *CommandPublisher
}

func NewCommandService(devices DeviceDirectory, publisher *CommandPublisher) *CommandService {
	return &CommandService{devices: devices, publisher: publisher}
}

// SendCommand publishes command to a device of homeID.
func (s *CommandService) SendCommand(ctx context.Context, homeID, deviceID string, command models.Value) error {
	owner, err := s.devices.DeviceHomeID(ctx, deviceID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("services: look up device %s: %w", deviceID, err)
	}
	if owner != homeID {
		return ErrDeviceNotFound
	}
	return s.publisher.Publish(ctx, deviceID, command)
}
