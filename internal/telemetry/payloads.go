package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"homehub/internal/models"
)

var (
	ErrMalformedTopic = errors.New("telemetry: malformed topic")
	ErrInvalidPayload = errors.New("telemetry: invalid payload")
	ErrStopped        = errors.New("telemetry: router stopped")
)

type statePayload struct {
	State     models.State `json:"state" validate:"required"`
	Timestamp string       `json:"timestamp" validate:"omitempty,rfc3339"`
}

type eventPayload struct {
	Event     string       `json:"event" validate:"required"`
	Data      models.State `json:"data"`
	Timestamp string       `json:"timestamp" validate:"omitempty,rfc3339"`
}

type heartbeatPayload struct {
	Status    string `json:"status" validate:"required,oneof=online offline"`
	Timestamp string `json:"timestamp" validate:"omitempty,rfc3339"`
}

// StateEnvelope is broadcast to the device's home room after a state update.
type StateEnvelope struct {
	Type      string       `json:"type"`
	DeviceID  string       `json:"deviceId"`
	State     models.State `json:"state"`
	Timestamp string       `json:"timestamp"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("rfc3339", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.RFC3339, fl.Field().String())
		return err == nil
	})
	return v
}

// decode unmarshals payload into dst and validates its shape.
func decode(v *validator.Validate, payload []byte, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := v.Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

// messageTime is the payload timestamp when present, now otherwise.
func messageTime(timestamp string, now time.Time) time.Time {
	if timestamp == "" {
		return now
	}
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return now
	}
	return t
}
