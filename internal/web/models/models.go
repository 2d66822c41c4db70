package models

import (
	"errors"
	"fmt"

	"homehub/internal/models"
	"homehub/internal/utils"
)

type SendCommandRequest struct {
	HomeID  string       `json:"home_id" binding:"required"`
	Command models.Value `json:"command"`
}

type AddAutomationRequest struct {
	HomeID     string             `json:"home_id" binding:"required"`
	Name       string             `json:"name" binding:"required"`
	Trigger    TriggerRequest     `json:"trigger"`
	Conditions []ConditionRequest `json:"conditions" binding:"dive"`
	Actions    []ActionRequest    `json:"actions" binding:"required,min=1,dive"`
	IsActive   *bool              `json:"is_active"`
}

type TriggerRequest struct {
	Type     string `json:"type" binding:"required,oneof=device_state device_event"`
	DeviceID string `json:"device_id" binding:"required"`
	Key      string `json:"key" binding:"required_if=Type device_state"`
	Event    string `json:"event" binding:"required_if=Type device_event"`
}

type ConditionRequest struct {
	Type     string       `json:"type" binding:"required,oneof=state_equals numeric_compare time_range"`
	DeviceID string       `json:"device_id" binding:"required_unless=Type time_range"`
	Key      string       `json:"key" binding:"required_unless=Type time_range"`
	Operator string       `json:"operator" binding:"omitempty,oneof=> < >= <= =="`
	Value    models.Value `json:"value"`
	Start    string       `json:"start" binding:"required_if=Type time_range"`
	End      string       `json:"end" binding:"required_if=Type time_range"`
}

type ActionRequest struct {
	Type     string       `json:"type" binding:"required,oneof=mqtt_command"`
	DeviceID string       `json:"device_id" binding:"required"`
	Payload  models.Value `json:"payload"`
}

// Validate checks what struct tags cannot express.
func (r AddAutomationRequest) Validate() error {
	for i, c := range r.Conditions {
		switch c.Type {
		case models.ConditionNumericCompare:
			if c.Operator == "" {
				return fmt.Errorf("conditions[%d]: operator required", i)
			}
			if _, ok := c.Value.AsNumber(); !ok {
				return fmt.Errorf("conditions[%d]: value must be a number", i)
			}
		case models.ConditionTimeRange:
			if _, err := utils.ParseClock(c.Start); err != nil {
				return fmt.Errorf("conditions[%d]: %w", i, err)
			}
			if _, err := utils.ParseClock(c.End); err != nil {
				return fmt.Errorf("conditions[%d]: %w", i, err)
			}
		}
	}
	for i, a := range r.Actions {
		if a.Payload.IsNull() {
			return fmt.Errorf("actions[%d]: %w", i, errMissingPayload)
		}
	}
	return nil
}

var errMissingPayload = errors.New("payload required")

// ToAutomation converts a validated request into the stored form.
func (r AddAutomationRequest) ToAutomation() models.Automation {
	a := models.Automation{
		HomeID: r.HomeID,
		Name:   r.Name,
		Trigger: models.Trigger{
			Type:     r.Trigger.Type,
			DeviceID: r.Trigger.DeviceID,
			Key:      r.Trigger.Key,
			Event:    r.Trigger.Event,
		},
		IsActive: r.IsActive == nil || *r.IsActive,
	}
	for _, c := range r.Conditions {
		a.Conditions = append(a.Conditions, models.Condition{
			Type:     c.Type,
			DeviceID: c.DeviceID,
			Key:      c.Key,
			Operator: c.Operator,
			Value:    c.Value,
			Start:    c.Start,
			End:      c.End,
		})
	}
	for _, act := range r.Actions {
		a.Actions = append(a.Actions, models.Action{
			Type:     act.Type,
			DeviceID: act.DeviceID,
			Payload:  act.Payload,
		})
	}
	return a
}

type HistoryEntry struct {
	State      models.State `json:"state"`
	RecordedAt string       `json:"recorded_at"`
}
