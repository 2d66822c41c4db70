package models

import (
	"time"
)

// DeviceStatus is the connectivity status reported by heartbeats.
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// Device represents a device model
type Device struct {
	ID             string       `json:"id"`
	HomeID         string       `json:"home_id"`
	Name           string       `json:"name"`
	Type           string       `json:"type"`
	Status         DeviceStatus `json:"status"`
	LastKnownState State        `json:"last_known_state"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// StateHistoryEntry is one accepted state snapshot.
type StateHistoryEntry struct {
	DeviceID   string    `json:"device_id"`
	State      State     `json:"state"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AnyDevice in a trigger's device_id matches updates from every device.
const AnyDevice = "*"

const (
	TriggerDeviceState = "device_state"
	TriggerDeviceEvent = "device_event"
)

// Trigger decides whether an automation is a candidate for an update.
type Trigger struct {
	Type     string `json:"type"`      // "device_state", "device_event"
	DeviceID string `json:"device_id"` // device id or AnyDevice
	Key      string `json:"key,omitempty"`
	Event    string `json:"event,omitempty"`
}

// MatchesDevice reports whether the trigger refers to deviceID.
func (t Trigger) MatchesDevice(deviceID string) bool {
	return t.DeviceID == deviceID || t.DeviceID == AnyDevice
}

const (
	ConditionStateEquals    = "state_equals"
	ConditionNumericCompare = "numeric_compare"
	ConditionTimeRange      = "time_range"
)

// Condition represents a condition in an automation
type Condition struct {
	Type     string `json:"type"`                // "state_equals", "numeric_compare", "time_range"
	DeviceID string `json:"device_id,omitempty"` // state_equals, numeric_compare
	Key      string `json:"key,omitempty"`
	Operator string `json:"operator,omitempty"` // ">", "<", ">=", "<=", "=="
	Value    Value  `json:"value"`
	Start    string `json:"start,omitempty"` // "HH:MM", time_range only
	End      string `json:"end,omitempty"`
}

const ActionMQTTCommand = "mqtt_command"

// Action represents an action in an automation
type Action struct {
	Type     string `json:"type"` // "mqtt_command"
	DeviceID string `json:"device_id"`
	Payload  Value  `json:"payload"`
}

// Automation represents an automation model
type Automation struct {
	ID         string      `json:"id"`
	HomeID     string      `json:"home_id"`
	Name       string      `json:"name"`
	Trigger    Trigger     `json:"trigger"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	IsActive   bool        `json:"is_active"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
