package mqtt

import (
	"fmt"
	"strings"
)

// Inbound message classes, the last topic segment.
const (
	ClassState     = "state"
	ClassEvent     = "event"
	ClassHeartbeat = "heartbeat"
)

// DeviceTopic is the wildcard subscription for one message class of a station.
func DeviceTopic(stationID, class string) string {
	return fmt.Sprintf("station/%s/device/+/%s", stationID, class)
}

// DeviceTopics lists the subscriptions a station needs.
func DeviceTopics(stationID string) []string {
	return []string{
		DeviceTopic(stationID, ClassState),
		DeviceTopic(stationID, ClassEvent),
		DeviceTopic(stationID, ClassHeartbeat),
	}
}

// CommandTopic is where commands for deviceID are published.
func CommandTopic(deviceID string) string {
	return "device/" + deviceID + "/command"
}

// ParseDeviceTopic splits station/{station}/device/{id}/{class}.
// The class is returned as-is; callers decide which classes they handle.
func ParseDeviceTopic(topic string) (deviceID, class string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "station" || parts[2] != "device" {
		return "", "", false
	}
	if parts[1] == "" || parts[3] == "" || parts[4] == "" {
		return "", "", false
	}
	return parts[3], parts[4], true
}
