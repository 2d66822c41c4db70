package mqtt

import (
	"context"
	"errors"
	"testing"

	"homehub/internal/utils"
)

// fakeMessage implements paho.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestClient() *Client {
	return NewClient(Options{Broker: "tcp://127.0.0.1:1", ClientID: "homehub-test"}, utils.Discard())
}

func TestPublishWhileDisconnected(t *testing.T) {
	c := newTestClient()

	if c.State() != Disconnected {
		t.Fatalf("State() = %v, want disconnected", c.State())
	}
	err := c.Publish(context.Background(), CommandTopic("lamp-1"), 1, false, []byte(`{"on":true}`))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishWhileConnecting(t *testing.T) {
	c := newTestClient()
	c.setState(Connecting)

	err := c.Publish(context.Background(), CommandTopic("lamp-1"), 1, false, []byte(`{}`))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := newTestClient()

	if err := c.Publish(context.Background(), "", 1, false, nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish(context.Background(), "a/b", 3, false, nil); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribeWhileDisconnectedIsRecorded(t *testing.T) {
	c := newTestClient()

	err := c.Subscribe(context.Background(), DeviceTopic("s1", ClassState), 1, func(string, []byte) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	c.subMu.RLock()
	_, ok := c.subs["station/s1/device/+/state"]
	c.subMu.RUnlock()
	if !ok {
		t.Error("subscription was not recorded for restore")
	}

	if err := c.Subscribe(context.Background(), "x", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
}

func TestConnectionStateTransitions(t *testing.T) {
	c := newTestClient()

	c.handleConnect()
	if c.State() != Connected {
		t.Errorf("after connect State() = %v, want connected", c.State())
	}
	c.handleConnectionLost(errors.New("eof"))
	if c.State() != Disconnected {
		t.Errorf("after loss State() = %v, want disconnected", c.State())
	}
}

func TestWrapHandlerRecoversPanic(t *testing.T) {
	c := newTestClient()

	var got string
	ok := c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + " " + string(payload)
		return errors.New("ignored")
	})
	ok(nil, fakeMessage{topic: "t/1", payload: []byte("hi")})
	if got != "t/1 hi" {
		t.Errorf("handler saw %q", got)
	}

	panicking := c.wrapHandler(func(string, []byte) error { panic("boom") })
	panicking(nil, fakeMessage{topic: "t/2"})
}

func TestParseDeviceTopic(t *testing.T) {
	tests := []struct {
		topic     string
		wantID    string
		wantClass string
		wantOK    bool
	}{
		{"station/s1/device/sensor-1/state", "sensor-1", "state", true},
		{"station/s1/device/sensor-1/heartbeat", "sensor-1", "heartbeat", true},
		{"station/s1/device/sensor-1/firmware", "sensor-1", "firmware", true},
		{"station/s1/device//state", "", "", false},
		{"station/s1/device/sensor-1", "", "", false},
		{"station/s1/node/sensor-1/state", "", "", false},
		{"device/sensor-1/command", "", "", false},
		{"station/s1/device/a/state/extra", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, class, ok := ParseDeviceTopic(tt.topic)
			if id != tt.wantID || class != tt.wantClass || ok != tt.wantOK {
				t.Errorf("ParseDeviceTopic() = %q, %q, %v; want %q, %q, %v", id, class, ok, tt.wantID, tt.wantClass, tt.wantOK)
			}
		})
	}
}

func TestTopics(t *testing.T) {
	if got := CommandTopic("lamp-1"); got != "device/lamp-1/command" {
		t.Errorf("CommandTopic() = %q", got)
	}
	want := []string{
		"station/s1/device/+/state",
		"station/s1/device/+/event",
		"station/s1/device/+/heartbeat",
	}
	got := DeviceTopics("s1")
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DeviceTopics()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
