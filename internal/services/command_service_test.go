package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"homehub/internal/db"
	"homehub/internal/models"
	"homehub/internal/mqtt"
	"homehub/internal/utils"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakeTransport) Publish(_ context.Context, topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic, qos, retained, string(payload)})
	return nil
}

type fakeDirectory map[string]string

func (d fakeDirectory) DeviceHomeID(_ context.Context, deviceID string) (string, error) {
	home, ok := d[deviceID]
	if !ok {
		return "", db.ErrNotFound
	}
	return home, nil
}

func TestCommandPublisherPublish(t *testing.T) {
	transport := &fakeTransport{}
	p := NewCommandPublisher(transport, utils.Discard())

	payload := models.Map(map[string]models.Value{"power": models.String("on")})
	if err := p.Publish(context.Background(), "fan-1", payload); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(transport.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(transport.sent))
	}
	got := transport.sent[0]
	want := published{topic: "device/fan-1/command", qos: 1, retained: false, payload: `{"power":"on"}`}
	if got != want {
		t.Errorf("published %+v, want %+v", got, want)
	}
}

func TestCommandPublisherNotConnected(t *testing.T) {
	transport := &fakeTransport{err: mqtt.ErrNotConnected}
	p := NewCommandPublisher(transport, utils.Discard())

	err := p.Publish(context.Background(), "fan-1", models.Bool(true))
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if len(transport.sent) != 0 {
		t.Errorf("sent %d messages while disconnected", len(transport.sent))
	}
}

func TestPublishWithRealClientWhileDisconnected(t *testing.T) {
	client := mqtt.NewClient(mqtt.Options{Broker: "tcp://127.0.0.1:1", ClientID: "test"}, utils.Discard())
	p := NewCommandPublisher(client, utils.Discard())

	err := p.Publish(context.Background(), "fan-1", models.Bool(true))
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestCommandServiceSendCommand(t *testing.T) {
	transport := &fakeTransport{}
	svc := NewCommandService(
		fakeDirectory{"fan-1": "home-1"},
		NewCommandPublisher(transport, utils.Discard()),
	)
	ctx := context.Background()
	cmd := models.Map(map[string]models.Value{"speed": models.Number(2)})

	if err := svc.SendCommand(ctx, "home-1", "fan-1", cmd); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if err := svc.SendCommand(ctx, "home-2", "fan-1", cmd); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("other home error = %v, want ErrDeviceNotFound", err)
	}
	if err := svc.SendCommand(ctx, "home-1", "ghost", cmd); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("unknown device error = %v, want ErrDeviceNotFound", err)
	}
	if len(transport.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(transport.sent))
	}
}
