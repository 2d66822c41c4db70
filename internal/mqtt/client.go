package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultMaxReconnect   = time.Minute
	defaultConnectTimeout = 10 * time.Second
	defaultKeepAlive      = 60 * time.Second
	operationTimeout      = 5 * time.Second
	disconnectQuiesce     = 250 // milliseconds
	maxQoS                = 2
)

// ConnState is the transport connection state.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MessageHandler processes one inbound message. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Options configures the broker connection.
type Options struct {
	Broker               string
	ClientID             string
	Username             string
	Password             string
	ReconnectDelay       time.Duration
	MaxReconnectInterval time.Duration
	ConnectTimeout       time.Duration
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client wraps paho with an explicit connection state and subscriptions
// that survive reconnects.
type Client struct {
	client paho.Client
	opts   Options
	logger *logrus.Entry

	state atomic.Int32

	subMu sync.RWMutex
	subs  map[string]subscription
}

// NewClient builds a client. Nothing is dialled until Connect.
func NewClient(opts Options, logger *logrus.Entry) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxReconnectInterval <= 0 {
		opts.MaxReconnectInterval = defaultMaxReconnect
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	c := &Client{
		opts:   opts,
		logger: logger,
		subs:   make(map[string]subscription),
	}

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(opts.ReconnectDelay).
		SetMaxReconnectInterval(opts.MaxReconnectInterval).
		SetConnectTimeout(opts.ConnectTimeout).
		SetKeepAlive(defaultKeepAlive).
		SetOrderMatters(true)
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}
	po.SetOnConnectHandler(func(paho.Client) { c.handleConnect() })
	po.SetConnectionLostHandler(func(_ paho.Client, err error) { c.handleConnectionLost(err) })
	po.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		c.setState(Connecting)
		c.logger.Info("reconnecting to broker")
	})

	c.client = paho.NewClient(po)
	return c
}

// Connect starts connecting. The retry loop keeps running in the background
// when ctx ends before the broker accepts the connection.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(Connecting)
	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			c.setState(Disconnected)
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		// the OnConnect callback may still be pending
		c.setState(Connected)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
}

// State reports the current connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// IsConnected reports whether publishing is currently possible.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// Publish sends payload on topic. It fails with ErrNotConnected without
// sending anything unless the client is Connected.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	return c.wait(ctx, token, ErrPublishFailed)
}

// Subscribe registers handler for topic. The subscription is remembered and
// restored after every reconnect; while disconnected it is only recorded.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}

	c.subMu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	return c.wait(ctx, token, ErrSubscribeFailed)
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(disconnectQuiesce)
	c.setState(Disconnected)
}

func (c *Client) wait(ctx context.Context, token paho.Token, kind error) error {
	timer := time.NewTimer(operationTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", kind, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: %w", kind, ErrTimeout)
	}
}

func (c *Client) setState(s ConnState) {
	prev := ConnState(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.WithFields(logrus.Fields{"from": prev.String(), "to": s.String()}).Debug("connection state changed")
	}
}

func (c *Client) handleConnect() {
	c.setState(Connected)
	c.logger.WithField("broker", c.opts.Broker).Info("connected to broker")
	c.restoreSubscriptions()
}

func (c *Client) handleConnectionLost(err error) {
	c.setState(Disconnected)
	c.logger.WithError(err).Warn("broker connection lost")
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subs {
		token := c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
		go func(topic string, token paho.Token) {
			if token.WaitTimeout(operationTimeout) && token.Error() != nil {
				c.logger.WithError(token.Error()).WithField("topic", topic).Error("restore subscription failed")
			}
		}(topic, token)
	}
}

func (c *Client) wrapHandler(handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithFields(logrus.Fields{"topic": msg.Topic(), "panic": r}).Error("message handler panic recovered")
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.WithError(err).WithField("topic", msg.Topic()).Warn("message handler returned error")
		}
	}
}
