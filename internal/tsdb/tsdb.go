package tsdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"homehub/internal/config"
	"homehub/internal/models"
)

const (
	measurement     = "device_state"
	pingTimeout     = 5 * time.Second
	batchSize       = 100
	flushIntervalMS = 10000
)

var ErrConnectionFailed = errors.New("tsdb: connection failed")

// Client writes numeric and boolean state fields to InfluxDB. Writes are
// batched and never block the caller.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logrus.Entry
}

// Connect pings the server and starts the non-blocking write API.
func Connect(ctx context.Context, cfg config.InfluxConfig, logger *logrus.Entry) (*Client, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushIntervalMS))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
	}
	go c.logWriteErrors()
	return c, nil
}

func (c *Client) logWriteErrors() {
	for err := range c.writeAPI.Errors() {
		c.logger.WithError(err).Warn("influx write failed")
	}
}

// Record queues one point for the state. States without numeric or boolean
// fields are skipped.
func (c *Client) Record(_ context.Context, deviceID string, state models.State, at time.Time) error {
	if p := statePoint(deviceID, state, at); p != nil {
		c.writeAPI.WritePoint(p)
	}
	return nil
}

// Close flushes pending points and closes the client.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

func statePoint(deviceID string, state models.State, at time.Time) *write.Point {
	fields := make(map[string]interface{}, len(state))
	for key, v := range state {
		switch v.Kind() {
		case models.KindNumber:
			n, _ := v.AsNumber()
			fields[key] = n
		case models.KindBool:
			b, _ := v.AsBool()
			fields[key] = b
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(measurement, map[string]string{"device_id": deviceID}, fields, at)
}
