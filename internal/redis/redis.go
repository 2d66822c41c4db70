package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"homehub/internal/models"
	"homehub/internal/utils"
)

// NewRedisClient creates a Redis client
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// StreamRecorder appends accepted states to a capped stream per device.
type StreamRecorder struct {
	client *redis.Client
	maxLen int64
}

// NewStreamRecorder creates a recorder. A non-positive maxLen uses utils.StreamMaxLen.
func NewStreamRecorder(client *redis.Client, maxLen int64) *StreamRecorder {
	if maxLen <= 0 {
		maxLen = utils.StreamMaxLen
	}
	return &StreamRecorder{client: client, maxLen: maxLen}
}

func streamKey(deviceID string) string {
	return fmt.Sprintf("stream:device:%s", deviceID)
}

// Record appends one state entry.
func (r *StreamRecorder) Record(ctx context.Context, deviceID string, state models.State, at time.Time) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: encode state: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(deviceID),
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"state":     string(raw),
			"timestamp": at.UnixNano(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: append to %s: %w", streamKey(deviceID), err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (r *StreamRecorder) Recent(ctx context.Context, deviceID string, n int64) ([]models.StateHistoryEntry, error) {
	msgs, err := r.client.XRevRangeN(ctx, streamKey(deviceID), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read %s: %w", streamKey(deviceID), err)
	}

	entries := make([]models.StateHistoryEntry, 0, len(msgs))
	for _, msg := range msgs {
		entry, err := decodeEntry(deviceID, msg.Values)
		if err != nil {
			return nil, fmt.Errorf("redis: entry %s: %w", msg.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeEntry(deviceID string, values map[string]interface{}) (models.StateHistoryEntry, error) {
	entry := models.StateHistoryEntry{DeviceID: deviceID}

	raw, _ := values["state"].(string)
	if err := json.Unmarshal([]byte(raw), &entry.State); err != nil {
		return entry, err
	}

	ts, _ := values["timestamp"].(string)
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return entry, fmt.Errorf("bad timestamp %q", ts)
	}
	entry.RecordedAt = time.Unix(0, nanos).UTC()
	return entry, nil
}
