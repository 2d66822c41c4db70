package telemetry

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

type message struct {
	topic   string
	payload []byte
}

// shardedQueue keeps messages of one topic in arrival order while topics
// hashed to different shards are processed concurrently.
type shardedQueue struct {
	mu      sync.RWMutex
	shards  []chan message
	stopped bool
	wg      sync.WaitGroup
}

func newShardedQueue(workers, buffer int, handle func(message)) *shardedQueue {
	if workers <= 0 {
		workers = 1
	}
	q := &shardedQueue{shards: make([]chan message, workers)}
	for i := range q.shards {
		ch := make(chan message, buffer)
		q.shards[i] = ch
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for m := range ch {
				handle(m)
			}
		}()
	}
	return q
}

func (q *shardedQueue) shardFor(topic string) int {
	return int(xxhash.Sum64String(topic) % uint64(len(q.shards)))
}

// push blocks while the topic's shard is full.
func (q *shardedQueue) push(m message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrStopped
	}
	q.shards[q.shardFor(m.topic)] <- m
	return nil
}

// stop drains queued messages and waits for the workers.
func (q *shardedQueue) stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for _, ch := range q.shards {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
