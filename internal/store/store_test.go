package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"homehub/internal/models"
	"homehub/internal/utils"
)

type memRepo struct {
	mu       sync.Mutex
	homes    map[string]string
	states   map[string]models.State
	history  map[string][]models.State
	statuses map[string]models.DeviceStatus
	failGet  error
}

func newMemRepo() *memRepo {
	return &memRepo{
		homes:    map[string]string{},
		states:   map[string]models.State{},
		history:  map[string][]models.State{},
		statuses: map[string]models.DeviceStatus{},
	}
}

func (r *memRepo) SaveState(_ context.Context, deviceID string, state models.State) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	home, ok := r.homes[deviceID]
	if !ok {
		return "", false, nil
	}
	r.states[deviceID] = state
	r.history[deviceID] = append(r.history[deviceID], state)
	return home, true, nil
}

func (r *memRepo) GetState(_ context.Context, deviceID string) (models.State, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet != nil {
		return nil, false, r.failGet
	}
	if _, ok := r.homes[deviceID]; !ok {
		return nil, false, nil
	}
	return r.states[deviceID], true, nil
}

func (r *memRepo) SetStatus(_ context.Context, deviceID string, status models.DeviceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.homes[deviceID]; !ok {
		return errors.New("no such device")
	}
	r.statuses[deviceID] = status
	return nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]models.State
	failGet bool
	sets    int
}

func (c *memCache) Get(_ context.Context, deviceID string) (models.State, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errors.New("cache down")
	}
	s, ok := c.entries[deviceID]
	return s, ok, nil
}

func (c *memCache) Set(_ context.Context, deviceID string, state models.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[deviceID] = state
	c.sets++
	return nil
}

func (c *memCache) Fill(_ context.Context, deviceID string, state models.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[deviceID]; !ok {
		c.entries[deviceID] = state
	}
	return nil
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]models.State{}}
}

func TestSaveStateLastWriteWins(t *testing.T) {
	repo := newMemRepo()
	repo.homes["sensor-1"] = "home-1"
	cache := newMemCache()
	s := New(repo, cache, utils.Discard())
	ctx := context.Background()

	first := models.State{"temp": models.Number(20), "humidity": models.Number(40)}
	second := models.State{"temp": models.Number(22)}
	if home, found, err := s.SaveState(ctx, "sensor-1", first); err != nil || !found || home != "home-1" {
		t.Fatalf("SaveState() = %q, %v, %v", home, found, err)
	}
	if _, _, err := s.SaveState(ctx, "sensor-1", second); err != nil {
		t.Fatal(err)
	}

	if got := s.GetState(ctx, "sensor-1"); !got.Equal(second) {
		t.Errorf("GetState() = %v, want %v", got, second)
	}
	if n := len(repo.history["sensor-1"]); n != 2 {
		t.Errorf("history entries = %d, want 2", n)
	}
}

func TestSaveStateUnknownDevice(t *testing.T) {
	repo := newMemRepo()
	cache := newMemCache()
	s := New(repo, cache, utils.Discard())

	home, found, err := s.SaveState(context.Background(), "ghost", models.State{"x": models.Number(1)})
	if err != nil || found || home != "" {
		t.Fatalf("SaveState() = %q, %v, %v; want unknown", home, found, err)
	}
	if cache.sets != 0 {
		t.Errorf("cache writes = %d, want 0", cache.sets)
	}
	if len(repo.history["ghost"]) != 0 {
		t.Error("history recorded for unknown device")
	}
}

func TestGetStateNeverFails(t *testing.T) {
	repo := newMemRepo()
	s := New(repo, nil, utils.Discard())
	ctx := context.Background()

	if got := s.GetState(ctx, "ghost"); got == nil || len(got) != 0 {
		t.Errorf("GetState(unknown) = %v, want empty", got)
	}

	repo.homes["sensor-1"] = "home-1"
	repo.failGet = errors.New("connection refused")
	if got := s.GetState(ctx, "sensor-1"); got == nil || len(got) != 0 {
		t.Errorf("GetState(db error) = %v, want empty", got)
	}
}

func TestGetStateFallsBackWhenCacheFails(t *testing.T) {
	repo := newMemRepo()
	repo.homes["sensor-1"] = "home-1"
	repo.states["sensor-1"] = models.State{"on": models.Bool(true)}
	cache := newMemCache()
	cache.failGet = true
	s := New(repo, cache, utils.Discard())

	got := s.GetState(context.Background(), "sensor-1")
	if !got.Equal(models.State{"on": models.Bool(true)}) {
		t.Errorf("GetState() = %v", got)
	}
}

func TestGetStateFillsCache(t *testing.T) {
	repo := newMemRepo()
	repo.homes["sensor-1"] = "home-1"
	repo.states["sensor-1"] = models.State{"level": models.Number(3)}
	cache := newMemCache()
	s := New(repo, cache, utils.Discard())

	s.GetState(context.Background(), "sensor-1")
	if _, ok := cache.entries["sensor-1"]; !ok {
		t.Error("cache not filled after database read")
	}
}

func TestSetStatusIsBestEffort(t *testing.T) {
	repo := newMemRepo()
	repo.homes["sensor-1"] = "home-1"
	s := New(repo, nil, utils.Discard())

	s.SetStatus(context.Background(), "sensor-1", models.StatusOnline)
	s.SetStatus(context.Background(), "ghost", models.StatusOffline)

	if repo.statuses["sensor-1"] != models.StatusOnline {
		t.Errorf("status = %q, want online", repo.statuses["sensor-1"])
	}
}

// pausingRepo holds GetState after the row has been read until release is
// closed.
type pausingRepo struct {
	*memRepo
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (r *pausingRepo) GetState(ctx context.Context, deviceID string) (models.State, bool, error) {
	state, found, err := r.memRepo.GetState(ctx, deviceID)
	r.once.Do(func() { close(r.loaded) })
	<-r.release
	return state, found, err
}

func TestGetStateFillDoesNotOverwriteConcurrentSave(t *testing.T) {
	mem := newMemRepo()
	mem.homes["sensor-1"] = "home-1"
	mem.states["sensor-1"] = models.State{"temp": models.Number(20)}
	repo := &pausingRepo{memRepo: mem, loaded: make(chan struct{}), release: make(chan struct{})}
	cache := newMemCache()
	s := New(repo, cache, utils.Discard())
	ctx := context.Background()

	done := make(chan models.State)
	go func() { done <- s.GetState(ctx, "sensor-1") }()

	<-repo.loaded
	fresh := models.State{"temp": models.Number(30)}
	if _, found, err := s.SaveState(ctx, "sensor-1", fresh); err != nil || !found {
		t.Fatalf("SaveState() = %v, %v", found, err)
	}
	close(repo.release)
	<-done

	cache.mu.Lock()
	cached := cache.entries["sensor-1"]
	cache.mu.Unlock()
	if !cached.Equal(fresh) {
		t.Errorf("cached state = %v after concurrent save, want %v", cached, fresh)
	}
	if got := s.GetState(ctx, "sensor-1"); !got.Equal(fresh) {
		t.Errorf("GetState() = %v, want %v", got, fresh)
	}
}
