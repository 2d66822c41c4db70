package store

import (
	"context"

	"github.com/sirupsen/logrus"

	"homehub/internal/models"
)

// Repository is the durable device state storage.
type Repository interface {
	SaveState(ctx context.Context, deviceID string, state models.State) (homeID string, found bool, err error)
	GetState(ctx context.Context, deviceID string) (models.State, bool, error)
	SetStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error
}

// Cache is a read-through cache in front of the repository. Set is used by
// writers; Fill only stores when no entry exists, so a reader that loaded an
// older row cannot replace a newer state written meanwhile.
type Cache interface {
	Get(ctx context.Context, deviceID string) (models.State, bool, error)
	Set(ctx context.Context, deviceID string, state models.State) error
	Fill(ctx context.Context, deviceID string, state models.State) error
}

// Store owns device state: last known snapshot, history and status.
type Store struct {
	repo   Repository
	cache  Cache
	logger *logrus.Entry
}

// New creates a Store. cache may be nil.
func New(repo Repository, cache Cache, logger *logrus.Entry) *Store {
	return &Store{repo: repo, cache: cache, logger: logger}
}

// SaveState replaces the device's last known state and records a history
// entry. For an unknown device found is false and nothing is written.
func (s *Store) SaveState(ctx context.Context, deviceID string, state models.State) (homeID string, found bool, err error) {
	homeID, found, err = s.repo.SaveState(ctx, deviceID, state)
	if err != nil || !found {
		return homeID, found, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, deviceID, state); err != nil {
			s.logger.WithError(err).WithField("device_id", deviceID).Warn("state cache update failed")
		}
	}
	return homeID, true, nil
}

// GetState returns the last known state, or an empty state when the device
// or its state is unknown. Lookup failures are logged and read as empty.
func (s *Store) GetState(ctx context.Context, deviceID string) models.State {
	if s.cache != nil {
		state, ok, err := s.cache.Get(ctx, deviceID)
		if err != nil {
			s.logger.WithError(err).WithField("device_id", deviceID).Warn("state cache read failed")
		} else if ok {
			return nonNilState(state)
		}
	}

	state, found, err := s.repo.GetState(ctx, deviceID)
	if err != nil {
		s.logger.WithError(err).WithField("device_id", deviceID).Error("failed to load device state")
		return models.State{}
	}
	if !found {
		return models.State{}
	}

	if s.cache != nil {
		if err := s.cache.Fill(ctx, deviceID, state); err != nil {
			s.logger.WithError(err).WithField("device_id", deviceID).Warn("state cache fill failed")
		}
	}
	return nonNilState(state)
}

// SetStatus records the connectivity status. Failures are only logged.
func (s *Store) SetStatus(ctx context.Context, deviceID string, status models.DeviceStatus) {
	if err := s.repo.SetStatus(ctx, deviceID, status); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"device_id": deviceID,
			"status":    status,
		}).Error("failed to update device status")
	}
}

func nonNilState(s models.State) models.State {
	if s == nil {
		return models.State{}
	}
	return s
}
