package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"homehub/internal/models"
)

const saveStateSQL = `
WITH updated AS (
	UPDATE devices SET last_known_state = $2::jsonb, updated_at = NOW()
	WHERE id = $1
	RETURNING id, home_id
), history AS (
	INSERT INTO device_states (device_id, state)
	SELECT id, $2::jsonb FROM updated
)
SELECT home_id FROM updated`

// SaveState replaces the device's last known state and appends a history
// row in one statement. found is false when the device does not exist, in
// which case nothing is written.
func (d *DB) SaveState(ctx context.Context, deviceID string, state models.State) (homeID string, found bool, err error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", false, fmt.Errorf("db: encode state: %w", err)
	}

	err = d.pool.QueryRow(ctx, saveStateSQL, deviceID, data).Scan(&homeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("db: save state for %s: %w", deviceID, err)
	}
	return homeID, true, nil
}

// GetState returns the last known state. found is false for unknown devices.
func (d *DB) GetState(ctx context.Context, deviceID string) (state models.State, found bool, err error) {
	var data []byte
	err = d.pool.QueryRow(ctx, "SELECT last_known_state FROM devices WHERE id = $1", deviceID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("db: get state for %s: %w", deviceID, err)
	}

	state = models.State{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, true, fmt.Errorf("db: decode state for %s: %w", deviceID, err)
		}
	}
	return state, true, nil
}

// SetStatus updates the connectivity status. Unknown devices are ignored.
func (d *DB) SetStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error {
	_, err := d.pool.Exec(ctx, "UPDATE devices SET status = $1, updated_at = NOW() WHERE id = $2", string(status), deviceID)
	if err != nil {
		return fmt.Errorf("db: set status for %s: %w", deviceID, err)
	}
	return nil
}

// GetDevice fetches a device by ID
func (d *DB) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	var (
		device models.Device
		status string
		data   []byte
	)
	err := d.pool.QueryRow(ctx,
		"SELECT id, home_id, name, type, status, last_known_state, updated_at FROM devices WHERE id = $1", deviceID).
		Scan(&device.ID, &device.HomeID, &device.Name, &device.Type, &status, &data, &device.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: get device %s: %w", deviceID, err)
	}
	device.Status = models.DeviceStatus(status)
	if err := json.Unmarshal(data, &device.LastKnownState); err != nil {
		return nil, fmt.Errorf("db: decode state for %s: %w", deviceID, err)
	}
	return &device, nil
}

// DeviceHomeID returns the home a device belongs to.
func (d *DB) DeviceHomeID(ctx context.Context, deviceID string) (string, error) {
	var homeID string
	err := d.pool.QueryRow(ctx, "SELECT home_id FROM devices WHERE id = $1", deviceID).Scan(&homeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("db: device home for %s: %w", deviceID, err)
	}
	return homeID, nil
}

// ListActiveByDevice returns active automations whose trigger names deviceID
// or the any-device wildcard, oldest first.
func (d *DB) ListActiveByDevice(ctx context.Context, deviceID string) ([]models.Automation, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, home_id, name, trigger, conditions, actions, is_active, created_at, updated_at
		FROM automations
		WHERE is_active AND (trigger->>'device_id' = $1 OR trigger->>'device_id' = $2)
		ORDER BY created_at, id`, deviceID, models.AnyDevice)
	if err != nil {
		return nil, fmt.Errorf("db: list automations for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var automations []models.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		automations = append(automations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: list automations for %s: %w", deviceID, err)
	}
	return automations, nil
}

// ListByHome returns every automation of a home, oldest first.
func (d *DB) ListByHome(ctx context.Context, homeID string) ([]models.Automation, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, home_id, name, trigger, conditions, actions, is_active, created_at, updated_at
		FROM automations
		WHERE home_id = $1
		ORDER BY created_at, id`, homeID)
	if err != nil {
		return nil, fmt.Errorf("db: list automations for home %s: %w", homeID, err)
	}
	defer rows.Close()

	automations := []models.Automation{}
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		automations = append(automations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: list automations for home %s: %w", homeID, err)
	}
	return automations, nil
}

// InsertAutomation stores a new automation and fills in its id and timestamps.
func (d *DB) InsertAutomation(ctx context.Context, a *models.Automation) error {
	trigger, err := json.Marshal(a.Trigger)
	if err != nil {
		return fmt.Errorf("db: encode trigger: %w", err)
	}
	conditions, err := json.Marshal(nonNil(a.Conditions))
	if err != nil {
		return fmt.Errorf("db: encode conditions: %w", err)
	}
	actions, err := json.Marshal(nonNil(a.Actions))
	if err != nil {
		return fmt.Errorf("db: encode actions: %w", err)
	}

	err = d.pool.QueryRow(ctx, `
		INSERT INTO automations (home_id, name, trigger, conditions, actions, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		a.HomeID, a.Name, trigger, conditions, actions, a.IsActive).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db: insert automation: %w", err)
	}
	return nil
}

func scanAutomation(rows pgx.Rows) (models.Automation, error) {
	var (
		a                            models.Automation
		trigger, conditions, actions []byte
	)
	if err := rows.Scan(&a.ID, &a.HomeID, &a.Name, &trigger, &conditions, &actions, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, fmt.Errorf("db: scan automation: %w", err)
	}
	if err := json.Unmarshal(trigger, &a.Trigger); err != nil {
		return a, fmt.Errorf("db: automation %s trigger: %w", a.ID, err)
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &a.Conditions); err != nil {
			return a, fmt.Errorf("db: automation %s conditions: %w", a.ID, err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &a.Actions); err != nil {
			return a, fmt.Errorf("db: automation %s actions: %w", a.ID, err)
		}
	}
	return a, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
