package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned on unique-constraint conflicts.
var ErrAlreadyExists = errors.New("already exists")

const deviceColumns = `device_id, point_id, register_id, token_hash, is_enabled, created_at, last_seen_at`

func scanDevice(row pgx.Row) (*Device, error) {
	d := &Device{}
	err := row.Scan(
		&d.DeviceID,
		&d.PointID,
		&d.RegisterID,
		&d.TokenHash,
		&d.IsEnabled,
		&d.CreatedAt,
		&d.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CreateDevice registers a new recorder device.
func (s *PostgresStore) CreateDevice(ctx context.Context, device *Device) error {
	query := `
		INSERT INTO devices (device_id, point_id, register_id, token_hash, is_enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := s.db.QueryRow(ctx, query,
		device.DeviceID,
		device.PointID,
		device.RegisterID,
		device.TokenHash,
		device.IsEnabled,
	).Scan(&device.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("device %s: %w", device.DeviceID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

// GetDeviceByTokenHash finds a device by the SHA-256 hash of its bearer
// token. Disabled devices are still returned so callers can answer 403
// instead of 401.
func (s *PostgresStore) GetDeviceByTokenHash(ctx context.Context, tokenHash string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE token_hash = $1`

	device, err := scanDevice(s.db.QueryRow(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device by token: %w", err)
	}

	return device, nil
}

func (s *PostgresStore) GetDeviceByID(ctx context.Context, deviceID uuid.UUID) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`

	device, err := scanDevice(s.db.QueryRow(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return device, nil
}

// ListDevices returns all registered devices, newest first.
func (s *PostgresStore) ListDevices(ctx context.Context) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := []*Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	return devices, nil
}

// SetDeviceEnabled toggles a device and returns the updated row.
func (s *PostgresStore) SetDeviceEnabled(ctx context.Context, deviceID uuid.UUID, enabled bool) (*Device, error) {
	query := `
		UPDATE devices SET is_enabled = $2
		WHERE device_id = $1
		RETURNING ` + deviceColumns

	device, err := scanDevice(s.db.QueryRow(ctx, query, deviceID, enabled))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update device: %w", err)
	}

	return device, nil
}

// TouchDeviceLastSeen stamps last_seen_at after a successful upload.
func (s *PostgresStore) TouchDeviceLastSeen(ctx context.Context, deviceID uuid.UUID) error {
	query := `UPDATE devices SET last_seen_at = $2 WHERE device_id = $1`

	_, err := s.db.Exec(ctx, query, deviceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}

	return nil
}
