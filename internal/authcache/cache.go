// Package authcache caches device-token lookups in valkey so the hot upload
// path does not hit Postgres for every chunk. Entries are short-lived; a
// disabled device falls out of the cache within the TTL.
package authcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"dialogger/internal/db"
)

const deviceTTL = 30 * time.Second

type Cache struct {
	client valkey.Client
}

// New connects to the valkey instance at redisURL
// (redis://[:password@]host:port[/db]).
func New(redisURL string) (*Cache, error) {
	u, err := url.Parse(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	password := ""
	if u.User != nil {
		password, _ = u.User.Password()
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{u.Host},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	return &Cache{client: client}, nil
}

func (c *Cache) Close() {
	c.client.Close()
}

// cachedDevice carries the fields auth needs; the token hash itself is the
// key and is never stored in the value.
type cachedDevice struct {
	DeviceID   uuid.UUID  `json:"device_id"`
	PointID    uuid.UUID  `json:"point_id"`
	RegisterID uuid.UUID  `json:"register_id"`
	IsEnabled  bool       `json:"is_enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

func deviceKey(tokenHash string) string {
	return "device:token:" + tokenHash
}

// GetDevice returns the cached device for a token hash, or ok=false on miss
// or any cache error.
func (c *Cache) GetDevice(ctx context.Context, tokenHash string) (*db.Device, bool) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(deviceKey(tokenHash)).Build())
	data, err := resp.AsBytes()
	if err != nil {
		return nil, false
	}

	var cached cachedDevice
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}

	return &db.Device{
		DeviceID:   cached.DeviceID,
		PointID:    cached.PointID,
		RegisterID: cached.RegisterID,
		TokenHash:  tokenHash,
		IsEnabled:  cached.IsEnabled,
		CreatedAt:  cached.CreatedAt,
		LastSeenAt: cached.LastSeenAt,
	}, true
}

// PutDevice stores a device under its token hash. Failures are ignored: the
// cache is an optimization, the database stays authoritative.
func (c *Cache) PutDevice(ctx context.Context, device *db.Device) {
	data, err := json.Marshal(cachedDevice{
		DeviceID:   device.DeviceID,
		PointID:    device.PointID,
		RegisterID: device.RegisterID,
		IsEnabled:  device.IsEnabled,
		CreatedAt:  device.CreatedAt,
		LastSeenAt: device.LastSeenAt,
	})
	if err != nil {
		return
	}

	c.client.Do(ctx,
		c.client.B().Set().Key(deviceKey(device.TokenHash)).Value(string(data)).Ex(deviceTTL).Build(),
	)
}

// InvalidateToken drops a cached token entry, used when a device is toggled.
func (c *Cache) InvalidateToken(ctx context.Context, tokenHash string) {
	c.client.Do(ctx, c.client.B().Del().Key(deviceKey(tokenHash)).Build())
}
