package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// To abstract db methods from pgxpool api
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db   DBTX
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		db:   pool,
		pool: pool,
	}
}

// DeviceStore is the surface the ingest HTTP handlers need.
type DeviceStore interface {
	CreateDevice(ctx context.Context, device *Device) error
	GetDeviceByTokenHash(ctx context.Context, tokenHash string) (*Device, error)
	GetDeviceByID(ctx context.Context, deviceID uuid.UUID) (*Device, error)
	ListDevices(ctx context.Context) ([]*Device, error)
	SetDeviceEnabled(ctx context.Context, deviceID uuid.UUID, enabled bool) (*Device, error)
	TouchDeviceLastSeen(ctx context.Context, deviceID uuid.UUID) error
}

// ChunkStore is the surface the ingest HTTP handlers need for chunks.
type ChunkStore interface {
	CreateChunk(ctx context.Context, chunk *AudioChunk) error
	GetChunkByID(ctx context.Context, chunkID uuid.UUID) (*AudioChunk, error)
	FindDuplicateChunk(ctx context.Context, deviceID uuid.UUID, startTs time.Time, fileHash string) (*AudioChunk, error)
	ChunkExistsForPath(ctx context.Context, filePath string) (bool, error)
}

func CreatePostgresPool(parentCtx context.Context, dburl string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(parentCtx, time.Second*3)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dburl)
	if err != nil {
		return nil, err
	}

	// Statement timeout guards every worker/ingest query.
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = "30000"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// Ping reports whether the database answers, for health checks.
func (s *PostgresStore) Ping(parentCtx context.Context) bool {
	ctx, cancel := context.WithTimeout(parentCtx, time.Second*3)
	defer cancel()

	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one) == nil
}
