package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/lean-coffee/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the database connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection pool
func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Ping verifies database connectivity
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Repositories bundles every repository backed by one pool
type Repositories struct {
	Sessions     *SessionRepository
	Topics       *TopicRepository
	Votes        *VoteRepository
	Participants *ParticipantRepository
	Notes        *NoteRepository
	Devices      *DeviceTokenRepository
}

// NewRepositories creates all repositories on top of db
func NewRepositories(db DBTX) *Repositories {
	return &Repositories{
		Sessions:     NewSessionRepository(db),
		Topics:       NewTopicRepository(db),
		Votes:        NewVoteRepository(db),
		Participants: NewParticipantRepository(db),
		Notes:        NewNoteRepository(db),
		Devices:      NewDeviceTokenRepository(db),
	}
}
