package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"watchparty/internal/protocol"
	"watchparty/internal/rooms"
)

const (
	MaxConns        = 10
	MinConns        = 2
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute
)

// DBTX is satisfied by *pgxpool.Pool and by pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	config.MaxConns = MaxConns
	config.MinConns = MinConns
	config.MaxConnLifetime = MaxConnLifetime
	config.MaxConnIdleTime = MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Postgres keeps room metadata in the watch_rooms table.
type Postgres struct {
	db DBTX
}

func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) SaveState(ctx context.Context, state protocol.RoomState) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO watch_rooms (room_id, video_id, owner_id, is_playing, position, closed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (room_id) DO UPDATE SET
			video_id = EXCLUDED.video_id,
			owner_id = EXCLUDED.owner_id,
			is_playing = EXCLUDED.is_playing,
			position = EXCLUDED.position,
			closed = watch_rooms.closed OR EXCLUDED.closed,
			updated_at = EXCLUDED.updated_at`,
		state.RoomID, state.VideoID, state.OwnerID, state.IsPlaying, state.Position, state.Closed, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save room %s: %w", state.RoomID, err)
	}
	return nil
}

func (p *Postgres) LoadState(ctx context.Context, roomID string) (protocol.RoomState, error) {
	var state protocol.RoomState
	err := p.db.QueryRow(ctx, `
		SELECT room_id, video_id, owner_id, is_playing, position, closed, updated_at
		FROM watch_rooms WHERE room_id = $1`, roomID).
		Scan(&state.RoomID, &state.VideoID, &state.OwnerID, &state.IsPlaying, &state.Position, &state.Closed, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.RoomState{}, rooms.ErrRoomNotFound
	}
	if err != nil {
		return protocol.RoomState{}, fmt.Errorf("load room %s: %w", roomID, err)
	}
	return state, nil
}
