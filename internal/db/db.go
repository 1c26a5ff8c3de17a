package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"talentchat/internal/config"
)

// NewPool construye y devuelve un pool de conexiones configurado.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// Ping verifica conectividad con la base de datos.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}

// schema es el unico estado persistido del nucleo de mensajeria: un log append-only.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	room_id    TEXT        NOT NULL,
	sender     TEXT        NOT NULL,
	body       TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at, id);
CREATE INDEX IF NOT EXISTS messages_room_pattern_idx ON messages (room_id text_pattern_ops);
CREATE INDEX IF NOT EXISTS messages_room_reverse_idx ON messages (reverse(room_id) text_pattern_ops);
`

// EnsureSchema crea la tabla de mensajes si no existe.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
