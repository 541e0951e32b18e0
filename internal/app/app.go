package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"giftline/internal/config"
	"giftline/internal/db"
	"giftline/internal/engine"
	"giftline/internal/migrate"
)

// Open opens the configured database, applies pending migrations and builds
// an Engine on top of it. The caller owns the returned *sql.DB.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (engine.Engine, *sql.DB, error) {
	conn, err := db.Open(db.Config{Path: cfg.Database.Path, BusyTimeout: cfg.BusyTimeout()})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	applied, err := migrate.Apply(ctx, conn)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	for _, name := range applied {
		log.Info().Str("migration", name).Msg("applied migration")
	}
	return engine.New(conn, cfg, log), conn, nil
}
