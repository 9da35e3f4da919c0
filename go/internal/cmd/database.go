package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/config"
	"github.com/mcdev12/codeclash/go/internal/results"
)

func setupDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, *results.Store, error) {
	pool, err := results.Connect(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	store := results.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to prepare results schema: %w", err)
	}

	log.Info().
		Str("host", pool.Config().ConnConfig.Host).
		Str("database", pool.Config().ConnConfig.Database).
		Msg("connected to results database")
	return pool, store, nil
}
