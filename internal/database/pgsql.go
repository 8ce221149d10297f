package database

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
)

type PostgreSQL struct {
	URI string
}

func (pg *PostgreSQL) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, pg.URI)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (pg *PostgreSQL) Close(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
