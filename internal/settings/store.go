package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads settings from the app_settings table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Postgres-backed provider.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get implements Provider.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM app_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotConfigured
	}
	if err != nil {
		return "", fmt.Errorf("settings: load %s: %w", key, err)
	}
	return value, nil
}
