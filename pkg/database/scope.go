package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreScope binds repository calls to one graph store. The same repository
// code runs against the engine's local store and any tenant store; the scope
// decides which pool the SQL hits.
type StoreScope struct {
	// Pool is the bounded connection pool for this store.
	Pool *pgxpool.Pool

	// URI identifies the store. Empty means the engine's local store.
	URI string
}

// Begin starts a transaction on this store.
func (s *StoreScope) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.Pool.Begin(ctx)
}

// IsLocal reports whether this scope points at the engine's local store.
func (s *StoreScope) IsLocal() bool {
	return s.URI == ""
}
