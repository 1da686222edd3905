package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/config"
	"github.com/chronicle-ai/chronicle-engine/pkg/logging"
)

// StoreRegistry owns one bounded pool per graph store URI. The engine's local
// store is registered at construction; tenant stores are opened lazily on
// first access, with base tables created through migrations before the pool
// is handed out.
type StoreRegistry struct {
	mu     sync.RWMutex
	stores map[string]*StoreScope

	local          *StoreScope
	localURI       string
	cfg            *config.StoreConfig
	migrationsPath string
	logger         *zap.Logger
}

// NewStoreRegistry builds a registry around the already-migrated local store.
func NewStoreRegistry(local *DB, localURI string, cfg *config.StoreConfig, migrationsPath string, logger *zap.Logger) *StoreRegistry {
	return &StoreRegistry{
		stores:         make(map[string]*StoreScope),
		local:          &StoreScope{Pool: local.Pool, URI: ""},
		localURI:       localURI,
		cfg:            cfg,
		migrationsPath: migrationsPath,
		logger:         logger,
	}
}

// IsLocal reports whether uri addresses the engine's local store. An empty
// URI always means local.
func (r *StoreRegistry) IsLocal(uri string) bool {
	return uri == "" || uri == r.localURI
}

// Local returns the scope for the engine's local store.
func (r *StoreRegistry) Local() *StoreScope {
	return r.local
}

// Get returns the scope for the given store URI, opening the pool on first
// access. Any failure to reach or prepare the store surfaces as
// apperrors.ErrStoreUnavailable.
func (r *StoreRegistry) Get(ctx context.Context, uri string) (*StoreScope, error) {
	if r.IsLocal(uri) {
		return r.local, nil
	}

	r.mu.RLock()
	scope, ok := r.stores[uri]
	r.mu.RUnlock()
	if ok {
		return scope, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock; another caller may have opened it.
	if scope, ok := r.stores[uri]; ok {
		return scope, nil
	}

	scope, err := r.open(ctx, uri)
	if err != nil {
		r.logger.Error("Failed to open tenant store",
			zap.String("store", logging.SanitizeConnectionString(uri)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}

	r.stores[uri] = scope
	r.logger.Info("Opened tenant store",
		zap.String("store", logging.SanitizeConnectionString(uri)))
	return scope, nil
}

// WithScope resolves uri and returns ctx with the scope attached, ready for
// repository calls.
func (r *StoreRegistry) WithScope(ctx context.Context, uri string) (context.Context, error) {
	scope, err := r.Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	return SetStoreScope(ctx, scope), nil
}

// Validate checks that the store behind uri accepts connections and queries.
func (r *StoreRegistry) Validate(ctx context.Context, uri string) error {
	scope, err := r.Get(ctx, uri)
	if err != nil {
		return err
	}

	var one int
	if err := scope.Pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

// Close drains every tenant pool. The local pool is owned by the caller that
// built it.
func (r *StoreRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for uri, scope := range r.stores {
		scope.Pool.Close()
		delete(r.stores, uri)
	}
}

// open prepares a tenant store: runs migrations so the graph tables exist,
// then builds the bounded pool.
func (r *StoreRegistry) open(ctx context.Context, uri string) (*StoreScope, error) {
	if err := r.migrateStore(uri); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store URI: %w", err)
	}

	poolConfig.ConnConfig.Host = config.ResolveHostForDocker(poolConfig.ConnConfig.Host)
	poolConfig.MaxConns = r.cfg.PoolMaxConns
	poolConfig.MinConns = r.cfg.PoolMinConns
	poolConfig.MaxConnLifetime = connMaxLifetime(r.cfg)
	poolConfig.MaxConnIdleTime = connMaxIdle(r.cfg)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create store pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	return &StoreScope{Pool: pool, URI: uri}, nil
}

func connMaxLifetime(cfg *config.StoreConfig) time.Duration {
	if cfg.ConnMaxLifetimeMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute
}

func connMaxIdle(cfg *config.StoreConfig) time.Duration {
	if cfg.ConnMaxIdleMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(cfg.ConnMaxIdleMinutes) * time.Minute
}

// migrateStore creates missing graph tables in a tenant store. Uses a
// short-lived database/sql connection because golang-migrate drives one.
func (r *StoreRegistry) migrateStore(uri string) error {
	migrationURI := uri
	if strings.Contains(uri, "?") {
		migrationURI += "&statement_timeout=30000"
	} else {
		migrationURI += "?statement_timeout=30000"
	}

	db, err := sql.Open("pgx", migrationURI)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if err := RunMigrations(db, r.migrationsPath, r.logger); err != nil {
		return fmt.Errorf("failed to prepare store schema: %w", err)
	}
	return nil
}
