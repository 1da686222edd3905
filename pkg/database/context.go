package database

import (
	"context"
)

type contextKey string

const (
	// StoreScopeKey is the context key for the store-scoped database pool.
	StoreScopeKey contextKey = "storeScope"
)

// GetStoreScope retrieves the store scope from context.
// Returns nil and false if not present.
func GetStoreScope(ctx context.Context) (*StoreScope, bool) {
	scope, ok := ctx.Value(StoreScopeKey).(*StoreScope)
	return scope, ok
}

// SetStoreScope stores the store scope in context. Repositories read it back
// with GetStoreScope, so one repository implementation serves every store.
func SetStoreScope(ctx context.Context, scope *StoreScope) context.Context {
	return context.WithValue(ctx, StoreScopeKey, scope)
}
