package database

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/config"
)

func newTestRegistry() *StoreRegistry {
	return NewStoreRegistry(
		&DB{},
		"postgresql://chronicle@localhost:5432/chronicle_engine",
		&config.StoreConfig{PoolMaxConns: 5, PoolMinConns: 1},
		"migrations",
		zap.NewNop(),
	)
}

func TestStoreRegistry_IsLocal(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		name string
		uri  string
		want bool
	}{
		{"empty URI", "", true},
		{"engine URI", "postgresql://chronicle@localhost:5432/chronicle_engine", true},
		{"tenant URI", "postgresql://tenant@tenant-db:5432/graph", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.IsLocal(tt.uri); got != tt.want {
				t.Errorf("IsLocal(%q) = %v, want %v", tt.uri, got, tt.want)
			}
		})
	}
}

func TestStoreRegistry_GetLocal(t *testing.T) {
	r := newTestRegistry()

	scope, err := r.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("Get local failed: %v", err)
	}
	if !scope.IsLocal() {
		t.Error("expected local scope")
	}

	same, err := r.Get(context.Background(), "postgresql://chronicle@localhost:5432/chronicle_engine")
	if err != nil {
		t.Fatalf("Get by engine URI failed: %v", err)
	}
	if same != scope {
		t.Error("engine URI should resolve to the same local scope")
	}
}

func TestStoreRegistry_GetUnreachableStore(t *testing.T) {
	r := newTestRegistry()

	// Malformed URI fails fast during schema preparation.
	_, err := r.Get(context.Background(), "postgresql://user@%zz:5432/graph")
	if err == nil {
		t.Fatal("expected error for malformed store URI")
	}
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestStoreScopeContext(t *testing.T) {
	scope := &StoreScope{URI: "postgresql://tenant@tenant-db:5432/graph"}

	ctx := SetStoreScope(context.Background(), scope)
	got, ok := GetStoreScope(ctx)
	if !ok {
		t.Fatal("expected scope in context")
	}
	if got != scope {
		t.Error("scope round-trip returned a different value")
	}

	if _, ok := GetStoreScope(context.Background()); ok {
		t.Error("expected no scope in fresh context")
	}
}
