package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/cache"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/config"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store/memory"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store/sqldoc"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestOpenRepositoryDefaultsToSeededMemory(t *testing.T) {
	repo, closers, err := openRepository(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected the in-memory store, got %T", repo)
	}
	if len(closers) != 0 {
		t.Fatalf("expected nothing to close")
	}
}

func TestOpenRepositoryUsesSQLitePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lavanderia.db")
	repo, closers, err := openRepository(context.Background(), config.Config{SQLitePath: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		for _, closeFn := range closers {
			_ = closeFn()
		}
	})
	if _, ok := repo.(*sqldoc.Store); !ok {
		t.Fatalf("expected the sqlite-backed store, got %T", repo)
	}
}

func TestOpenViewCacheWithoutRedisUsesMemory(t *testing.T) {
	views, closers := openViewCache(context.Background(), config.Config{})
	if _, ok := views.(*cache.MemoryViewCache); !ok {
		t.Fatalf("expected memory view cache, got %T", views)
	}
	if len(closers) != 0 {
		t.Fatalf("expected nothing to close")
	}
}
