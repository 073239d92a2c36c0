package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/cache"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/config"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/httpapi"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/service"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store/memory"
	pgstore "github.com/NagaSistemas/lavanderia-zanotto/internal/store/postgres"
	sqlitestore "github.com/NagaSistemas/lavanderia-zanotto/internal/store/sqlite"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/validate"
)

// backend is what every repository implementation provides.
type backend interface {
	store.Repository
	httpapi.UserStore
}

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("repository unavailable: %v", err)
	}
	views, viewClosers := openViewCache(ctx, cfg)
	closers = append(closers, viewClosers...)

	validator, err := validate.New()
	if err != nil {
		log.Fatalf("request schemas: %v", err)
	}

	var users httpapi.UserStore
	if cfg.DevLoginEnabled {
		users = repo
		log.Println("auth: dev login enabled")
	}

	svc := service.New(repo, views, cfg.ViewCacheTTL())
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AuthIssuer, cfg.AccessTokenTTL(), users)
	api := httpapi.New(svc, auth, validator, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		DevLogin:      cfg.DevLoginEnabled,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("lavanderia backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// openRepository picks postgres, then sqlite, then the seeded in-memory store.
// A configured database that cannot be reached is fatal; there is no silent fallback.
func openRepository(ctx context.Context, cfg config.Config) (backend, []func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		log.Println("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		log.Printf("repository: sqlite (%s)", cfg.SQLitePath)
		return lite, []func() error{lite.Close}, nil
	default:
		log.Println("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

func openViewCache(ctx context.Context, cfg config.Config) (cache.ViewCache, []func() error) {
	if cfg.RedisAddr == "" {
		log.Println("view cache: memory")
		return cache.NewMemoryViewCache(), nil
	}
	redisCache := cache.NewRedisViewCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Printf("redis unavailable (%v), view cache disabled", err)
		_ = redisCache.Close()
		return cache.NoopViewCache{}, nil
	}
	log.Println("view cache: redis")
	return redisCache, []func() error{redisCache.Close}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DevLoginEnabled && cfg.DatabaseURL != "" {
		log.Println("WARNING: dev login is enabled against a postgres database")
	}
	return nil
}
