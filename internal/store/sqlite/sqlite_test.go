package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store/sqldoc"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store/storetest"
)

func newTestStore(t *testing.T) *sqldoc.Store {
	t.Helper()

	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRepositoryBehaviour(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return newTestStore(t)
	})
}

func TestDataSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lavanderia.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := first.CreateProduct(ctx, storetest.Product("p1", "o1", "Toalha")); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if _, err := first.SaveShipment(ctx, storetest.Shipment("s1", "o1", "2024-01-01",
		domain.ShipmentLine{ID: "l1", ProductID: "p1", QuantitySent: 2})); err != nil {
		t.Fatalf("SaveShipment: %v", err)
	}
	first.Close()

	second, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer second.Close()

	got, err := second.GetShipment(ctx, "s1", "o1")
	if err != nil {
		t.Fatalf("GetShipment: %v", err)
	}
	if got.Version != 1 || len(got.Lines) != 1 {
		t.Fatalf("unexpected shipment after reopen: %+v", got)
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, domain.UserAccount{Username: "Maria", Password: "hash", OwnerID: "o1"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.CreateUser(ctx, domain.UserAccount{Username: "maria", Password: "hash", OwnerID: "o1"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate username, got %v", err)
	}
	if err := s.UpdateUserPassword(ctx, "maria", "new-hash"); err != nil {
		t.Fatalf("UpdateUserPassword: %v", err)
	}
	if err := s.UpdateUserPassword(ctx, "nobody", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 || users[0].Password != "new-hash" || !users[0].Active || users[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected users: %+v", users)
	}
}
