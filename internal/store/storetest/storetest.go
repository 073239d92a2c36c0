// Package storetest holds behaviour checks shared by every store.Repository
// backend. Each backend's tests call Run with a constructor for an empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store"
)

func Run(t *testing.T, newRepo func(t *testing.T) store.Repository) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, repo store.Repository)
	}{
		{"ProductLifecycle", testProductLifecycle},
		{"ProductsByIDsChunksAndIgnoresOwner", testProductsByIDs},
		{"ShipmentOwnerScoping", testShipmentOwnerScoping},
		{"ShipmentListOrder", testShipmentListOrder},
		{"ShipmentVersioning", testShipmentVersioning},
		{"SaveShipmentsIsAtomic", testSaveShipmentsAtomic},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newRepo(t))
		})
	}
}

func Product(id, owner, name string) domain.Product {
	return domain.Product{
		ID:        id,
		OwnerID:   owner,
		Name:      name,
		Category:  "cama",
		UnitPrice: decimal.RequireFromString("3.25"),
		CreatedAt: "2024-01-01T00:00:00.000Z",
		UpdatedAt: "2024-01-01T00:00:00.000Z",
	}
}

func Shipment(id, owner, sentAt string, lines ...domain.ShipmentLine) domain.Shipment {
	return domain.Shipment{
		ID:        id,
		OwnerID:   owner,
		SentAt:    sentAt,
		Lines:     lines,
		CreatedAt: sentAt + "T09:00:00.000Z",
		UpdatedAt: sentAt + "T09:00:00.000Z",
	}
}

func testProductLifecycle(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	created, err := repo.CreateProduct(ctx, Product("p1", "owner-a", "Toalha"))
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if !created.UnitPrice.Equal(decimal.RequireFromString("3.25")) {
		t.Fatalf("expected unit price 3.25, got %s", created.UnitPrice)
	}
	if _, err := repo.CreateProduct(ctx, Product("p1", "owner-a", "Again")); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate id, got %v", err)
	}

	if _, err := repo.GetProduct(ctx, "p1", "owner-b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another owner, got %v", err)
	}

	update := *created
	update.Name = "Toalha grande"
	update.UpdatedAt = "2024-02-01T00:00:00.000Z"
	if _, err := repo.UpdateProduct(ctx, update); err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	got, err := repo.GetProduct(ctx, "p1", "owner-a")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.Name != "Toalha grande" || got.CreatedAt != created.CreatedAt {
		t.Fatalf("unexpected product after update: %+v", got)
	}

	foreign := update
	foreign.OwnerID = "owner-b"
	if _, err := repo.UpdateProduct(ctx, foreign); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating as another owner, got %v", err)
	}

	if _, err := repo.CreateProduct(ctx, Product("p0", "owner-a", "Fronha")); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	list, err := repo.ListProducts(ctx, "owner-a")
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Fronha" {
		t.Fatalf("expected products sorted by name, got %+v", list)
	}

	if err := repo.DeleteProduct(ctx, "p1", "owner-b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting as another owner, got %v", err)
	}
	if err := repo.DeleteProduct(ctx, "p1", "owner-a"); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if _, err := repo.GetProduct(ctx, "p1", "owner-a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted product to be gone, got %v", err)
	}
}

func testProductsByIDs(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	ids := make([]string, 0, 24)
	for i := 0; i < 23; i++ {
		owner := "owner-a"
		if i%2 == 1 {
			owner = "owner-b"
		}
		id := fmt.Sprintf("p%02d", i)
		if _, err := repo.CreateProduct(ctx, Product(id, owner, id)); err != nil {
			t.Fatalf("CreateProduct %s: %v", id, err)
		}
		ids = append(ids, id)
	}
	ids = append(ids, "missing", "p00", "")

	found, err := repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("GetProductsByIDs: %v", err)
	}
	if len(found) != 23 {
		t.Fatalf("expected 23 products, got %d", len(found))
	}
	if found["p01"].OwnerID != "owner-b" {
		t.Fatalf("expected products of every owner, got %+v", found["p01"])
	}
	if _, ok := found["missing"]; ok {
		t.Fatal("missing id must be absent from the result")
	}

	empty, err := repo.GetProductsByIDs(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty result for no ids, got %v %v", empty, err)
	}
}

func testShipmentOwnerScoping(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	line := domain.ShipmentLine{ID: "l1", ProductID: "p1", QuantitySent: 4, QuantityReturned: 1}
	saved, err := repo.SaveShipment(ctx, Shipment("s1", "owner-a", "2024-01-05", line))
	if err != nil {
		t.Fatalf("SaveShipment: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1 after create, got %d", saved.Version)
	}

	got, err := repo.GetShipment(ctx, "s1", "owner-a")
	if err != nil {
		t.Fatalf("GetShipment: %v", err)
	}
	if len(got.Lines) != 1 || got.Lines[0] != line {
		t.Fatalf("unexpected lines: %+v", got.Lines)
	}
	if _, err := repo.GetShipment(ctx, "s1", "owner-b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another owner, got %v", err)
	}
	others, err := repo.ListShipments(ctx, "owner-b")
	if err != nil || len(others) != 0 {
		t.Fatalf("expected no shipments for owner-b, got %v %v", others, err)
	}

	if err := repo.DeleteShipment(ctx, "s1", "owner-b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting as another owner, got %v", err)
	}
	if err := repo.DeleteShipment(ctx, "s1", "owner-a"); err != nil {
		t.Fatalf("DeleteShipment: %v", err)
	}
	if _, err := repo.GetShipment(ctx, "s1", "owner-a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted shipment to be gone, got %v", err)
	}
}

func testShipmentListOrder(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	line := domain.ShipmentLine{ID: "l1", ProductID: "p1", QuantitySent: 1}
	early := Shipment("s-early", "owner-a", "2024-01-01", line)
	lateA := Shipment("s-late-a", "owner-a", "2024-03-01", line)
	lateB := Shipment("s-late-b", "owner-a", "2024-03-01", line)
	lateB.CreatedAt = "2024-03-01T10:00:00.000Z"
	for _, sh := range []domain.Shipment{early, lateA, lateB} {
		if _, err := repo.SaveShipment(ctx, sh); err != nil {
			t.Fatalf("SaveShipment %s: %v", sh.ID, err)
		}
	}

	list, err := repo.ListShipments(ctx, "owner-a")
	if err != nil {
		t.Fatalf("ListShipments: %v", err)
	}
	want := []string{"s-late-b", "s-late-a", "s-early"}
	if len(list) != len(want) {
		t.Fatalf("expected %d shipments, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, list[i].ID)
		}
	}
}

func testShipmentVersioning(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	line := domain.ShipmentLine{ID: "l1", ProductID: "p1", QuantitySent: 4}
	first, err := repo.SaveShipment(ctx, Shipment("s1", "owner-a", "2024-01-05", line))
	if err != nil {
		t.Fatalf("SaveShipment: %v", err)
	}

	if _, err := repo.SaveShipment(ctx, Shipment("s1", "owner-a", "2024-01-05", line)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict re-creating an existing shipment, got %v", err)
	}
	if _, err := repo.SaveShipment(ctx, Shipment("s1", "owner-b", "2024-01-05", line)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound creating over another owner's shipment, got %v", err)
	}

	edit := *first
	edit.Lines[0].QuantityReturned = 2
	second, err := repo.SaveShipment(ctx, edit)
	if err != nil {
		t.Fatalf("SaveShipment with current version: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("expected version 2, got %d", second.Version)
	}

	stale := *first
	stale.Lines = []domain.ShipmentLine{{ID: "l1", ProductID: "p1", QuantitySent: 4, QuantityReturned: 4}}
	if _, err := repo.SaveShipment(ctx, stale); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}

	got, err := repo.GetShipment(ctx, "s1", "owner-a")
	if err != nil {
		t.Fatalf("GetShipment: %v", err)
	}
	if got.Lines[0].QuantityReturned != 2 || got.Version != 2 {
		t.Fatalf("stale save must not apply, got %+v", got)
	}

	ghost := Shipment("s-ghost", "owner-a", "2024-01-05", line)
	ghost.Version = 3
	if _, err := repo.SaveShipment(ctx, ghost); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict saving a vanished shipment, got %v", err)
	}
}

func testSaveShipmentsAtomic(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	line := domain.ShipmentLine{ID: "l1", ProductID: "p1", QuantitySent: 5}
	a, err := repo.SaveShipment(ctx, Shipment("A", "owner-a", "2024-01-01", line))
	if err != nil {
		t.Fatalf("SaveShipment A: %v", err)
	}
	b, err := repo.SaveShipment(ctx, Shipment("B", "owner-a", "2024-01-02", line))
	if err != nil {
		t.Fatalf("SaveShipment B: %v", err)
	}

	editA := *a
	editA.Lines[0].QuantityReturned = 5
	staleB := *b
	staleB.Version = 0
	staleB.Lines[0].QuantityReturned = 2
	if _, err := repo.SaveShipments(ctx, []domain.Shipment{editA, staleB}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for the batch, got %v", err)
	}
	got, err := repo.GetShipment(ctx, "A", "owner-a")
	if err != nil {
		t.Fatalf("GetShipment A: %v", err)
	}
	if got.Lines[0].QuantityReturned != 0 || got.Version != 1 {
		t.Fatalf("failed batch must leave A untouched, got %+v", got)
	}

	okB := *b
	okB.Lines[0].QuantityReturned = 2
	saved, err := repo.SaveShipments(ctx, []domain.Shipment{editA, okB})
	if err != nil {
		t.Fatalf("SaveShipments: %v", err)
	}
	if len(saved) != 2 || saved[0].Version != 2 || saved[1].Version != 2 {
		t.Fatalf("expected both shipments at version 2, got %+v", saved)
	}

	empty, err := repo.SaveShipments(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no-op for an empty batch, got %v %v", empty, err)
	}
}
