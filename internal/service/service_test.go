package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/cache"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store/memory"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/validate"
)

// spyRepo counts calls that reach storage and can force save conflicts.
type spyRepo struct {
	store.Repository
	writes         int
	listShipments  int
	conflictOnSave bool
}

func (r *spyRepo) ListShipments(ctx context.Context, ownerID string) ([]domain.Shipment, error) {
	r.listShipments++
	return r.Repository.ListShipments(ctx, ownerID)
}

func (r *spyRepo) SaveShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	if r.conflictOnSave {
		return nil, store.ErrConflict
	}
	r.writes++
	return r.Repository.SaveShipment(ctx, shipment)
}

func (r *spyRepo) SaveShipments(ctx context.Context, shipments []domain.Shipment) ([]domain.Shipment, error) {
	if r.conflictOnSave {
		return nil, store.ErrConflict
	}
	r.writes++
	return r.Repository.SaveShipments(ctx, shipments)
}

func (r *spyRepo) DeleteShipment(ctx context.Context, id string, ownerID string) error {
	r.writes++
	return r.Repository.DeleteShipment(ctx, id, ownerID)
}

var testClock = time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, views cache.ViewCache) (*Service, *spyRepo, context.Context) {
	t.Helper()
	repo := &spyRepo{Repository: memory.New()}
	svc := New(repo, views, time.Minute)
	svc.now = func() time.Time { return testClock }
	ctx := WithActor(context.Background(), domain.Actor{OwnerID: "owner-1", Email: "ops@example.com"})
	return svc, repo, ctx
}

func mustProduct(t *testing.T, svc *Service, ctx context.Context, name string, price string) domain.Product {
	t.Helper()
	p, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: name, UnitPrice: decimal.RequireFromString(price)})
	if err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return p
}

func mustShipment(t *testing.T, svc *Service, ctx context.Context, sentAt string, lines ...domain.ShipmentLineInput) domain.ShipmentResponse {
	t.Helper()
	sh, err := svc.CreateShipment(ctx, domain.ShipmentCreateRequest{SentAt: sentAt, Lines: lines})
	if err != nil {
		t.Fatalf("create shipment %s: %v", sentAt, err)
	}
	return sh
}

func TestProductReturnAppliesToSingleShipment(t *testing.T) {
	svc, _, ctx := newTestService(t, nil)
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")
	sh := mustShipment(t, svc, ctx, "2024-03-01", domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 10})

	resp, err := svc.ApplyProductReturns(ctx, domain.ProductReturnsRequest{
		Updates: []domain.ProductReturnRequest{{ProductID: towel.ID, Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("apply product returns: %v", err)
	}
	result := resp.Results[0]
	if result.Applied != 4 || result.Remaining != 0 || result.Warning != "" {
		t.Fatalf("unexpected result: %+v", result)
	}

	got, err := svc.GetShipment(ctx, sh.ID)
	if err != nil {
		t.Fatalf("get shipment: %v", err)
	}
	if got.Lines[0].QuantityReturned != 4 || got.Lines[0].Pending() != 6 {
		t.Fatalf("expected 4 returned and 6 pending, got %+v", got.Lines[0])
	}
	if got.Status != domain.ShipmentStatusPartiallyReturned {
		t.Fatalf("expected partially returned status, got %s", got.Status)
	}
	if got.UpdatedAt != domain.Timestamp(testClock) {
		t.Fatalf("expected updatedAt to default to now, got %s", got.UpdatedAt)
	}
	if len(resp.Tickets) != 1 || resp.Tickets[0].Pending != 6 {
		t.Fatalf("expected fresh tickets with 6 pending, got %+v", resp.Tickets)
	}
}

func TestProductReturnFillsOldestShipmentFirst(t *testing.T) {
	svc, repo, ctx := newTestService(t, nil)
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")
	b := mustShipment(t, svc, ctx, "2024-02-01", domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 5})
	a := mustShipment(t, svc, ctx, "2024-01-01", domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 5})
	writesBefore := repo.writes

	resp, err := svc.ApplyProductReturns(ctx, domain.ProductReturnsRequest{
		Updates: []domain.ProductReturnRequest{{ProductID: towel.ID, Quantity: 7, OccurredAt: "2024-02-10"}},
	})
	if err != nil {
		t.Fatalf("apply product returns: %v", err)
	}
	allocations := resp.Results[0].Allocations
	if len(allocations) != 2 ||
		allocations[0].ShipmentID != a.ID || allocations[0].Applied != 5 || allocations[0].PendingAfter != 0 ||
		allocations[1].ShipmentID != b.ID || allocations[1].Applied != 2 || allocations[1].PendingAfter != 3 {
		t.Fatalf("unexpected allocations: %+v", allocations)
	}
	if repo.writes != writesBefore+1 {
		t.Fatalf("expected one batched write, got %d", repo.writes-writesBefore)
	}

	gotB, _ := svc.GetShipment(ctx, b.ID)
	if gotB.Lines[0].QuantityReturned != 2 || gotB.Version != 2 {
		t.Fatalf("unexpected shipment B after allocation: %+v", gotB)
	}
	// occurredAt is older than the creation stamp, so updatedAt keeps the later value.
	if gotB.UpdatedAt != domain.Timestamp(testClock) {
		t.Fatalf("expected updatedAt to stay at %s, got %s", domain.Timestamp(testClock), gotB.UpdatedAt)
	}
}

func TestProductReturnWithoutShipmentsWritesNothing(t *testing.T) {
	svc, repo, ctx := newTestService(t, nil)
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")

	resp, err := svc.ApplyProductReturns(ctx, domain.ProductReturnsRequest{
		Updates: []domain.ProductReturnRequest{{ProductID: towel.ID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("apply product returns: %v", err)
	}
	result := resp.Results[0]
	if result.Applied != 0 || result.Remaining != 3 || result.Warning != domain.WarningNoShipment {
		t.Fatalf("unexpected result: %+v", result)
	}
	if repo.writes != 0 {
		t.Fatalf("expected no storage writes, got %d", repo.writes)
	}
}

func TestProductReturnForForeignProductIsNotFound(t *testing.T) {
	svc, repo, ctx := newTestService(t, nil)
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")
	mustShipment(t, svc, ctx, "2024-03-01", domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 10})

	other := WithActor(context.Background(), domain.Actor{OwnerID: "owner-2"})
	foreign := mustProduct(t, svc, other, "Lençol", "6.00")
	writesBefore := repo.writes

	resp, err := svc.ApplyProductReturns(ctx, domain.ProductReturnsRequest{
		Updates: []domain.ProductReturnRequest{{ProductID: foreign.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("apply product returns: %v", err)
	}
	if resp.Results[0].Warning != domain.WarningProductNotFound {
		t.Fatalf("expected product not found warning, got %+v", resp.Results[0])
	}
	if repo.writes != writesBefore {
		t.Fatal("a rejected request must not write")
	}
}

func TestProductReturnValidation(t *testing.T) {
	svc, _, ctx := newTestService(t, nil)

	_, err := svc.ApplyProductReturns(ctx, domain.ProductReturnsRequest{
		Updates: []domain.ProductReturnRequest{
			{ProductID: " ", Quantity: 0},
			{ProductID: "p", Quantity: 1, OccurredAt: "yesterday", Notes: strings.Repeat("x", 241)},
		},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	fields := map[string]bool{}
	for _, f := range validate.Fields(err) {
		fields[f.Field] = true
	}
	for _, want := range []string{"updates[0].productId", "updates[0].quantity", "updates[1].occurredAt", "updates[1].notes"} {
		if !fields[want] {
			t.Fatalf("expected field error for %s, got %+v", want, validate.Fields(err))
		}
	}
}

func TestProductReturnConflictPersistsNothing(t *testing.T) {
	svc, repo, ctx := newTestService(t, nil)
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")
	sh := mustShipment(t, svc, ctx, "2024-03-01", domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 10})

	repo.conflictOnSave = true
	_, err := svc.ApplyProductReturns(ctx, domain.ProductReturnsRequest{
		Updates: []domain.ProductReturnRequest{{ProductID: towel.ID, Quantity: 4}},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	repo.conflictOnSave = false
	got, _ := svc.GetShipment(ctx, sh.ID)
	if got.Lines[0].QuantityReturned != 0 {
		t.Fatalf("expected nothing persisted, got %+v", got.Lines[0])
	}
}

func TestDeleteProductCascadesToShipments(t *testing.T) {
	svc, _, ctx := newTestService(t, nil)
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")
	sheet := mustProduct(t, svc, ctx, "Lençol", "6.00")
	only := mustShipment(t, svc, ctx, "2024-01-01", domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 3})
	mixed := mustShipment(t, svc, ctx, "2024-01-02",
		domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 2},
		domain.ShipmentLineInput{ProductID: sheet.ID, QuantitySent: 4},
	)

	later := testClock.Add(time.Hour)
	svc.now = func() time.Time { return later }
	result, err := svc.DeleteProduct(ctx, towel.ID)
	if err != nil {
		t.Fatalf("delete product: %v", err)
	}
	if len(result.ShipmentsDeleted) != 1 || result.ShipmentsDeleted[0] != only.ID {
		t.Fatalf("expected %s deleted, got %+v", only.ID, result)
	}
	if len(result.ShipmentsUpdated) != 1 || result.ShipmentsUpdated[0] != mixed.ID {
		t.Fatalf("expected %s updated, got %+v", mixed.ID, result)
	}

	if _, err := svc.GetShipment(ctx, only.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected single-line shipment to be gone, got %v", err)
	}
	got, err := svc.GetShipment(ctx, mixed.ID)
	if err != nil {
		t.Fatalf("get shipment: %v", err)
	}
	if len(got.Lines) != 1 || got.Lines[0].ProductID != sheet.ID {
		t.Fatalf("expected only the sheet line to remain, got %+v", got.Lines)
	}
	if got.UpdatedAt != domain.Timestamp(later) {
		t.Fatalf("expected refreshed updatedAt, got %s", got.UpdatedAt)
	}
	if _, err := svc.GetProduct(ctx, towel.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected product to be deleted, got %v", err)
	}
}

func TestCrossOwnerAccessIsNotFound(t *testing.T) {
	svc, _, ctx := newTestService(t, nil)
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")
	sh := mustShipment(t, svc, ctx, "2024-03-01", domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 10})

	other := WithActor(context.Background(), domain.Actor{OwnerID: "owner-2"})
	if _, err := svc.GetShipment(other, sh.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.GetReturnView(other, sh.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err := svc.UpdateLineReturns(other, sh.ID, domain.LineReturnsRequest{
		Updates: []domain.LineReturnUpdate{{LineID: sh.Lines[0].ID, QuantityReturned: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := svc.DeleteShipment(other, sh.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.DeleteProduct(other, towel.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateLineReturnsModesAndIgnoredLines(t *testing.T) {
	svc, _, ctx := newTestService(t, nil)
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")
	sh := mustShipment(t, svc, ctx, "2024-03-01", domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 10})
	lineID := sh.Lines[0].ID

	set := domain.LineReturnsRequest{Updates: []domain.LineReturnUpdate{
		{LineID: lineID, QuantityReturned: 6},
		{LineID: "ln_unknown", QuantityReturned: 2},
	}}
	first, err := svc.UpdateLineReturns(ctx, sh.ID, set)
	if err != nil {
		t.Fatalf("update line returns: %v", err)
	}
	if len(first.IgnoredLineIDs) != 1 || first.IgnoredLineIDs[0] != "ln_unknown" {
		t.Fatalf("expected the unknown line to be reported, got %+v", first.IgnoredLineIDs)
	}
	second, err := svc.UpdateLineReturns(ctx, sh.ID, set)
	if err != nil {
		t.Fatalf("update line returns: %v", err)
	}
	if first.Lines[0] != second.Lines[0] || second.Lines[0].QuantityReturned != 6 {
		t.Fatalf("set mode must be idempotent: %+v vs %+v", first.Lines[0], second.Lines[0])
	}

	inc, err := svc.UpdateLineReturns(ctx, sh.ID, domain.LineReturnsRequest{
		Mode:    "increment",
		Updates: []domain.LineReturnUpdate{{LineID: lineID, QuantityReturned: 9}},
	})
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if inc.Lines[0].QuantityReturned != 10 || inc.Status != domain.ShipmentStatusFullyReturned {
		t.Fatalf("expected clamp to 10 and fully returned, got %+v", inc)
	}

	_, err = svc.UpdateLineReturns(ctx, sh.ID, domain.LineReturnsRequest{
		Mode:    "replace",
		Updates: []domain.LineReturnUpdate{{LineID: lineID, QuantityReturned: 1}},
	})
	if !errors.Is(err, store.ErrInvalidInput) || validate.Fields(err)[0].Field != "mode" {
		t.Fatalf("expected mode field error, got %v", err)
	}
}

func TestCreateShipmentValidatesLines(t *testing.T) {
	svc, _, ctx := newTestService(t, nil)
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")
	other := WithActor(context.Background(), domain.Actor{OwnerID: "owner-2"})
	foreign := mustProduct(t, svc, other, "Lençol", "6.00")

	_, err := svc.CreateShipment(ctx, domain.ShipmentCreateRequest{
		SentAt:           "2024-02-30",
		ExpectedReturnAt: "2024-01-01",
		Lines: []domain.ShipmentLineInput{
			{ProductID: foreign.ID, QuantitySent: 1},
			{ProductID: towel.ID, QuantitySent: 0},
		},
	})
	fields := map[string]bool{}
	for _, f := range validate.Fields(err) {
		fields[f.Field] = true
	}
	for _, want := range []string{"sentAt", "lines[0].productId", "lines[1].quantitySent"} {
		if !fields[want] {
			t.Fatalf("expected field error for %s, got %+v", want, validate.Fields(err))
		}
	}

	sh, err := svc.CreateShipment(ctx, domain.ShipmentCreateRequest{
		SentAt: "2024-02-01",
		Lines:  []domain.ShipmentLineInput{{ProductID: towel.ID, QuantitySent: 3, QuantityReturned: 8}},
	})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	if sh.Lines[0].QuantityReturned != 3 || sh.Status != domain.ShipmentStatusFullyReturned || sh.Version != 1 {
		t.Fatalf("expected initial returned clamped to sent, got %+v", sh)
	}
}

func TestUpdateShipmentMeta(t *testing.T) {
	svc, _, ctx := newTestService(t, nil)
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")
	sh := mustShipment(t, svc, ctx, "2024-03-01", domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 10})

	notes := "Ala B"
	expected := "2024-03-04"
	got, err := svc.UpdateShipment(ctx, sh.ID, domain.ShipmentUpdateRequest{Notes: &notes, ExpectedReturnAt: &expected})
	if err != nil {
		t.Fatalf("update shipment: %v", err)
	}
	if got.Notes != "Ala B" || got.ExpectedReturnAt != expected || got.Version != 2 {
		t.Fatalf("unexpected shipment: %+v", got)
	}

	early := "2024-02-01"
	if _, err := svc.UpdateShipment(ctx, sh.ID, domain.ShipmentUpdateRequest{ExpectedReturnAt: &early}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for a return date before sentAt, got %v", err)
	}
}

func TestBalancesAreCachedUntilAWrite(t *testing.T) {
	svc, repo, ctx := newTestService(t, cache.NewMemoryViewCache())
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")
	mustShipment(t, svc, ctx, "2024-03-01", domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 10})

	first, err := svc.Balances(ctx)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	loads := repo.listShipments
	if _, err := svc.Balances(ctx); err != nil {
		t.Fatalf("balances: %v", err)
	}
	if repo.listShipments != loads {
		t.Fatal("expected the second read to be served from the cache")
	}
	if first[0].Pending != 10 {
		t.Fatalf("expected 10 pending, got %d", first[0].Pending)
	}

	if _, err := svc.ApplyProductReturns(ctx, domain.ProductReturnsRequest{
		Updates: []domain.ProductReturnRequest{{ProductID: towel.ID, Quantity: 4}},
	}); err != nil {
		t.Fatalf("apply product returns: %v", err)
	}
	after, err := svc.Balances(ctx)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if after[0].Pending != 6 || after[0].TotalReturned > after[0].TotalSent {
		t.Fatalf("expected fresh balances after a write, got %+v", after[0])
	}

	pending, err := svc.ReturnTickets(ctx, true)
	if err != nil {
		t.Fatalf("tickets: %v", err)
	}
	if len(pending) != 1 || pending[0].Pending != 6 {
		t.Fatalf("unexpected pending tickets: %+v", pending)
	}
}

func TestReturnViewsLabelRemovedProducts(t *testing.T) {
	svc, repo, ctx := newTestService(t, nil)
	if _, err := repo.SaveShipment(ctx, domain.Shipment{
		ID:        "shp_orphan",
		OwnerID:   "owner-1",
		SentAt:    "2024-01-01",
		Lines:     []domain.ShipmentLine{{ID: "l1", ProductID: "prd_gone", QuantitySent: 2}},
		CreatedAt: "2024-01-01T08:00:00.000Z",
		UpdatedAt: "2024-01-01T08:00:00.000Z",
	}); err != nil {
		t.Fatalf("seed shipment: %v", err)
	}

	views, err := svc.ListReturnViews(ctx, true)
	if err != nil {
		t.Fatalf("return views: %v", err)
	}
	if len(views) != 1 || views[0].Lines[0].ProductName != domain.RemovedProductName || !views[0].Lines[0].ProductRemoved {
		t.Fatalf("expected removed product label, got %+v", views)
	}
}

func TestMonthlyReportAndCSV(t *testing.T) {
	svc, _, ctx := newTestService(t, nil)
	towel := mustProduct(t, svc, ctx, "Toalha", "4.50")
	mustShipment(t, svc, ctx, "2024-03-01", domain.ShipmentLineInput{ProductID: towel.ID, QuantitySent: 10, QuantityReturned: 2})

	report, err := svc.MonthlyReport(ctx, 0)
	if err != nil {
		t.Fatalf("monthly report: %v", err)
	}
	if report.Year != 2024 || report.Months[2].PiecesPending != 8 || !report.Totals.PendingValue.Equal(decimal.RequireFromString("36")) {
		t.Fatalf("unexpected report: %+v", report.Totals)
	}
	if _, err := svc.MonthlyReport(ctx, 1899); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid year, got %v", err)
	}

	var buf bytes.Buffer
	if err := svc.WriteBalancesCSV(ctx, &buf); err != nil {
		t.Fatalf("csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "productId,productName") || !strings.Contains(lines[1], "Toalha,,10,2,8") {
		t.Fatalf("unexpected csv:\n%s", buf.String())
	}
}

func TestOperationsRequireAnOwner(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	if _, err := svc.Balances(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := svc.ListProducts(WithActor(context.Background(), domain.Actor{})); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc, _, ctx := newTestService(t, nil)
	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "  ", UnitPrice: decimal.Zero})
	if len(validate.Fields(err)) != 2 {
		t.Fatalf("expected name and unitPrice errors, got %v", err)
	}

	p := mustProduct(t, svc, ctx, " Fronha ", "1.905")
	if p.Name != "Fronha" || p.UnitPrice.String() != "1.91" || p.OwnerID != "owner-1" {
		t.Fatalf("unexpected product: %+v", p)
	}
}
