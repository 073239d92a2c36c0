package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
)

func TestBuildMonthlyReport(t *testing.T) {
	products := map[string]domain.Product{
		"towel": {ID: "towel", Name: "Toalha", UnitPrice: decimal.RequireFromString("3.50")},
		"sheet": {ID: "sheet", Name: "Lençol", UnitPrice: decimal.RequireFromString("7.25")},
	}
	shipments := []domain.Shipment{
		shipment("A", "2024-01-03", line("a1", "towel", 10, 4), line("a2", "sheet", 2, 0)),
		shipment("B", "2024-01-20", line("b1", "gone", 3, 0)),
		shipment("C", "2024-03-02", line("c1", "towel", 1, 1)),
		shipment("D", "2023-12-30", line("d1", "towel", 9, 0)),
	}

	report := BuildMonthlyReport(2024, shipments, products)

	if len(report.Months) != 12 {
		t.Fatalf("expected 12 months, got %d", len(report.Months))
	}
	jan := report.Months[0]
	if jan.Month != "2024-01" || jan.Shipments != 2 || jan.PiecesSent != 15 || jan.PiecesPending != 11 {
		t.Fatalf("unexpected january %+v", jan)
	}
	// 6 towels at 3.50 plus 2 sheets at 7.25; removed products carry no value.
	if !jan.PendingValue.Equal(decimal.RequireFromString("35.50")) {
		t.Fatalf("expected pending value 35.50, got %s", jan.PendingValue)
	}
	if report.Months[2].PiecesReturned != 1 || report.Months[2].PiecesPending != 0 {
		t.Fatalf("unexpected march %+v", report.Months[2])
	}
	if report.Totals.Shipments != 3 || report.Totals.PiecesSent != 16 {
		t.Fatalf("previous year must be excluded, got totals %+v", report.Totals)
	}
}
