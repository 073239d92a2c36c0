package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
)

// BuildMonthlyReport totals the shipments sent during year, one row per
// calendar month. Pending value uses the current unit price; lines of removed
// products count as pieces but carry no value.
func BuildMonthlyReport(year int, shipments []domain.Shipment, productsByID map[string]domain.Product) domain.MonthlyReport {
	report := domain.MonthlyReport{
		Year:   year,
		Months: make([]domain.MonthlySummary, 12),
		Totals: domain.MonthlySummary{Month: fmt.Sprintf("%04d", year), PendingValue: decimal.Zero},
	}
	for i := range report.Months {
		report.Months[i] = domain.MonthlySummary{
			Month:        fmt.Sprintf("%04d-%02d", year, i+1),
			PendingValue: decimal.Zero,
		}
	}

	prefix := fmt.Sprintf("%04d-", year)
	for _, shipment := range shipments {
		if !strings.HasPrefix(shipment.SentAt, prefix) || len(shipment.SentAt) < 7 {
			continue
		}
		month, err := strconv.Atoi(shipment.SentAt[5:7])
		if err != nil || month < 1 || month > 12 {
			continue
		}
		row := &report.Months[month-1]
		row.Shipments++
		for _, line := range shipment.Lines {
			pending := line.Pending()
			row.PiecesSent += line.QuantitySent
			row.PiecesReturned += line.QuantityReturned
			row.PiecesPending += pending
			if product, ok := productsByID[line.ProductID]; ok && pending > 0 {
				row.PendingValue = row.PendingValue.Add(product.UnitPrice.Mul(decimal.NewFromInt(int64(pending))))
			}
		}
	}

	for _, row := range report.Months {
		report.Totals.Shipments += row.Shipments
		report.Totals.PiecesSent += row.PiecesSent
		report.Totals.PiecesReturned += row.PiecesReturned
		report.Totals.PiecesPending += row.PiecesPending
		report.Totals.PendingValue = report.Totals.PendingValue.Add(row.PendingValue)
	}
	return report
}
