package service

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/reconcile"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/validate"
)

func (s *Service) MonthlyReport(ctx context.Context, year int) (domain.MonthlyReport, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return domain.MonthlyReport{}, err
	}
	if year == 0 {
		year = s.now().Year()
	}
	if year < 2000 || year > 2100 {
		return domain.MonthlyReport{}, validate.Fail("year", "must be between 2000 and 2100")
	}

	shipments, products, err := s.loadOwnerData(ctx, owner)
	if err != nil {
		return domain.MonthlyReport{}, err
	}
	return reconcile.BuildMonthlyReport(year, shipments, products), nil
}

var balanceCSVHeader = []string{
	"productId", "productName", "category",
	"totalSent", "totalReturned", "pending",
	"lastSentAt", "lastReturnedAt",
}

// WriteBalancesCSV renders the balance list, one row per product, in the
// same order as Balances.
func (s *Service) WriteBalancesCSV(ctx context.Context, w io.Writer) error {
	items, err := s.Balances(ctx)
	if err != nil {
		return err
	}

	out := csv.NewWriter(w)
	if err := out.Write(balanceCSVHeader); err != nil {
		return err
	}
	for _, item := range items {
		if err := out.Write([]string{
			item.ProductID,
			item.ProductName,
			item.Category,
			strconv.Itoa(item.TotalSent),
			strconv.Itoa(item.TotalReturned),
			strconv.Itoa(item.Pending),
			item.LastSentAt,
			item.LastReturnedAt,
		}); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}
