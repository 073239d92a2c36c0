package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/cache"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/reconcile"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/validate"
)

func (s *Service) ListReturnViews(ctx context.Context, pendingOnly bool) ([]domain.ShipmentReturnView, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	shipments, products, err := s.loadOwnerData(ctx, owner)
	if err != nil {
		return nil, err
	}
	return reconcile.BuildReturnViews(shipments, products, pendingOnly), nil
}

func (s *Service) GetReturnView(ctx context.Context, shipmentID string) (domain.ShipmentReturnView, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return domain.ShipmentReturnView{}, err
	}
	shipment, err := s.repo.GetShipment(ctx, shipmentID, owner)
	if err != nil {
		return domain.ShipmentReturnView{}, err
	}
	products, err := s.ownedProducts(ctx, owner, []domain.Shipment{*shipment}, nil)
	if err != nil {
		return domain.ShipmentReturnView{}, err
	}
	return reconcile.BuildReturnView(*shipment, products), nil
}

func (s *Service) Balances(ctx context.Context) ([]domain.ShipmentBalanceItem, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}

	var items []domain.ShipmentBalanceItem
	gen, hit := s.cachedView(ctx, owner, cache.ViewBalances, &items)
	if hit {
		return items, nil
	}

	shipments, products, err := s.loadOwnerData(ctx, owner)
	if err != nil {
		return nil, err
	}
	items = reconcile.BuildBalances(shipments, products)
	s.storeView(ctx, owner, gen, cache.ViewBalances, items)
	return items, nil
}

func (s *Service) ReturnTickets(ctx context.Context, pendingOnly bool) ([]domain.ProductReturnTicket, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}

	var tickets []domain.ProductReturnTicket
	gen, hit := s.cachedView(ctx, owner, cache.ViewTickets, &tickets)
	if !hit {
		shipments, products, err := s.loadOwnerData(ctx, owner)
		if err != nil {
			return nil, err
		}
		tickets = reconcile.BuildReturnTickets(shipments, products)
		s.storeView(ctx, owner, gen, cache.ViewTickets, tickets)
	}

	if pendingOnly {
		return reconcile.FilterPendingTickets(tickets), nil
	}
	return tickets, nil
}

// UpdateLineReturns applies per-line returned quantities to one shipment and
// persists it with a fresh updatedAt. Line ids the shipment does not have are
// skipped and listed in the response.
func (s *Service) UpdateLineReturns(ctx context.Context, shipmentID string, req domain.LineReturnsRequest) (domain.ShipmentResponse, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}

	var problems validate.Collector
	if len(req.Updates) == 0 {
		problems.Add("updates", "at least one update is required")
	}
	for i, update := range req.Updates {
		if strings.TrimSpace(update.LineID) == "" {
			problems.Add(fmt.Sprintf("updates[%d].lineId", i), "is required")
		}
		if update.QuantityReturned < 0 {
			problems.Add(fmt.Sprintf("updates[%d].quantityReturned", i), "must not be negative")
		}
	}
	if err := problems.Err(); err != nil {
		return domain.ShipmentResponse{}, err
	}

	shipment, err := s.repo.GetShipment(ctx, shipmentID, owner)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}

	updated, ignored, err := reconcile.ApplyLineUpdates(*shipment, req.Updates, req.Mode)
	if err != nil {
		if errors.Is(err, reconcile.ErrInvalidMode) {
			return domain.ShipmentResponse{}, validate.Fail("mode", err.Error())
		}
		return domain.ShipmentResponse{}, err
	}
	updated.UpdatedAt = domain.Timestamp(s.now())

	saved, err := s.repo.SaveShipment(ctx, updated)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}
	s.invalidateViews(ctx, owner)
	if len(ignored) > 0 {
		s.logAudit(ctx, "line_returns", "shipment", saved.ID, fmt.Sprintf("ignored=%s", strings.Join(ignored, ",")))
	}
	return shipmentResponse(*saved, ignored), nil
}

// ApplyProductReturns credits product-level returns to the owner's oldest
// outstanding lines. Every touched shipment is written in one atomic batch;
// a version conflict fails the whole call and nothing is persisted.
func (s *Service) ApplyProductReturns(ctx context.Context, req domain.ProductReturnsRequest) (domain.ProductReturnsResponse, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return domain.ProductReturnsResponse{}, err
	}

	now := s.now()
	var problems validate.Collector
	if len(req.Updates) == 0 {
		problems.Add("updates", "at least one update is required")
	}
	productIDs := make([]string, 0, len(req.Updates))
	for i := range req.Updates {
		update := &req.Updates[i]
		field := fmt.Sprintf("updates[%d]", i)
		update.ProductID = strings.TrimSpace(update.ProductID)
		if update.ProductID == "" {
			problems.Add(field+".productId", "is required")
		}
		if update.Quantity < 1 {
			problems.Add(field+".quantity", "must be greater than zero")
		}
		if _, err := reconcile.NormalizeOccurredAt(update.OccurredAt, now); err != nil {
			problems.Add(field+".occurredAt", "must be a YYYY-MM-DD date or an RFC 3339 timestamp")
		}
		if notesTooLong(update.Notes) {
			problems.Add(field+".notes", "must be at most 240 characters")
		}
		productIDs = append(productIDs, update.ProductID)
	}
	if err := problems.Err(); err != nil {
		return domain.ProductReturnsResponse{}, err
	}

	shipments, products, err := s.loadOwnerData(ctx, owner, productIDs...)
	if err != nil {
		return domain.ProductReturnsResponse{}, err
	}

	allocation := reconcile.AllocateFIFO(shipments, products, req.Updates, now)
	if len(allocation.Touched) > 0 {
		saved, err := s.repo.SaveShipments(ctx, allocation.Touched)
		if err != nil {
			return domain.ProductReturnsResponse{}, err
		}
		s.invalidateViews(ctx, owner)
		shipments = replaceShipments(shipments, saved)
		s.logAudit(ctx, "product_returns", "shipments", fmt.Sprintf("%d", len(saved)), fmt.Sprintf("requests=%d", len(req.Updates)))
	}

	return domain.ProductReturnsResponse{
		Results: allocation.Results,
		Tickets: reconcile.BuildReturnTickets(shipments, products),
	}, nil
}

func replaceShipments(shipments []domain.Shipment, saved []domain.Shipment) []domain.Shipment {
	byID := make(map[string]domain.Shipment, len(saved))
	for _, shipment := range saved {
		byID[shipment.ID] = shipment
	}
	merged := make([]domain.Shipment, len(shipments))
	for i, shipment := range shipments {
		if updated, ok := byID[shipment.ID]; ok {
			shipment = updated
		}
		merged[i] = shipment
	}
	return merged
}
