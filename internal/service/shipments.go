package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/validate"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/xid"
)

func shipmentResponse(shipment domain.Shipment, ignored []string) domain.ShipmentResponse {
	return domain.ShipmentResponse{
		Shipment:       shipment,
		Status:         shipment.Status(),
		IgnoredLineIDs: ignored,
	}
}

func (s *Service) ListShipments(ctx context.Context) ([]domain.ShipmentResponse, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	shipments, err := s.repo.ListShipments(ctx, owner)
	if err != nil {
		return nil, err
	}
	result := make([]domain.ShipmentResponse, 0, len(shipments))
	for _, shipment := range shipments {
		result = append(result, shipmentResponse(shipment, nil))
	}
	return result, nil
}

func (s *Service) GetShipment(ctx context.Context, id string) (domain.ShipmentResponse, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}
	shipment, err := s.repo.GetShipment(ctx, id, owner)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}
	return shipmentResponse(*shipment, nil), nil
}

func (s *Service) CreateShipment(ctx context.Context, req domain.ShipmentCreateRequest) (domain.ShipmentResponse, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}

	req.SentAt = strings.TrimSpace(req.SentAt)
	req.ExpectedReturnAt = strings.TrimSpace(req.ExpectedReturnAt)
	var problems validate.Collector
	checkShipmentDates(&problems, req.SentAt, req.ExpectedReturnAt)
	if notesTooLong(req.Notes) {
		problems.Add("notes", "must be at most 240 characters")
	}
	if len(req.Lines) == 0 {
		problems.Add("lines", "at least one line is required")
	}

	productIDs := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		productIDs = append(productIDs, strings.TrimSpace(line.ProductID))
	}
	products, err := s.ownedProducts(ctx, owner, nil, productIDs)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}

	lines := make([]domain.ShipmentLine, 0, len(req.Lines))
	for i, input := range req.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		productID := productIDs[i]
		if _, ok := products[productID]; !ok {
			problems.Add(field+".productId", "unknown product")
		}
		if input.QuantitySent < 1 {
			problems.Add(field+".quantitySent", "must be greater than zero")
		}
		if input.QuantityReturned < 0 {
			problems.Add(field+".quantityReturned", "must not be negative")
		}
		lines = append(lines, domain.ShipmentLine{
			ID:               xid.New("ln"),
			ProductID:        productID,
			QuantitySent:     input.QuantitySent,
			QuantityReturned: min(max(input.QuantityReturned, 0), max(input.QuantitySent, 0)),
		})
	}
	if err := problems.Err(); err != nil {
		return domain.ShipmentResponse{}, err
	}

	stamp := domain.Timestamp(s.now())
	saved, err := s.repo.SaveShipment(ctx, domain.Shipment{
		ID:               xid.New("shp"),
		OwnerID:          owner,
		SentAt:           req.SentAt,
		ExpectedReturnAt: req.ExpectedReturnAt,
		Notes:            strings.TrimSpace(req.Notes),
		Lines:            lines,
		CreatedAt:        stamp,
		UpdatedAt:        stamp,
	})
	if err != nil {
		return domain.ShipmentResponse{}, err
	}

	s.invalidateViews(ctx, owner)
	s.logAudit(ctx, "shipment_create", "shipment", saved.ID, fmt.Sprintf("lines=%d", len(saved.Lines)))
	return shipmentResponse(*saved, nil), nil
}

// UpdateShipment edits dates and notes. Lines change only through the return operations.
func (s *Service) UpdateShipment(ctx context.Context, id string, req domain.ShipmentUpdateRequest) (domain.ShipmentResponse, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}
	existing, err := s.repo.GetShipment(ctx, id, owner)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}

	updated := existing.Clone()
	if req.SentAt != nil {
		updated.SentAt = strings.TrimSpace(*req.SentAt)
	}
	if req.ExpectedReturnAt != nil {
		updated.ExpectedReturnAt = strings.TrimSpace(*req.ExpectedReturnAt)
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}

	var problems validate.Collector
	checkShipmentDates(&problems, updated.SentAt, updated.ExpectedReturnAt)
	if notesTooLong(updated.Notes) {
		problems.Add("notes", "must be at most 240 characters")
	}
	if err := problems.Err(); err != nil {
		return domain.ShipmentResponse{}, err
	}
	updated.UpdatedAt = domain.Timestamp(s.now())

	saved, err := s.repo.SaveShipment(ctx, updated)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}
	s.invalidateViews(ctx, owner)
	return shipmentResponse(*saved, nil), nil
}

func (s *Service) DeleteShipment(ctx context.Context, id string) error {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteShipment(ctx, id, owner); err != nil {
		return err
	}
	s.invalidateViews(ctx, owner)
	s.logAudit(ctx, "shipment_delete", "shipment", id, "")
	return nil
}

func checkShipmentDates(problems *validate.Collector, sentAt string, expectedReturnAt string) {
	sentOK := validDate(sentAt)
	if !sentOK {
		problems.Add("sentAt", "must be a date in YYYY-MM-DD format")
	}
	if expectedReturnAt == "" {
		return
	}
	if !validDate(expectedReturnAt) {
		problems.Add("expectedReturnAt", "must be a date in YYYY-MM-DD format")
		return
	}
	if sentOK && expectedReturnAt < sentAt {
		problems.Add("expectedReturnAt", "must not be before sentAt")
	}
}
