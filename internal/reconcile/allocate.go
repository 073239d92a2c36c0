package reconcile

import (
	"errors"
	"strings"
	"time"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
)

var ErrInvalidMode = errors.New("mode must be set or increment")

// ApplyLineUpdates returns a copy of shipment with the requested returned
// quantities applied. In set mode the value replaces the current one, in
// increment mode it is added to it; both are clamped to [0, quantitySent].
// Line ids that do not exist in the shipment are returned as ignored.
func ApplyLineUpdates(shipment domain.Shipment, updates []domain.LineReturnUpdate, mode string) (domain.Shipment, []string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = domain.ReturnModeSet
	}
	if mode != domain.ReturnModeSet && mode != domain.ReturnModeIncrement {
		return domain.Shipment{}, nil, ErrInvalidMode
	}

	updated := shipment.Clone()
	index := make(map[string]int, len(updated.Lines))
	for i, line := range updated.Lines {
		index[line.ID] = i
	}

	var ignored []string
	for _, update := range updates {
		i, ok := index[update.LineID]
		if !ok {
			ignored = append(ignored, update.LineID)
			continue
		}
		line := &updated.Lines[i]
		next := update.QuantityReturned
		if mode == domain.ReturnModeIncrement {
			next = incrementReturned(*line, update.QuantityReturned)
		}
		line.QuantityReturned = clamp(next, 0, line.QuantitySent)
	}
	return updated, ignored, nil
}

// Allocation is the outcome of AllocateFIFO. Touched holds working copies of
// the shipments that received at least one allocation, oldest first; nothing
// else needs persisting.
type Allocation struct {
	Results []domain.ProductReturnResult
	Touched []domain.Shipment
}

// AllocateFIFO credits product-level returns to the oldest outstanding lines
// first. ownedProducts must only contain the caller's products. Requests are
// processed in order against one working copy, so a later request for the same
// product sees what earlier ones consumed. The input slice is not modified.
//
// AllocateFIFO does not validate requests. An occurredAt that
// NormalizeOccurredAt rejects is treated as now; callers that must refuse
// such input check it with NormalizeOccurredAt first.
func AllocateFIFO(shipments []domain.Shipment, ownedProducts map[string]domain.Product, requests []domain.ProductReturnRequest, now time.Time) Allocation {
	working := SortFIFO(shipments)
	for i := range working {
		working[i] = working[i].Clone()
	}

	nowStamp := domain.Timestamp(now)
	touchedAt := make(map[string]string)
	results := make([]domain.ProductReturnResult, 0, len(requests))

	for _, req := range requests {
		result := domain.ProductReturnResult{
			ProductID:   req.ProductID,
			Requested:   req.Quantity,
			Remaining:   req.Quantity,
			Allocations: make([]domain.ReturnAllocation, 0, 2),
			Notes:       req.Notes,
		}

		if len(working) == 0 {
			result.Warning = domain.WarningNoShipment
			results = append(results, result)
			continue
		}
		if _, ok := ownedProducts[req.ProductID]; !ok {
			result.Warning = domain.WarningProductNotFound
			results = append(results, result)
			continue
		}

		stamp, err := NormalizeOccurredAt(req.OccurredAt, now)
		if err != nil {
			stamp = nowStamp
		}

		for si := range working {
			if result.Remaining <= 0 {
				break
			}
			shipment := &working[si]
			for li := range shipment.Lines {
				if result.Remaining <= 0 {
					break
				}
				line := &shipment.Lines[li]
				if line.ProductID != req.ProductID {
					continue
				}
				pending := line.Pending()
				if pending < 1 {
					continue
				}
				applied := min(pending, result.Remaining)
				line.QuantityReturned += applied
				result.Remaining -= applied
				result.Applied += applied
				result.Allocations = append(result.Allocations, domain.ReturnAllocation{
					ShipmentID:   shipment.ID,
					LineID:       line.ID,
					Applied:      applied,
					PendingAfter: line.Pending(),
				})
				if stamp > touchedAt[shipment.ID] {
					touchedAt[shipment.ID] = stamp
				}
			}
		}

		switch {
		case result.Applied == 0:
			result.Warning = domain.WarningNoPending
		case result.Remaining > 0:
			result.Warning = domain.WarningInsufficient
		}
		results = append(results, result)
	}

	touched := make([]domain.Shipment, 0, len(touchedAt))
	for _, shipment := range working {
		stamp, ok := touchedAt[shipment.ID]
		if !ok {
			continue
		}
		if stamp > shipment.UpdatedAt {
			shipment.UpdatedAt = stamp
		}
		touched = append(touched, shipment)
	}

	return Allocation{Results: results, Touched: touched}
}

// NormalizeOccurredAt turns a YYYY-MM-DD date or an RFC 3339 timestamp into the
// fixed-width timestamp used for updatedAt. Empty input yields now.
func NormalizeOccurredAt(raw string, now time.Time) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Timestamp(now), nil
	}
	if day, err := time.Parse(domain.DateLayout, raw); err == nil {
		return domain.Timestamp(day), nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", err
	}
	return domain.Timestamp(at), nil
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// incrementReturned adds delta to the line's returned quantity, saturating at
// 0 and quantitySent instead of overflowing.
func incrementReturned(line domain.ShipmentLine, delta int) int {
	current := clamp(line.QuantityReturned, 0, max(line.QuantitySent, 0))
	switch {
	case delta > line.QuantitySent-current:
		return line.QuantitySent
	case delta < -current:
		return 0
	default:
		return current + delta
	}
}
