package reconcile

import (
	"cmp"
	"slices"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
)

// BuildReturnView summarises every line of a shipment. Lines whose product is
// missing from productsByID are labelled with domain.RemovedProductName.
func BuildReturnView(shipment domain.Shipment, productsByID map[string]domain.Product) domain.ShipmentReturnView {
	view := domain.ShipmentReturnView{
		ShipmentID:       shipment.ID,
		SentAt:           shipment.SentAt,
		ExpectedReturnAt: shipment.ExpectedReturnAt,
		Notes:            shipment.Notes,
		UpdatedAt:        shipment.UpdatedAt,
		Status:           shipment.Status(),
		Lines:            make([]domain.ReturnViewLine, 0, len(shipment.Lines)),
	}
	for _, line := range shipment.Lines {
		name, _, removed := productLabel(line.ProductID, productsByID)
		pending := line.Pending()
		view.Lines = append(view.Lines, domain.ReturnViewLine{
			LineID:           line.ID,
			ProductID:        line.ProductID,
			ProductName:      name,
			ProductRemoved:   removed,
			QuantitySent:     line.QuantitySent,
			QuantityReturned: line.QuantityReturned,
			QuantityPending:  pending,
		})
		view.TotalSent += line.QuantitySent
		view.TotalReturned += line.QuantityReturned
		view.TotalPending += pending
	}
	return view
}

func BuildReturnViews(shipments []domain.Shipment, productsByID map[string]domain.Product, pendingOnly bool) []domain.ShipmentReturnView {
	views := make([]domain.ShipmentReturnView, 0, len(shipments))
	for _, shipment := range shipments {
		view := BuildReturnView(shipment, productsByID)
		if pendingOnly && view.TotalPending == 0 {
			continue
		}
		views = append(views, view)
	}
	return views
}

// BuildBalances folds every line of every shipment into one row per product.
// Each line contributes a sent movement at the shipment's sentAt and, when some
// pieces came back, a return movement at the shipment's updatedAt.
func BuildBalances(shipments []domain.Shipment, productsByID map[string]domain.Product) []domain.ShipmentBalanceItem {
	byProduct := make(map[string]*domain.ShipmentBalanceItem)
	for _, shipment := range shipments {
		for _, line := range shipment.Lines {
			item, ok := byProduct[line.ProductID]
			if !ok {
				name, category, _ := productLabel(line.ProductID, productsByID)
				item = &domain.ShipmentBalanceItem{
					ProductID:   line.ProductID,
					ProductName: name,
					Category:    category,
					Movements:   make([]domain.Movement, 0, 4),
				}
				byProduct[line.ProductID] = item
			}

			item.TotalSent += line.QuantitySent
			item.TotalReturned += line.QuantityReturned
			item.Pending += line.Pending()
			item.Movements = append(item.Movements, domain.Movement{
				Type:       domain.MovementSent,
				Date:       shipment.SentAt,
				Quantity:   line.QuantitySent,
				ShipmentID: shipment.ID,
			})
			if shipment.SentAt > item.LastSentAt {
				item.LastSentAt = shipment.SentAt
			}

			if line.QuantityReturned > 0 {
				item.Movements = append(item.Movements, domain.Movement{
					Type:       domain.MovementReturn,
					Date:       shipment.UpdatedAt,
					Quantity:   line.QuantityReturned,
					ShipmentID: shipment.ID,
				})
				if shipment.UpdatedAt > item.LastReturnedAt {
					item.LastReturnedAt = shipment.UpdatedAt
				}
			}
		}
	}

	items := make([]domain.ShipmentBalanceItem, 0, len(byProduct))
	for _, item := range byProduct {
		slices.SortStableFunc(item.Movements, func(a, b domain.Movement) int {
			return cmp.Compare(a.Date, b.Date)
		})
		items = append(items, *item)
	}
	slices.SortFunc(items, func(a, b domain.ShipmentBalanceItem) int {
		return compareByPendingThenName(a.Pending, b.Pending, a.ProductName, b.ProductName, a.ProductID, b.ProductID)
	})
	return items
}

// BuildReturnTickets groups the same fold by contributing shipment. Shipments
// inside a ticket are listed oldest first, the order returns are credited in.
func BuildReturnTickets(shipments []domain.Shipment, productsByID map[string]domain.Product) []domain.ProductReturnTicket {
	byProduct := make(map[string]*domain.ProductReturnTicket)
	for _, shipment := range SortFIFO(shipments) {
		for _, line := range shipment.Lines {
			ticket, ok := byProduct[line.ProductID]
			if !ok {
				name, category, _ := productLabel(line.ProductID, productsByID)
				ticket = &domain.ProductReturnTicket{
					ProductID:   line.ProductID,
					ProductName: name,
					Category:    category,
					Shipments:   make([]domain.TicketShipment, 0, 2),
				}
				byProduct[line.ProductID] = ticket
			}

			ticket.TotalSent += line.QuantitySent
			ticket.TotalReturned += line.QuantityReturned
			ticket.Pending += line.Pending()

			last := len(ticket.Shipments) - 1
			if last >= 0 && ticket.Shipments[last].ShipmentID == shipment.ID {
				ticket.Shipments[last].QuantitySent += line.QuantitySent
				ticket.Shipments[last].QuantityReturned += line.QuantityReturned
				ticket.Shipments[last].QuantityPending += line.Pending()
				continue
			}
			ticket.Shipments = append(ticket.Shipments, domain.TicketShipment{
				ShipmentID:       shipment.ID,
				SentAt:           shipment.SentAt,
				ExpectedReturnAt: shipment.ExpectedReturnAt,
				Notes:            shipment.Notes,
				QuantitySent:     line.QuantitySent,
				QuantityReturned: line.QuantityReturned,
				QuantityPending:  line.Pending(),
			})
		}
	}

	tickets := make([]domain.ProductReturnTicket, 0, len(byProduct))
	for _, ticket := range byProduct {
		tickets = append(tickets, *ticket)
	}
	slices.SortFunc(tickets, func(a, b domain.ProductReturnTicket) int {
		return compareByPendingThenName(a.Pending, b.Pending, a.ProductName, b.ProductName, a.ProductID, b.ProductID)
	})
	return tickets
}

// FilterPendingTickets keeps tickets that still have pieces at the laundry.
func FilterPendingTickets(tickets []domain.ProductReturnTicket) []domain.ProductReturnTicket {
	kept := make([]domain.ProductReturnTicket, 0, len(tickets))
	for _, ticket := range tickets {
		if ticket.Pending > 0 {
			kept = append(kept, ticket)
		}
	}
	return kept
}

// SortFIFO returns a copy ordered oldest sentAt first. Ties fall back to
// createdAt and then id so allocation order is deterministic.
func SortFIFO(shipments []domain.Shipment) []domain.Shipment {
	sorted := make([]domain.Shipment, len(shipments))
	copy(sorted, shipments)
	slices.SortStableFunc(sorted, compareFIFO)
	return sorted
}

func compareFIFO(a, b domain.Shipment) int {
	if c := cmp.Compare(a.SentAt, b.SentAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func compareByPendingThenName(pendingA, pendingB int, nameA, nameB string, idA, idB string) int {
	if c := cmp.Compare(pendingB, pendingA); c != 0 {
		return c
	}
	if c := cmp.Compare(nameA, nameB); c != 0 {
		return c
	}
	return cmp.Compare(idA, idB)
}

func productLabel(productID string, productsByID map[string]domain.Product) (name string, category string, removed bool) {
	product, ok := productsByID[productID]
	if !ok {
		return domain.RemovedProductName, "", true
	}
	return product.Name, product.Category, false
}
