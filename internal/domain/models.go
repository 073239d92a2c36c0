package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used for shipment dates.
const DateLayout = "2006-01-02"

// TimestampLayout keeps a fixed width so timestamps compare lexicographically.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

type Product struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"ownerId"`
	Name      string          `json:"name"`
	Category  string          `json:"category,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
}

type ProductCreateRequest struct {
	Name      string          `json:"name"`
	Category  string          `json:"category,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type ProductUpdateRequest struct {
	Name      *string          `json:"name,omitempty"`
	Category  *string          `json:"category,omitempty"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

// ProductDeleteResult reports what the catalog deletion cascade changed.
type ProductDeleteResult struct {
	ProductID        string   `json:"productId"`
	ShipmentsUpdated []string `json:"shipmentsUpdated"`
	ShipmentsDeleted []string `json:"shipmentsDeleted"`
}

type ShipmentLine struct {
	ID               string `json:"id"`
	ProductID        string `json:"productId"`
	QuantitySent     int    `json:"quantitySent"`
	QuantityReturned int    `json:"quantityReturned"`
}

// Pending is never stored; it is always derived from sent and returned.
func (l ShipmentLine) Pending() int {
	if l.QuantityReturned >= l.QuantitySent {
		return 0
	}
	return l.QuantitySent - l.QuantityReturned
}

type Shipment struct {
	ID               string         `json:"id"`
	OwnerID          string         `json:"ownerId"`
	SentAt           string         `json:"sentAt"`
	ExpectedReturnAt string         `json:"expectedReturnAt,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	Lines            []ShipmentLine `json:"lines"`
	CreatedAt        string         `json:"createdAt"`
	UpdatedAt        string         `json:"updatedAt"`
	Version          int            `json:"version"`
}

func (s Shipment) Clone() Shipment {
	dup := s
	dup.Lines = make([]ShipmentLine, len(s.Lines))
	copy(dup.Lines, s.Lines)
	return dup
}

func (s Shipment) Totals() (sent int, returned int) {
	for _, line := range s.Lines {
		sent += line.QuantitySent
		returned += line.QuantityReturned
	}
	return sent, returned
}

func (s Shipment) Status() string {
	sent, returned := s.Totals()
	switch {
	case returned <= 0:
		return ShipmentStatusCreated
	case returned >= sent:
		return ShipmentStatusFullyReturned
	default:
		return ShipmentStatusPartiallyReturned
	}
}

type ShipmentLineInput struct {
	ProductID        string `json:"productId"`
	QuantitySent     int    `json:"quantitySent"`
	QuantityReturned int    `json:"quantityReturned,omitempty"`
}

type ShipmentCreateRequest struct {
	SentAt           string              `json:"sentAt"`
	ExpectedReturnAt string              `json:"expectedReturnAt,omitempty"`
	Notes            string              `json:"notes,omitempty"`
	Lines            []ShipmentLineInput `json:"lines"`
}

type ShipmentUpdateRequest struct {
	SentAt           *string `json:"sentAt,omitempty"`
	ExpectedReturnAt *string `json:"expectedReturnAt,omitempty"`
	Notes            *string `json:"notes,omitempty"`
}

type ShipmentResponse struct {
	Shipment
	Status         string   `json:"status"`
	IgnoredLineIDs []string `json:"ignoredLineIds,omitempty"`
}

type ReturnViewLine struct {
	LineID           string `json:"lineId"`
	ProductID        string `json:"productId"`
	ProductName      string `json:"productName"`
	ProductRemoved   bool   `json:"productRemoved,omitempty"`
	QuantitySent     int    `json:"quantitySent"`
	QuantityReturned int    `json:"quantityReturned"`
	QuantityPending  int    `json:"quantityPending"`
}

type ShipmentReturnView struct {
	ShipmentID       string           `json:"shipmentId"`
	SentAt           string           `json:"sentAt"`
	ExpectedReturnAt string           `json:"expectedReturnAt,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	UpdatedAt        string           `json:"updatedAt"`
	Status           string           `json:"status"`
	TotalSent        int              `json:"totalSent"`
	TotalReturned    int              `json:"totalReturned"`
	TotalPending     int              `json:"totalPending"`
	Lines            []ReturnViewLine `json:"lines"`
}

type Movement struct {
	Type       string `json:"type"`
	Date       string `json:"date"`
	Quantity   int    `json:"quantity"`
	ShipmentID string `json:"shipmentId"`
}

type ShipmentBalanceItem struct {
	ProductID      string     `json:"productId"`
	ProductName    string     `json:"productName"`
	Category       string     `json:"category,omitempty"`
	TotalSent      int        `json:"totalSent"`
	TotalReturned  int        `json:"totalReturned"`
	Pending        int        `json:"pending"`
	LastSentAt     string     `json:"lastSentAt,omitempty"`
	LastReturnedAt string     `json:"lastReturnedAt,omitempty"`
	Movements      []Movement `json:"movements"`
}

type TicketShipment struct {
	ShipmentID       string `json:"shipmentId"`
	SentAt           string `json:"sentAt"`
	ExpectedReturnAt string `json:"expectedReturnAt,omitempty"`
	Notes            string `json:"notes,omitempty"`
	QuantitySent     int    `json:"quantitySent"`
	QuantityReturned int    `json:"quantityReturned"`
	QuantityPending  int    `json:"quantityPending"`
}

type ProductReturnTicket struct {
	ProductID     string           `json:"productId"`
	ProductName   string           `json:"productName"`
	Category      string           `json:"category,omitempty"`
	TotalSent     int              `json:"totalSent"`
	TotalReturned int              `json:"totalReturned"`
	Pending       int              `json:"pending"`
	Shipments     []TicketShipment `json:"shipments"`
}

type LineReturnUpdate struct {
	LineID           string `json:"lineId"`
	QuantityReturned int    `json:"quantityReturned"`
}

type LineReturnsRequest struct {
	Updates []LineReturnUpdate `json:"updates"`
	Mode    string             `json:"mode,omitempty"`
}

type ProductReturnRequest struct {
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
	OccurredAt string `json:"occurredAt,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type ProductReturnsRequest struct {
	Updates []ProductReturnRequest `json:"updates"`
}

type ReturnAllocation struct {
	ShipmentID   string `json:"shipmentId"`
	LineID       string `json:"lineId"`
	Applied      int    `json:"applied"`
	PendingAfter int    `json:"pendingAfter"`
}

type ProductReturnResult struct {
	ProductID   string             `json:"productId"`
	Requested   int                `json:"requested"`
	Applied     int                `json:"applied"`
	Remaining   int                `json:"remaining"`
	Allocations []ReturnAllocation `json:"allocations"`
	Warning     string             `json:"warning,omitempty"`
	Notes       string             `json:"notes,omitempty"`
}

type ProductReturnsResponse struct {
	Results []ProductReturnResult `json:"results"`
	Tickets []ProductReturnTicket `json:"tickets"`
}

type MonthlySummary struct {
	Month          string          `json:"month"`
	Shipments      int             `json:"shipments"`
	PiecesSent     int             `json:"piecesSent"`
	PiecesReturned int             `json:"piecesReturned"`
	PiecesPending  int             `json:"piecesPending"`
	PendingValue   decimal.Decimal `json:"pendingValue"`
}

type MonthlyReport struct {
	Year   int              `json:"year"`
	Months []MonthlySummary `json:"months"`
	Totals MonthlySummary   `json:"totals"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	OwnerID     string `json:"ownerId"`
	ExpiresAt   string `json:"expiresAt"`
}

// Actor is the verified caller. OwnerID scopes every catalog and shipment operation.
type Actor struct {
	OwnerID string
	Email   string
}

type UserAccount struct {
	Username  string
	Password  string
	OwnerID   string
	Active    bool
	CreatedAt time.Time
}

const (
	ShipmentStatusCreated           = "created"
	ShipmentStatusPartiallyReturned = "partially_returned"
	ShipmentStatusFullyReturned     = "fully_returned"
)

const (
	ReturnModeSet       = "set"
	ReturnModeIncrement = "increment"
)

const (
	MovementSent   = "sent"
	MovementReturn = "return"
)

const (
	WarningNoShipment      = "no shipment found"
	WarningProductNotFound = "product not found"
	WarningNoPending       = "no pending pieces"
	WarningInsufficient    = "insufficient pending balance"
)

// RemovedProductName labels lines whose product was deleted from the catalog.
const RemovedProductName = "Produto removido"
