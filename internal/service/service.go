package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/cache"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/validate"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/xid"
)

var ErrUnauthenticated = errors.New("authentication required")

const maxNotesLength = 240

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo    store.Repository
	views   cache.ViewCache
	viewTTL time.Duration
	now     func() time.Time
}

func New(repo store.Repository, views cache.ViewCache, viewTTL time.Duration) *Service {
	if views == nil {
		views = cache.NoopViewCache{}
	}
	if viewTTL <= 0 {
		viewTTL = 5 * time.Minute
	}

	return &Service{
		repo:    repo,
		views:   views,
		viewTTL: viewTTL,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func ownerFrom(ctx context.Context) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.OwnerID) == "" {
		return "", ErrUnauthenticated
	}
	return actor.OwnerID, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, owner)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, id, owner)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	var problems validate.Collector
	name := strings.TrimSpace(req.Name)
	if name == "" {
		problems.Add("name", "is required")
	}
	if !req.UnitPrice.GreaterThan(decimal.Zero) {
		problems.Add("unitPrice", "must be greater than zero")
	}
	if err := problems.Err(); err != nil {
		return domain.Product{}, err
	}

	stamp := domain.Timestamp(s.now())
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:        xid.New("prd"),
		OwnerID:   owner,
		Name:      name,
		Category:  strings.TrimSpace(req.Category),
		UnitPrice: req.UnitPrice.Round(2),
		CreatedAt: stamp,
		UpdatedAt: stamp,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id, owner)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	var problems validate.Collector
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
		if updated.Name == "" {
			problems.Add("name", "must not be empty")
		}
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.UnitPrice != nil {
		if !req.UnitPrice.GreaterThan(decimal.Zero) {
			problems.Add("unitPrice", "must be greater than zero")
		}
		updated.UnitPrice = req.UnitPrice.Round(2)
	}
	if err := problems.Err(); err != nil {
		return domain.Product{}, err
	}
	updated.UpdatedAt = domain.Timestamp(s.now())

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateViews(ctx, owner)
	return *saved, nil
}

// DeleteProduct strips the product's lines from every shipment of the owner.
// Shipments left without lines are deleted; the others get a fresh updatedAt.
// Shipments are rewritten before the product row goes away, so a failure
// part way leaves the product in place and the call can be retried.
func (s *Service) DeleteProduct(ctx context.Context, id string) (domain.ProductDeleteResult, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return domain.ProductDeleteResult{}, err
	}
	if _, err := s.repo.GetProduct(ctx, id, owner); err != nil {
		return domain.ProductDeleteResult{}, err
	}

	shipments, err := s.repo.ListShipments(ctx, owner)
	if err != nil {
		return domain.ProductDeleteResult{}, err
	}

	result := domain.ProductDeleteResult{
		ProductID:        id,
		ShipmentsUpdated: []string{},
		ShipmentsDeleted: []string{},
	}
	stamp := domain.Timestamp(s.now())
	rewrite := make([]domain.Shipment, 0, 4)
	for _, shipment := range shipments {
		kept := make([]domain.ShipmentLine, 0, len(shipment.Lines))
		for _, line := range shipment.Lines {
			if line.ProductID != id {
				kept = append(kept, line)
			}
		}
		switch {
		case len(kept) == len(shipment.Lines):
			continue
		case len(kept) == 0:
			result.ShipmentsDeleted = append(result.ShipmentsDeleted, shipment.ID)
		default:
			shipment.Lines = kept
			shipment.UpdatedAt = stamp
			rewrite = append(rewrite, shipment)
			result.ShipmentsUpdated = append(result.ShipmentsUpdated, shipment.ID)
		}
	}

	if len(rewrite) > 0 {
		if _, err := s.repo.SaveShipments(ctx, rewrite); err != nil {
			return domain.ProductDeleteResult{}, err
		}
	}
	for _, shipmentID := range result.ShipmentsDeleted {
		if err := s.repo.DeleteShipment(ctx, shipmentID, owner); err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.ProductDeleteResult{}, err
		}
	}
	if err := s.repo.DeleteProduct(ctx, id, owner); err != nil {
		return domain.ProductDeleteResult{}, err
	}

	s.invalidateViews(ctx, owner)
	s.logAudit(ctx, "product_delete", "product", id, "")
	return result, nil
}

// loadOwnerData returns the owner's shipments and the products their lines
// reference, plus any extra product ids, fetched in one batched call.
// Products of another owner are dropped and therefore render as removed.
func (s *Service) loadOwnerData(ctx context.Context, owner string, extraProductIDs ...string) ([]domain.Shipment, map[string]domain.Product, error) {
	shipments, err := s.repo.ListShipments(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	products, err := s.ownedProducts(ctx, owner, shipments, extraProductIDs)
	if err != nil {
		return nil, nil, err
	}
	return shipments, products, nil
}

func (s *Service) ownedProducts(ctx context.Context, owner string, shipments []domain.Shipment, extraProductIDs []string) (map[string]domain.Product, error) {
	ids := append([]string(nil), extraProductIDs...)
	for _, shipment := range shipments {
		for _, line := range shipment.Lines {
			ids = append(ids, line.ProductID)
		}
	}
	found, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]domain.Product, len(found))
	for id, product := range found {
		if product.OwnerID == owner {
			owned[id] = product
		}
	}
	return owned, nil
}

func validDate(raw string) bool {
	_, err := time.Parse(domain.DateLayout, raw)
	return err == nil
}

func notesTooLong(notes string) bool {
	return utf8.RuneCountInString(notes) > maxNotesLength
}

// cachedView reads a derived view. The returned generation must be passed to
// storeView; it is negative when the cache could not be consulted.
func (s *Service) cachedView(ctx context.Context, owner string, view string, dest any) (int64, bool) {
	gen, err := s.views.Generation(ctx, owner)
	if err != nil {
		log.Printf("[service] WARN: view cache generation owner=%s: %v", owner, err)
		return -1, false
	}
	hit, err := s.views.Get(ctx, owner, gen, view, dest)
	if err != nil {
		log.Printf("[service] WARN: view cache read owner=%s view=%s: %v", owner, view, err)
		return gen, false
	}
	return gen, hit
}

func (s *Service) storeView(ctx context.Context, owner string, gen int64, view string, value any) {
	if gen < 0 {
		return
	}
	if err := s.views.Set(ctx, owner, gen, view, value, s.viewTTL); err != nil {
		log.Printf("[service] WARN: view cache write owner=%s view=%s: %v", owner, view, err)
	}
}

func (s *Service) invalidateViews(ctx context.Context, owner string) {
	if err := s.views.Invalidate(ctx, owner); err != nil {
		log.Printf("[service] WARN: view cache invalidate owner=%s: %v", owner, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	log.Printf("[audit] owner=%s actor=%s action=%s entity=%s/%s %s", actor.OwnerID, actor.Email, action, entityType, entityID, detail)
}
