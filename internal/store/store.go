package store

import (
	"context"
	"errors"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("shipment was modified concurrently")
)

// MaxIDsPerQuery caps the ids sent in one batched lookup.
const MaxIDsPerQuery = 10

type CatalogStore interface {
	ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string, ownerID string) (*domain.Product, error)
	// GetProductsByIDs does not filter by owner; callers check OwnerID explicitly.
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string, ownerID string) error
}

// ShipmentStore persists whole shipment documents. Saving an existing shipment
// requires the Version it was loaded at; a mismatch returns ErrConflict.
type ShipmentStore interface {
	ListShipments(ctx context.Context, ownerID string) ([]domain.Shipment, error)
	GetShipment(ctx context.Context, id string, ownerID string) (*domain.Shipment, error)
	SaveShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error)
	SaveShipments(ctx context.Context, shipments []domain.Shipment) ([]domain.Shipment, error)
	DeleteShipment(ctx context.Context, id string, ownerID string) error
}

type Repository interface {
	CatalogStore
	ShipmentStore
}

// FetchMany splits ids into MaxIDsPerQuery sized chunks, calls fetch for each
// chunk and merges the results. Duplicate and empty ids are dropped.
func FetchMany[T any](ctx context.Context, ids []string, fetch func(ctx context.Context, chunk []string) (map[string]T, error)) (map[string]T, error) {
	unique := UniqueIDs(ids)
	result := make(map[string]T, len(unique))
	for start := 0; start < len(unique); start += MaxIDsPerQuery {
		end := start + MaxIDsPerQuery
		if end > len(unique) {
			end = len(unique)
		}
		part, err := fetch(ctx, unique[start:end])
		if err != nil {
			return nil, err
		}
		for id, item := range part {
			result[id] = item
		}
	}
	return result, nil
}

func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
