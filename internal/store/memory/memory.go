package memory

import (
	"cmp"
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store"
)

// DemoOwnerID owns the seeded catalog and the seeded dev user.
const DemoOwnerID = "owner_demo"

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	shipments       map[string]domain.Shipment
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		shipments:       make(map[string]domain.Shipment),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev login account. The password is read from
// SEED_OPERATOR_PASSWORD; when unset a hardcoded dev default is used and a
// warning is logged. The memory store is never used when a database is configured.
func seedUsers() map[string]domain.UserAccount {
	password := envOr("SEED_OPERATOR_PASSWORD", "lavanderia123")
	if os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OPERATOR_PASSWORD to override.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	return map[string]domain.UserAccount{
		"operador": {
			Username:  "operador",
			Password:  string(hash),
			OwnerID:   DemoOwnerID,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small linen catalog and two open shipments
// for DemoOwnerID, dated relative to now.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	stamp := domain.Timestamp(now)
	products := []domain.Product{
		{ID: "prd_toalha_banho", Name: "Toalha de banho", Category: "banho", UnitPrice: decimal.RequireFromString("4.50")},
		{ID: "prd_toalha_rosto", Name: "Toalha de rosto", Category: "banho", UnitPrice: decimal.RequireFromString("2.20")},
		{ID: "prd_roupao", Name: "Roupão", Category: "banho", UnitPrice: decimal.RequireFromString("9.90")},
		{ID: "prd_lencol_casal", Name: "Lençol casal", Category: "cama", UnitPrice: decimal.RequireFromString("6.80")},
		{ID: "prd_fronha", Name: "Fronha", Category: "cama", UnitPrice: decimal.RequireFromString("1.90")},
	}
	for _, p := range products {
		p.OwnerID = DemoOwnerID
		p.CreatedAt = stamp
		p.UpdatedAt = stamp
		s.products[p.ID] = p
	}

	older := now.AddDate(0, 0, -9)
	newer := now.AddDate(0, 0, -2)
	shipments := []domain.Shipment{
		{
			ID:               "shp_demo_1",
			SentAt:           older.Format(domain.DateLayout),
			ExpectedReturnAt: older.AddDate(0, 0, 3).Format(domain.DateLayout),
			Notes:            "Rouparia do 2º andar",
			Lines: []domain.ShipmentLine{
				{ID: "ln_demo_1", ProductID: "prd_toalha_banho", QuantitySent: 40, QuantityReturned: 32},
				{ID: "ln_demo_2", ProductID: "prd_lencol_casal", QuantitySent: 20, QuantityReturned: 20},
				{ID: "ln_demo_3", ProductID: "prd_fronha", QuantitySent: 40, QuantityReturned: 36},
			},
			CreatedAt: domain.Timestamp(older),
			UpdatedAt: domain.Timestamp(older.AddDate(0, 0, 4)),
		},
		{
			ID:               "shp_demo_2",
			SentAt:           newer.Format(domain.DateLayout),
			ExpectedReturnAt: newer.AddDate(0, 0, 3).Format(domain.DateLayout),
			Lines: []domain.ShipmentLine{
				{ID: "ln_demo_4", ProductID: "prd_toalha_banho", QuantitySent: 30},
				{ID: "ln_demo_5", ProductID: "prd_toalha_rosto", QuantitySent: 25},
				{ID: "ln_demo_6", ProductID: "prd_roupao", QuantitySent: 6},
			},
			CreatedAt: domain.Timestamp(newer),
			UpdatedAt: domain.Timestamp(newer),
		},
	}
	for _, sh := range shipments {
		sh.OwnerID = DemoOwnerID
		sh.Version = 1
		s.shipments[sh.ID] = sh
	}
	return s
}

func (s *Store) ListProducts(_ context.Context, ownerID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.OwnerID == ownerID {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string, ownerID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok || p.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return store.FetchMany(ctx, ids, func(_ context.Context, chunk []string) (map[string]domain.Product, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		found := make(map[string]domain.Product, len(chunk))
		for _, id := range chunk {
			if p, ok := s.products[id]; ok {
				found[id] = p
			}
		}
		return found, nil
	})
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.OwnerID == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok || current.OwnerID != product.OwnerID {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = current.CreatedAt
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok || p.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListShipments(_ context.Context, ownerID string) ([]domain.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shipment, 0, len(s.shipments))
	for _, sh := range s.shipments {
		if sh.OwnerID == ownerID {
			result = append(result, sh.Clone())
		}
	}
	slices.SortFunc(result, compareNewestFirst)
	return result, nil
}

func (s *Store) GetShipment(_ context.Context, id string, ownerID string) (*domain.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.shipments[id]
	if !ok || sh.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	clone := sh.Clone()
	return &clone, nil
}

func (s *Store) SaveShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	saved, err := s.SaveShipments(ctx, []domain.Shipment{shipment})
	if err != nil {
		return nil, err
	}
	return &saved[0], nil
}

// SaveShipments checks every shipment before writing any of them, so a version
// conflict anywhere leaves the whole batch unapplied.
func (s *Store) SaveShipments(_ context.Context, shipments []domain.Shipment) ([]domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(shipments))
	for _, sh := range shipments {
		if sh.ID == "" || sh.OwnerID == "" {
			return nil, store.ErrInvalidInput
		}
		if _, dup := seen[sh.ID]; dup {
			return nil, store.ErrInvalidInput
		}
		seen[sh.ID] = struct{}{}
		if err := s.checkVersionLocked(sh); err != nil {
			return nil, err
		}
	}

	saved := make([]domain.Shipment, 0, len(shipments))
	for _, sh := range shipments {
		next := sh.Clone()
		next.Version = sh.Version + 1
		if current, ok := s.shipments[sh.ID]; ok {
			next.CreatedAt = current.CreatedAt
		}
		s.shipments[next.ID] = next
		saved = append(saved, next.Clone())
	}
	return saved, nil
}

func (s *Store) checkVersionLocked(sh domain.Shipment) error {
	current, ok := s.shipments[sh.ID]
	if !ok {
		if sh.Version != 0 {
			return store.ErrConflict
		}
		return nil
	}
	if current.OwnerID != sh.OwnerID {
		return store.ErrNotFound
	}
	if sh.Version == 0 || current.Version != sh.Version {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) DeleteShipment(_ context.Context, id string, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shipments[id]
	if !ok || sh.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.shipments, id)
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" || user.OwnerID == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// compareNewestFirst orders by sentAt desc, then createdAt desc, then id desc.
func compareNewestFirst(a, b domain.Shipment) int {
	if c := cmp.Compare(b.SentAt, a.SentAt); c != 0 {
		return c
	}
	if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}
