// Package sqldoc stores products and shipments as JSON documents in any
// database/sql backend. Columns outside the document exist only for owner
// scoping, ordering and the optimistic version check.
package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	Name string
	// NumberedPlaceholders rewrites ? into $1, $2, ...
	NumberedPlaceholders bool
	Isolation            sql.IsolationLevel
	IsUniqueViolation    func(error) bool
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL,
    name       TEXT NOT NULL,
    doc        TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_owner ON products(owner_id, name);

CREATE TABLE IF NOT EXISTS shipments (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL,
    sent_at    TEXT NOT NULL,
    created_at TEXT NOT NULL,
    version    INTEGER NOT NULL,
    doc        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_shipments_owner_sent ON shipments(owner_id, sent_at);

CREATE TABLE IF NOT EXISTS app_users (
    username   TEXT PRIMARY KEY,
    password   TEXT NOT NULL,
    owner_id   TEXT NOT NULL,
    active     INTEGER NOT NULL,
    created_at TEXT NOT NULL
);
`

type Store struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.IsUniqueViolation == nil {
		dialect.IsUniqueViolation = func(error) bool { return false }
	}
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: running schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT doc FROM products
		WHERE owner_id = ?
		ORDER BY name, id
	`), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p domain.Product
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("decoding product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string, ownerID string) (*domain.Product, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT doc FROM products WHERE id = ? AND owner_id = ?
	`), id, ownerID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var p domain.Product
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decoding product %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return store.FetchMany(ctx, ids, s.fetchProducts)
}

func (s *Store) fetchProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id, doc FROM products WHERE id IN (` + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		var p domain.Product
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("decoding product %s: %w", id, err)
		}
		found[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return found, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.OwnerID == "" {
		return nil, store.ErrInvalidInput
	}
	doc, err := json.Marshal(product)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO products (id, owner_id, name, doc, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`), product.ID, product.OwnerID, product.Name, string(doc), product.UpdatedAt)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	doc, err := json.Marshal(product)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE products SET name = ?, doc = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`), product.Name, string(doc), product.UpdatedAt, product.ID, product.OwnerID)
	if err != nil {
		return nil, err
	}
	if err := expectRow(res); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string, ownerID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM products WHERE id = ? AND owner_id = ?
	`), id, ownerID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (s *Store) ListShipments(ctx context.Context, ownerID string) ([]domain.Shipment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT doc, version FROM shipments
		WHERE owner_id = ?
		ORDER BY sent_at DESC, created_at DESC, id DESC
	`), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shipments := make([]domain.Shipment, 0, 64)
	for rows.Next() {
		var doc string
		var version int
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		sh, err := decodeShipment(doc, version)
		if err != nil {
			return nil, err
		}
		shipments = append(shipments, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shipments, nil
}

func (s *Store) GetShipment(ctx context.Context, id string, ownerID string) (*domain.Shipment, error) {
	var doc string
	var version int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT doc, version FROM shipments WHERE id = ? AND owner_id = ?
	`), id, ownerID).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sh, err := decodeShipment(doc, version)
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

func (s *Store) SaveShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	saved, err := s.SaveShipments(ctx, []domain.Shipment{shipment})
	if err != nil {
		return nil, err
	}
	return &saved[0], nil
}

// SaveShipments writes every shipment in one transaction. A version mismatch
// on any of them rolls the whole batch back.
func (s *Store) SaveShipments(ctx context.Context, shipments []domain.Shipment) ([]domain.Shipment, error) {
	if len(shipments) == 0 {
		return []domain.Shipment{}, nil
	}
	seen := make(map[string]struct{}, len(shipments))
	for _, sh := range shipments {
		if sh.ID == "" || sh.OwnerID == "" {
			return nil, store.ErrInvalidInput
		}
		if _, dup := seen[sh.ID]; dup {
			return nil, store.ErrInvalidInput
		}
		seen[sh.ID] = struct{}{}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.dialect.Isolation})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	saved := make([]domain.Shipment, 0, len(shipments))
	for _, sh := range shipments {
		next := sh.Clone()
		next.Version = sh.Version + 1
		doc, err := json.Marshal(next)
		if err != nil {
			return nil, err
		}

		if sh.Version == 0 {
			// A failed INSERT aborts a postgres transaction, so an existing id
			// is classified before writing.
			ownerID, exists, err := s.shipmentOwner(ctx, tx, sh.ID)
			if err != nil {
				return nil, err
			}
			if exists {
				if ownerID != sh.OwnerID {
					return nil, store.ErrNotFound
				}
				return nil, store.ErrConflict
			}
			_, err = tx.ExecContext(ctx, s.rebind(`
				INSERT INTO shipments (id, owner_id, sent_at, created_at, version, doc)
				VALUES (?, ?, ?, ?, ?, ?)
			`), next.ID, next.OwnerID, next.SentAt, next.CreatedAt, next.Version, string(doc))
			if err != nil {
				if s.dialect.IsUniqueViolation(err) {
					return nil, store.ErrConflict
				}
				return nil, err
			}
		} else {
			res, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE shipments SET sent_at = ?, version = ?, doc = ?
				WHERE id = ? AND owner_id = ? AND version = ?
			`), next.SentAt, next.Version, string(doc), next.ID, next.OwnerID, sh.Version)
			if err != nil {
				return nil, err
			}
			if n, err := res.RowsAffected(); err != nil {
				return nil, err
			} else if n == 0 {
				return nil, s.explainMissedUpdate(ctx, tx, sh)
			}
		}
		saved = append(saved, next)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

// explainMissedUpdate tells a foreign shipment (not found) apart from a stale
// or vanished one (conflict).
func (s *Store) explainMissedUpdate(ctx context.Context, tx *sql.Tx, sh domain.Shipment) error {
	ownerID, exists, err := s.shipmentOwner(ctx, tx, sh.ID)
	if err != nil {
		return err
	}
	if exists && ownerID != sh.OwnerID {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *Store) shipmentOwner(ctx context.Context, tx *sql.Tx, id string) (string, bool, error) {
	var ownerID string
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT owner_id FROM shipments WHERE id = ?`), id).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ownerID, true, nil
}

func (s *Store) DeleteShipment(ctx context.Context, id string, ownerID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM shipments WHERE id = ? AND owner_id = ?
	`), id, ownerID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" || user.OwnerID == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO app_users (username, password, owner_id, active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), user.Username, user.Password, user.OwnerID, 1, domain.Timestamp(user.CreatedAt))
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, owner_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		var active int
		var createdAt string
		if err := rows.Scan(&user.Username, &user.Password, &user.OwnerID, &active, &createdAt); err != nil {
			return nil, err
		}
		user.Active = active != 0
		if t, err := time.Parse(domain.TimestampLayout, createdAt); err == nil {
			user.CreatedAt = t
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE app_users SET password = ? WHERE username = ?
	`), password, username)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *Store) rebind(query string) string {
	if !s.dialect.NumberedPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func decodeShipment(doc string, version int) (domain.Shipment, error) {
	var sh domain.Shipment
	if err := json.Unmarshal([]byte(doc), &sh); err != nil {
		return domain.Shipment{}, fmt.Errorf("decoding shipment: %w", err)
	}
	if sh.Lines == nil {
		sh.Lines = []domain.ShipmentLine{}
	}
	sh.Version = version
	return sh, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
