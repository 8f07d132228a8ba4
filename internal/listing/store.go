// Package listing provides PostgreSQL-backed access to classified-ad
// listings and their sellers. Listing lifecycle is owned by the ads service;
// the moderation pipeline reads listings and reacts to their closure.
package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Listing is a classified-ad row as the ads service stores it.
type Listing struct {
	ID          int64
	SellerID    int64
	Name        string
	Description string
	Category    int
	ImagesQty   int
	Closed      bool
	CreatedAt   time.Time
}

// WithSeller is the joined listing+seller projection the scoring path reads
// in a single query.
type WithSeller struct {
	ListingID      int64
	SellerID       int64
	Name           string
	Description    string
	Category       int
	ImagesQty      int
	VerifiedSeller bool
}

// Store reads and updates listings in PostgreSQL. Every call checks a
// connection out of the pool and returns it before the call completes;
// nothing is held between calls.
type Store struct {
	db *sql.DB
}

// NewStore creates a listing store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get fetches a listing by id. Returns nil if it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*Listing, error) {
	const query = `
		SELECT id, seller_id, name, description, category, images_qty, is_closed, created_at
		FROM listings
		WHERE id = $1`

	var l Listing
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&l.ID, &l.SellerID, &l.Name, &l.Description, &l.Category, &l.ImagesQty, &l.Closed, &l.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing: get %d: %w", id, err)
	}
	return &l, nil
}

// GetWithSeller fetches a listing joined with its seller's verification flag.
// Returns nil if the listing does not exist.
func (s *Store) GetWithSeller(ctx context.Context, id int64) (*WithSeller, error) {
	const query = `
		SELECT l.id, l.seller_id, l.name, l.description, l.category, l.images_qty, s.is_verified
		FROM listings l
		INNER JOIN sellers s ON l.seller_id = s.id
		WHERE l.id = $1`

	var ls WithSeller
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ls.ListingID, &ls.SellerID, &ls.Name, &ls.Description, &ls.Category, &ls.ImagesQty, &ls.VerifiedSeller,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing: get with seller %d: %w", id, err)
	}
	return &ls, nil
}

// MarkClosed flips the listing to closed. Returns false when the listing does
// not exist or was already closed.
func (s *Store) MarkClosed(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE listings
		SET is_closed = TRUE
		WHERE id = $1 AND is_closed = FALSE`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("listing: mark closed %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("listing: mark closed %d: %w", id, err)
	}
	return n > 0, nil
}

// Create inserts a listing. Used by the ads service and by test fixtures.
func (s *Store) Create(ctx context.Context, sellerID int64, name, description string, category, imagesQty int) (*Listing, error) {
	const query = `
		INSERT INTO listings (seller_id, name, description, category, images_qty)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, seller_id, name, description, category, images_qty, is_closed, created_at`

	var l Listing
	err := s.db.QueryRowContext(ctx, query, sellerID, name, description, category, imagesQty).Scan(
		&l.ID, &l.SellerID, &l.Name, &l.Description, &l.Category, &l.ImagesQty, &l.Closed, &l.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("listing: create: %w", err)
	}
	return &l, nil
}

// CreateSeller inserts a seller and returns its id. Used by test fixtures.
func (s *Store) CreateSeller(ctx context.Context, verified bool) (int64, error) {
	const query = `
		INSERT INTO sellers (is_verified)
		VALUES ($1)
		RETURNING id`

	var id int64
	if err := s.db.QueryRowContext(ctx, query, verified).Scan(&id); err != nil {
		return 0, fmt.Errorf("listing: create seller: %w", err)
	}
	return id, nil
}
