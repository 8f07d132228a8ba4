package listing

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tradepost/moderation/internal/storage"
)

// newTestStore connects to a local PostgreSQL instance, applies the schema,
// and seeds one verified seller. Tests that call this helper require a
// running PostgreSQL on localhost:5432 (override with TEST_DATABASE_DSN).
// Listings created under the seeded seller are removed when the test
// finishes.
func newTestStore(t *testing.T) (*Store, int64) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = storage.DefaultConfig().DSN
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.Open(ctx, storage.Config{DSN: dsn})
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}

	store := NewStore(db)
	sellerID, err := store.CreateSeller(ctx, true)
	if err != nil {
		db.Close()
		t.Fatalf("seed seller: %v", err)
	}

	t.Cleanup(func() {
		cctx := context.Background()
		db.ExecContext(cctx, `DELETE FROM listings WHERE seller_id = $1`, sellerID)
		db.ExecContext(cctx, `DELETE FROM sellers WHERE id = $1`, sellerID)
		db.Close()
	})
	return store, sellerID
}

func TestGet_Unknown(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	got, err := store.Get(ctx, -1)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for an unknown listing, got %+v", got)
	}
}

func TestCreateAndGet(t *testing.T) {
	store, sellerID := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sellerID, "Road bike", "Carbon frame, 54cm", 5, 4)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("Create() returned a zero id")
	}
	if created.Closed {
		t.Error("new listing is closed")
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil for an existing listing")
	}
	if got.SellerID != sellerID || got.Name != "Road bike" || got.Description != "Carbon frame, 54cm" {
		t.Errorf("Get() = %+v, want the created listing", got)
	}
	if got.Category != 5 || got.ImagesQty != 4 {
		t.Errorf("Get() category/images = %d/%d, want 5/4", got.Category, got.ImagesQty)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestGetWithSeller(t *testing.T) {
	store, sellerID := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sellerID, "Winter tires", "Set of four, one season", 9, 2)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := store.GetWithSeller(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetWithSeller() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetWithSeller() returned nil for an existing listing")
	}
	if got.ListingID != created.ID || got.SellerID != sellerID {
		t.Errorf("GetWithSeller() ids = %d/%d, want %d/%d", got.ListingID, got.SellerID, created.ID, sellerID)
	}
	if !got.VerifiedSeller {
		t.Error("expected the seeded seller to be verified")
	}
	if got.Description != "Set of four, one season" || got.ImagesQty != 2 || got.Category != 9 {
		t.Errorf("GetWithSeller() = %+v, want the created listing fields", got)
	}

	missing, err := store.GetWithSeller(ctx, -1)
	if err != nil {
		t.Fatalf("GetWithSeller() error for unknown id: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for an unknown listing, got %+v", missing)
	}
}

func TestMarkClosed(t *testing.T) {
	store, sellerID := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sellerID, "Desk lamp", "Works fine", 3, 1)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	closed, err := store.MarkClosed(ctx, created.ID)
	if err != nil {
		t.Fatalf("MarkClosed() error: %v", err)
	}
	if !closed {
		t.Fatal("expected the first close to apply")
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !got.Closed {
		t.Error("listing not marked closed")
	}

	// Closing twice reports not-applied, matching the absent case.
	closed, err = store.MarkClosed(ctx, created.ID)
	if err != nil {
		t.Fatalf("MarkClosed() second call error: %v", err)
	}
	if closed {
		t.Error("expected the second close to report not-applied")
	}

	closed, err = store.MarkClosed(ctx, -1)
	if err != nil {
		t.Fatalf("MarkClosed() unknown id error: %v", err)
	}
	if closed {
		t.Error("expected an unknown listing to report not-applied")
	}
}
