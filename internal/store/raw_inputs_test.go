package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/magellium/hrwsi/internal/storetest"
	"github.com/magellium/hrwsi/internal/types"
)

// TestInsertRawInputIsIdempotent exercises spec.md §4.D's "record
// exactly once" invariant: inserting the same raw input twice creates
// a row only the first time.
func TestInsertRawInputIsIdempotent(t *testing.T) {
	fx, cleanup := storetest.NewFixture(t)
	defer cleanup()
	ctx := context.Background()

	ri := types.RawInput{
		ID:               "test-raw-input-1",
		ProductType:      "S2_FSC_L2B",
		MeasurementStart: time.Now().Add(-time.Hour),
		PublishingDate:   time.Now().Add(-30 * time.Minute),
		Tile:             "31TCJ",
		MeasurementDay:   20260301,
		InputPath:        "s3://hrwsi-eodata/test-raw-input-1",
	}

	created, err := fx.InsertRawInput(ctx, fx.Pool, ri)
	if err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}
	if !created {
		t.Fatal("expected the first insert to create a row")
	}

	created, err = fx.InsertRawInput(ctx, fx.Pool, ri)
	if err != nil {
		t.Fatalf("unexpected error on duplicate insert: %v", err)
	}
	if created {
		t.Fatal("expected the duplicate insert to be a no-op")
	}
}
