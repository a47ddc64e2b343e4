package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/magellium/hrwsi/internal/storetest"
	"github.com/magellium/hrwsi/internal/types"
)

// TestCommitFiringIsExactlyOnce exercises spec.md §4.E's "exactly-once
// rule firing": committing the identical firing twice must create a
// trigger_validation row only the first time, with the second attempt
// reported through created=false rather than as an error.
func TestCommitFiringIsExactlyOnce(t *testing.T) {
	fx, cleanup := storetest.NewFixture(t)
	defer cleanup()
	ctx := context.Background()

	input := types.RawInput{
		ID:               "test-commit-firing-input",
		ProductType:      "S2_FSC_L2B",
		MeasurementStart: time.Now().Add(-time.Hour),
		PublishingDate:   time.Now().Add(-30 * time.Minute),
		Tile:             "31TCJ",
		MeasurementDay:   20260301,
		InputPath:        "s3://hrwsi-eodata/test-commit-firing-input",
	}
	if _, err := fx.InsertRawInput(ctx, fx.Pool, input); err != nil {
		t.Fatalf("could not seed raw input: %v", err)
	}

	firing := types.Firing{
		TriggeringConditionName: "FSC_TC",
		IsNRT:                   true,
		Inputs:                  []types.RawInput{input},
	}

	id1, created1, err := fx.CommitFiring(ctx, firing)
	if err != nil {
		t.Fatalf("unexpected error on first commit: %v", err)
	}
	if !created1 || id1 == 0 {
		t.Fatalf("expected the first commit to create a validation, got created=%v id=%d", created1, id1)
	}

	already, err := fx.ValidationExistsForInputUnderRule(ctx, fx.Pool, input.ID, "FSC_TC")
	if err != nil {
		t.Fatalf("unexpected error probing validation existence: %v", err)
	}
	if !already {
		t.Fatal("expected a validation to exist for this input under FSC_TC after commit")
	}
}
