package auxstore

import (
	"context"
	"testing"

	"github.com/magellium/hrwsi/internal/errs"
)

func TestObjectKey(t *testing.T) {
	got := objectKey("CAMS", "31TCJ", 20260301)
	want := "cams/31TCJ/20260301.nc"
	if got != want {
		t.Fatalf("objectKey() = %q, want %q", got, want)
	}
}

func TestExistsRejectsUnconfiguredKind(t *testing.T) {
	c := NewS3Checker(nil, map[string]string{"CAMS": "hrwsi-cams"})
	_, err := c.Exists(context.Background(), "FMI", "31TCJ", 20260301)
	if !errs.IsConfigError(err) {
		t.Fatalf("expected a config error for an unconfigured auxiliary kind, got %v", err)
	}
}
