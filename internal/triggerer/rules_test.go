package triggerer

import (
	"testing"
	"time"

	"github.com/magellium/hrwsi/internal/types"
)

func orbit(n int) *int { return &n }

func TestFindGRDHPartner(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ri := types.RawInput{ID: "a", Tile: "31TCJ", MeasurementDay: 20260301, RelativeOrbit: orbit(44), IsPartial: true, MeasurementStart: base}

	t.Run("adjacent partner matches", func(t *testing.T) {
		candidates := []types.RawInput{
			{ID: "b", Tile: "31TCJ", MeasurementDay: 20260301, RelativeOrbit: orbit(44), IsPartial: true, MeasurementStart: base.Add(time.Second)},
		}
		partner, found := findGRDHPartner(candidates, ri)
		if !found || partner.ID != "b" {
			t.Fatalf("expected partner b, got %+v found=%v", partner, found)
		}
	})

	t.Run("different orbit does not match", func(t *testing.T) {
		candidates := []types.RawInput{
			{ID: "b", Tile: "31TCJ", MeasurementDay: 20260301, RelativeOrbit: orbit(45), IsPartial: true, MeasurementStart: base},
		}
		if _, found := findGRDHPartner(candidates, ri); found {
			t.Fatalf("expected no partner across differing orbits")
		}
	})

	t.Run("gap beyond tolerance does not match", func(t *testing.T) {
		candidates := []types.RawInput{
			{ID: "b", Tile: "31TCJ", MeasurementDay: 20260301, RelativeOrbit: orbit(44), IsPartial: true, MeasurementStart: base.Add(time.Hour)},
		}
		if _, found := findGRDHPartner(candidates, ri); found {
			t.Fatalf("expected no partner beyond adjacency tolerance")
		}
	})

	t.Run("non-partial candidate is ignored", func(t *testing.T) {
		candidates := []types.RawInput{
			{ID: "b", Tile: "31TCJ", MeasurementDay: 20260301, RelativeOrbit: orbit(44), IsPartial: false, MeasurementStart: base},
		}
		if _, found := findGRDHPartner(candidates, ri); found {
			t.Fatalf("expected non-partial candidates to be skipped")
		}
	})
}

func TestMeasurementDayToTime(t *testing.T) {
	got := measurementDayToTime(20260301)
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("measurementDayToTime(20260301) = %v, want %v", got, want)
	}
}

func TestDayNumber(t *testing.T) {
	got := dayNumber(time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC))
	if got != 20261231 {
		t.Fatalf("dayNumber = %d, want 20261231", got)
	}
}

func TestIsSameDay(t *testing.T) {
	if !isSameDay(20260301, time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)) {
		t.Fatal("expected same day to match")
	}
	if isSameDay(20260301, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected different day to not match")
	}
}

func TestOrbitValid(t *testing.T) {
	tr := &Triggerer{ValidOrbits: map[string]map[int]bool{
		"31TCJ": {44: true, 45: true},
	}}
	if !tr.orbitValid("31TCJ", 44) {
		t.Fatal("expected orbit 44 on 31TCJ to be valid")
	}
	if tr.orbitValid("31TCJ", 99) {
		t.Fatal("expected orbit 99 on 31TCJ to be invalid")
	}
	if tr.orbitValid("99XYZ", 44) {
		t.Fatal("expected an unconfigured tile to have no valid orbits")
	}
}

func TestWithinPublicationAge(t *testing.T) {
	ri := types.RawInput{PublishingDate: time.Now().Add(-2 * 24 * time.Hour)}
	if !withinPublicationAge(ri, 5*24*time.Hour) {
		t.Fatal("expected 2 days old to be within a 5-day window")
	}
	if withinPublicationAge(ri, 24*time.Hour) {
		t.Fatal("expected 2 days old to be outside a 1-day window")
	}
}
