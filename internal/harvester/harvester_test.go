package harvester

import (
	"testing"
	"time"

	"github.com/magellium/hrwsi/internal/types"
)

func TestDeriveWindowsArchiveAdvancesByChunk(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * chunkSize)
	h := &Harvester{Mode: types.RunModeArchive, ArchiveStart: start, ArchiveEnd: end}

	windows, done := h.deriveWindows(types.SystemParams{ProductType: "S2_MAJA_L2A"})
	if done {
		t.Fatal("expected the first chunk of a 3-day archive window to not be the last")
	}
	if len(windows) != 1 {
		t.Fatalf("expected exactly one window, got %d", len(windows))
	}
	if !windows[0].start.Equal(start) || !windows[0].end.Equal(start.Add(chunkSize)) {
		t.Fatalf("unexpected window: %+v", windows[0])
	}
}

func TestDeriveWindowsArchiveUsesRuleBookmark(t *testing.T) {
	archiveStart := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	bookmark := archiveStart.Add(5 * chunkSize)
	archiveEnd := archiveStart.Add(30 * chunkSize)
	h := &Harvester{Mode: types.RunModeArchive, ArchiveStart: archiveStart, ArchiveEnd: archiveEnd}

	windows, _ := h.deriveWindows(types.SystemParams{ArchiveHarvestStartDate: &bookmark})
	if !windows[0].start.Equal(bookmark) {
		t.Fatalf("expected the rule's own bookmark to take precedence, got start=%v", windows[0].start)
	}
}

func TestDeriveWindowsArchiveDoneAtTail(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(chunkSize / 2)
	h := &Harvester{Mode: types.RunModeArchive, ArchiveStart: start, ArchiveEnd: end}

	windows, done := h.deriveWindows(types.SystemParams{})
	if !done {
		t.Fatal("expected a window shorter than one chunk to be marked done")
	}
	if !windows[0].end.Equal(end) {
		t.Fatalf("expected the window to be clipped to ArchiveEnd, got %v", windows[0].end)
	}
}

func TestDeriveWindowsArchiveExhausted(t *testing.T) {
	start := time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &Harvester{Mode: types.RunModeArchive, ArchiveStart: start, ArchiveEnd: end}

	windows, done := h.deriveWindows(types.SystemParams{})
	if !done || windows != nil {
		t.Fatalf("expected an exhausted archive window to return (nil, true), got (%v, %v)", windows, done)
	}
}

func TestAsInt(t *testing.T) {
	if got := asInt("20260301"); got != 20260301 {
		t.Fatalf("asInt(20260301) = %d, want 20260301", got)
	}
	if got := asInt(""); got != 0 {
		t.Fatalf("asInt(\"\") = %d, want 0", got)
	}
}
