package idparse

import "testing"

func TestParseS2Maja(t *testing.T) {
	got, err := Parse("S2_MAJA_L2A", "SENTINEL2A_20250115-103045-123_L2A_T31TCH_C_V100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Tile != "31TCH" {
		t.Fatalf("tile = %q, want 31TCH", got.Tile)
	}
	if got.MeasurementDay != 20250115 {
		t.Fatalf("measurement_day = %d, want 20250115", got.MeasurementDay)
	}
	if got.RelativeOrbit != nil {
		t.Fatalf("expected no relative orbit, got %v", *got.RelativeOrbit)
	}
}

func TestParseS1NRB(t *testing.T) {
	got, err := Parse("S1_NRB_L2A", "SIG0_20250115T103045_S1A_IW_124_T31TCH_10m_ENVEO")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Tile != "31TCH" {
		t.Fatalf("tile = %q, want 31TCH", got.Tile)
	}
	if got.MeasurementDay != 20250115 {
		t.Fatalf("measurement_day = %d, want 20250115", got.MeasurementDay)
	}
	if got.RelativeOrbit == nil || *got.RelativeOrbit != 124 {
		t.Fatalf("relative_orbit = %v, want 124", got.RelativeOrbit)
	}
}

func TestParseLayer2B(t *testing.T) {
	cases := []struct{ productType, short string }{
		{"S2_WICS2_L2B", "WICS2"}, {"S2_FSC_L2B", "FSC"}, {"S1_WDS_L2B", "WDS"},
		{"S1_SWS_L2B", "SWS"}, {"S1_WICS1_L2B", "WICS1"}, {"S2_CC_L2B", "CC"},
	}
	for _, tc := range cases {
		code := tc.productType
		id := "CLMS_WSI_" + tc.short + "_020m_T31TCH_20250115T103045_S2_V100_LAYER"
		got, err := Parse(code, id)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", code, err)
		}
		if got.Tile != "31TCH" {
			t.Fatalf("%s: tile = %q, want 31TCH", code, got.Tile)
		}
		if got.MeasurementDay != 20250115 {
			t.Fatalf("%s: measurement_day = %d, want 20250115", code, got.MeasurementDay)
		}
	}
}

func TestParseCombWICS1S2(t *testing.T) {
	got, err := Parse("COMB_WICS1S2", "CLMS_WSI_WICS1S2_020m_T31TCH_20250115T103045_S1S2_V100_LAYER_EXTA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Tile != "31TCH" || got.MeasurementDay != 20250115 {
		t.Fatalf("got %+v", got)
	}
}

func TestParseGFSC(t *testing.T) {
	got, err := Parse("GFSC_L2C", "CLMS_WSI_GFSC_060m_T31TCH_20250115P3D_COMB_V100_LAYER")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Tile != "31TCH" {
		t.Fatalf("tile = %q, want 31TCH", got.Tile)
	}
	if got.MeasurementDay != 20250115 {
		t.Fatalf("measurement_day = %d, want 20250115", got.MeasurementDay)
	}
}

func TestParseUnknownProductType(t *testing.T) {
	if _, err := Parse("UNKNOWN_CODE", "anything"); err == nil {
		t.Fatal("expected an error for an unregistered product type")
	}
}

func TestParseMalformedIdentifier(t *testing.T) {
	if _, err := Parse("S2_MAJA_L2A", "too_short"); err == nil {
		t.Fatal("expected an error for a truncated identifier")
	}
	if _, err := Parse("S2_MAJA_L2A", "SENTINEL2A_BADDATE-103045-123_L2A_T31TCH_C_V100"); err == nil {
		t.Fatal("expected an error for a non-numeric measurement day")
	}
	if _, err := Parse("S2_MAJA_L2A", "SENTINEL2A_20250115-103045-123_L2A_31TCH_C_V100"); err == nil {
		t.Fatal("expected an error for a tile field missing its T prefix")
	}
}
