// Package idparse turns the bit-exact, underscore-delimited product
// identifiers produced upstream into the tile/measurement-day/
// relative-orbit attributes a RawInput row needs (spec.md §6,
// "Product identifier parsers"). Every parser here is pure and
// allocation-light: given a product-type code and the identifier
// string, return the parsed fields or a DataShape error (internal/errs)
// that the caller (the Harvester's product_insertion handler) logs and
// skips rather than treating as fatal.
package idparse

import (
	"strconv"
	"strings"

	"github.com/magellium/hrwsi/internal/errs"
)

// Parsed holds the fields an identifier parser extracts. RelativeOrbit
// is nil when the product type carries no orbit (everything but
// S1_NRB_L2A).
type Parsed struct {
	Tile           string
	MeasurementDay int
	RelativeOrbit  *int
}

// layer2B is the set of product types sharing the
// CLMS_WSI_{CODE}_{RES}_T{TILE}_YYYYMMDDThhmmss_{PLATFORM}_Vxxx_{LAYER}
// skeleton.
var layer2B = map[string]bool{
	"S2_WICS2_L2B": true,
	"S2_FSC_L2B":   true,
	"S1_WDS_L2B":   true,
	"S1_SWS_L2B":   true,
	"S1_WICS1_L2B": true,
	"S2_CC_L2B":    true,
}

// Parse dispatches to the parser registered for productTypeCode. It
// returns a DataShape error for an unrecognized product type or an
// identifier that doesn't match the expected number of underscore-
// delimited fields.
func Parse(productTypeCode, identifier string) (Parsed, error) {
	switch {
	case productTypeCode == "S2_MAJA_L2A":
		return parseS2Maja(identifier)
	case productTypeCode == "S1_NRB_L2A":
		return parseS1NRB(identifier)
	case layer2B[productTypeCode]:
		return parseLayer2B(identifier, 9)
	case productTypeCode == "COMB_WICS1S2":
		return parseLayer2B(identifier, 10)
	case productTypeCode == "GFSC_L2C":
		return parseGFSC(identifier)
	default:
		return Parsed{}, errs.NewDataShape("no identifier parser registered for product type " + productTypeCode)
	}
}

// parseS2Maja handles
// SENTINEL2{A|B|C}_YYYYMMDD-HHMMSS-mmm_L2A_T{TILE}_C_V...
// tile = field 3 with its leading T dropped; measurement_day is the
// date portion of field 1, before the first dash.
func parseS2Maja(identifier string) (Parsed, error) {
	fields := strings.Split(identifier, "_")
	if len(fields) < 6 {
		return Parsed{}, errs.NewDataShape("S2_MAJA_L2A identifier has too few fields: " + identifier)
	}
	day, err := measurementDayFromDash(fields[1])
	if err != nil {
		return Parsed{}, err
	}
	tile, err := dropTilePrefix(fields[3])
	if err != nil {
		return Parsed{}, err
	}
	return Parsed{Tile: tile, MeasurementDay: day}, nil
}

// parseS1NRB handles
// SIG0_YYYYMMDDThhmmss_..._{RELORBIT}_T{TILE}_10m_..._ENVEO
// tile = field 5 with its leading T dropped; relative_orbit = field 4,
// parsed as an integer; measurement_day is the date portion of field
// 1, before the 'T' time separator.
func parseS1NRB(identifier string) (Parsed, error) {
	fields := strings.Split(identifier, "_")
	if len(fields) < 6 {
		return Parsed{}, errs.NewDataShape("S1_NRB_L2A identifier has too few fields: " + identifier)
	}
	day, err := measurementDayFromT(fields[1])
	if err != nil {
		return Parsed{}, err
	}
	orbit, err := strconv.Atoi(fields[4])
	if err != nil {
		return Parsed{}, errs.WrapDataShape(err, "S1_NRB_L2A relative orbit is not an integer: "+identifier)
	}
	tile, err := dropTilePrefix(fields[5])
	if err != nil {
		return Parsed{}, err
	}
	return Parsed{Tile: tile, MeasurementDay: day, RelativeOrbit: &orbit}, nil
}

// parseLayer2B handles the shared Layer-2B skeleton
// CLMS_WSI_{CODE}_{RES}_T{TILE}_YYYYMMDDThhmmss_{PLATFORM}_Vxxx_{LAYER},
// and its COMB_WICS1S2 variant, which appends one trailing field.
// wantFields is the exact field count the caller expects, so a
// truncated or over-long identifier is rejected rather than silently
// mis-parsed.
func parseLayer2B(identifier string, wantFields int) (Parsed, error) {
	fields := strings.Split(identifier, "_")
	if len(fields) != wantFields {
		return Parsed{}, errs.NewDataShape("Layer-2B identifier has an unexpected field count: " + identifier)
	}
	day, err := measurementDayFromT(fields[5])
	if err != nil {
		return Parsed{}, err
	}
	tile, err := dropTilePrefix(fields[4])
	if err != nil {
		return Parsed{}, err
	}
	return Parsed{Tile: tile, MeasurementDay: day}, nil
}

// parseGFSC handles
// CLMS_WSI_GFSC_060m_T{TILE}_YYYYMMDDPxD_COMB_Vxxx_{LAYER}.
// measurement_day is the 8-digit date prefix of field 5, before the
// 'P' clean-day-count suffix.
func parseGFSC(identifier string) (Parsed, error) {
	fields := strings.Split(identifier, "_")
	if len(fields) != 9 {
		return Parsed{}, errs.NewDataShape("GFSC_L2C identifier has an unexpected field count: " + identifier)
	}
	if len(fields[5]) < 8 {
		return Parsed{}, errs.NewDataShape("GFSC_L2C measurement day field is too short: " + identifier)
	}
	day, err := strconv.Atoi(fields[5][:8])
	if err != nil {
		return Parsed{}, errs.WrapDataShape(err, "GFSC_L2C measurement day is not numeric: "+identifier)
	}
	tile, err := dropTilePrefix(fields[4])
	if err != nil {
		return Parsed{}, err
	}
	return Parsed{Tile: tile, MeasurementDay: day}, nil
}

func dropTilePrefix(field string) (string, error) {
	if !strings.HasPrefix(field, "T") || len(field) < 2 {
		return "", errs.NewDataShape("expected a T-prefixed tile field, got " + field)
	}
	return field[1:], nil
}

// measurementDayFromDash extracts the 8-digit date before the first
// dash in a YYYYMMDD-HHMMSS-mmm field.
func measurementDayFromDash(field string) (int, error) {
	datePart, _, found := strings.Cut(field, "-")
	if !found || len(datePart) != 8 {
		return 0, errs.NewDataShape("expected a YYYYMMDD-... date field, got " + field)
	}
	day, err := strconv.Atoi(datePart)
	if err != nil {
		return 0, errs.WrapDataShape(err, "measurement day is not numeric: "+field)
	}
	return day, nil
}

// measurementDayFromT extracts the 8-digit date before the 'T' time
// separator in a YYYYMMDDThhmmss field.
func measurementDayFromT(field string) (int, error) {
	datePart, _, found := strings.Cut(field, "T")
	if !found || len(datePart) != 8 {
		return 0, errs.NewDataShape("expected a YYYYMMDDThhmmss date field, got " + field)
	}
	day, err := strconv.Atoi(datePart)
	if err != nil {
		return 0, errs.WrapDataShape(err, "measurement day is not numeric: "+field)
	}
	return day, nil
}
