package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/types"
)

// rawInputColumns is the column list shared by every raw_inputs SELECT
// in this file, kept in one place so a scan helper and a query stay in
// sync.
const rawInputColumns = `id, product_type_code, start_date, publishing_date, tile,
	measurement_day, relative_orbit_number, input_path, is_partial, harvesting_date`

func scanRawInput(row pgx.Row) (types.RawInput, error) {
	var ri types.RawInput
	err := row.Scan(
		&ri.ID, &ri.ProductType, &ri.MeasurementStart, &ri.PublishingDate, &ri.Tile,
		&ri.MeasurementDay, &ri.RelativeOrbit, &ri.InputPath, &ri.IsPartial, &ri.HarvestingTimestamp,
	)
	return ri, err
}

// InsertRawInput idempotently records one catalog item, per spec.md
// §4.D step 5 ("INSERT ... ON CONFLICT DO NOTHING"). It notifies
// input_insertion exactly when a new row was created. The harvesting
// timestamp is assigned by the database (NOW()), matching the
// original INSERT_CANDIDATE_REQUEST statement.
func (p *Pool) InsertRawInput(ctx context.Context, q types.Querier, ri types.RawInput) (created bool, err error) {
	row := q.QueryRow(ctx, `
		INSERT INTO hrwsi.raw_inputs
			(id, product_type_code, start_date, publishing_date, tile, measurement_day,
			 relative_orbit_number, input_path, is_partial, harvesting_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO NOTHING
		RETURNING harvesting_date`,
		ri.ID, ri.ProductType, ri.MeasurementStart, ri.PublishingDate, ri.Tile, ri.MeasurementDay,
		ri.RelativeOrbit, ri.InputPath, ri.IsPartial)

	var harvestedAt time.Time
	if scanErr := row.Scan(&harvestedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return false, nil
		}
		return false, errs.WrapTransient(scanErr, "could not insert raw input")
	}
	ri.HarvestingTimestamp = harvestedAt

	payload, marshalErr := json.Marshal(ri)
	if marshalErr != nil {
		return true, errors.Wrap(marshalErr, "could not marshal raw input notification payload")
	}
	if err := NotifyPayload(ctx, q, "input_insertion", string(payload)); err != nil {
		return true, errs.WrapTransient(err, "could not notify input_insertion")
	}
	return true, nil
}

// RawInputAlreadyHarvested implements the existence check of spec.md
// §4.D step 4 for product types without a timeliness dimension: the
// key is input_path alone, scoped to measurement days at or after
// windowMin to keep the scan bounded.
func (p *Pool) RawInputAlreadyHarvested(ctx context.Context, q types.Querier, productType string, windowMin int, inputPath string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM hrwsi.raw_inputs
			WHERE product_type_code = $1 AND measurement_day >= $2 AND input_path = $3
		)`, productType, windowMin, inputPath).Scan(&exists)
	if err != nil {
		return false, errs.WrapTransient(err, "could not check raw input existence")
	}
	return exists, nil
}

// GRDAlreadyHarvested implements the timeliness-aware existence check
// for GRDH: the key is (tile, start_date), per
// GRD_CANDIDATE_ALREADY_IN_DATABASE_REQUEST in the original harvester.
func (p *Pool) GRDAlreadyHarvested(ctx context.Context, q types.Querier, productType string, windowMin int, tile string, start time.Time) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM hrwsi.raw_inputs
			WHERE product_type_code = $1 AND measurement_day >= $2 AND tile = $3 AND start_date = $4
		)`, productType, windowMin, tile, start).Scan(&exists)
	if err != nil {
		return false, errs.WrapTransient(err, "could not check GRD raw input existence")
	}
	return exists, nil
}

// LatestPublishingDate returns the most recent publishing_date on
// record for productType, used by the Harvester's NRT window lower
// bound (spec.md §4.D step 2). found is false when no row exists yet.
func (p *Pool) LatestPublishingDate(ctx context.Context, q types.Querier, productType string) (when time.Time, found bool, err error) {
	row := q.QueryRow(ctx, `
		SELECT MAX(publishing_date) FROM hrwsi.raw_inputs WHERE product_type_code = $1`, productType)
	var maybe *time.Time
	if scanErr := row.Scan(&maybe); scanErr != nil {
		return time.Time{}, false, errs.WrapTransient(scanErr, "could not read latest publishing date")
	}
	if maybe == nil {
		return time.Time{}, false, nil
	}
	return *maybe, true, nil
}

// UnprocessedRawInputsForRule returns every raw_inputs row of one of
// productTypes that has no trigger_validation under ruleName yet, per
// GET_UNPROCESSED_RAW_INPUTS_REQUEST. Ordered newest harvested first so
// a rule that can only make partial progress favors fresher inputs.
func (p *Pool) UnprocessedRawInputsForRule(ctx context.Context, q types.Querier, productTypes []string, ruleName string) ([]types.RawInput, error) {
	rows, err := q.Query(ctx, `
		SELECT `+rawInputColumns+`
		FROM hrwsi.raw_inputs ri
		WHERE ri.product_type_code = ANY($1)
		AND ri.id NOT IN (
			SELECT ri2.id FROM hrwsi.trigger_validation tv
			INNER JOIN hrwsi.raw2valid r2v ON r2v.trigger_validation_id = tv.id
			INNER JOIN hrwsi.raw_inputs ri2 ON ri2.id = r2v.raw_input_id
			WHERE tv.triggering_condition_name = $2
		)
		ORDER BY ri.harvesting_date DESC`, productTypes, ruleName)
	if err != nil {
		return nil, errs.WrapTransient(err, "could not list unprocessed raw inputs")
	}
	defer rows.Close()

	var out []types.RawInput
	for rows.Next() {
		ri, scanErr := scanRawInput(rows)
		if scanErr != nil {
			return nil, errors.Wrap(scanErr, "could not scan raw input")
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// SameTileAndDay finds every raw input of productType sharing (tile,
// measurementDay) harvested at or after minHarvestedAt, per
// IS_INPUT_SHARE_SAME_TILE_AND_MEASUREMENT_DAY. Used by the WDS/FSC
// partner lookups.
func (p *Pool) SameTileAndDay(ctx context.Context, q types.Querier, productType, tile string, measurementDay int, minHarvestedAt time.Time) ([]types.RawInput, error) {
	rows, err := q.Query(ctx, `
		SELECT `+rawInputColumns+`
		FROM hrwsi.raw_inputs ri
		WHERE ri.product_type_code = $1 AND ri.measurement_day = $2 AND ri.tile = $3
		AND ri.harvesting_date >= $4`, productType, measurementDay, tile, minHarvestedAt)
	if err != nil {
		return nil, errs.WrapTransient(err, "could not list same tile/day raw inputs")
	}
	defer rows.Close()

	var out []types.RawInput
	for rows.Next() {
		ri, scanErr := scanRawInput(rows)
		if scanErr != nil {
			return nil, errors.Wrap(scanErr, "could not scan raw input")
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// LatestL2AInWindow implements IS_L2A_EXISTS_REQUEST: the most recent
// S2_MAJA_L2A on tile within [minDay, maxDay], if any.
func (p *Pool) LatestL2AInWindow(ctx context.Context, q types.Querier, tile string, minDay, maxDay int) (types.RawInput, bool, error) {
	row := q.QueryRow(ctx, `
		SELECT `+rawInputColumns+`
		FROM hrwsi.raw_inputs
		WHERE product_type_code = 'S2_MAJA_L2A' AND tile = $1
		AND measurement_day BETWEEN $2 AND $3
		ORDER BY measurement_day DESC LIMIT 1`, tile, minDay, maxDay)

	ri, err := scanRawInput(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.RawInput{}, false, nil
		}
		return types.RawInput{}, false, errs.WrapTransient(err, "could not look up latest L2A")
	}
	return ri, true, nil
}
