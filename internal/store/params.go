package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/types"
)

// SystemParams returns the per-rule configuration the Harvester and
// Triggerer consult every cycle, per GET_WEKEO_API_MANAGER_PARAMS.
func (p *Pool) SystemParams(ctx context.Context) ([]types.SystemParams, error) {
	rows, err := p.Query(ctx, `
		SELECT triggering_condition_name, collection, max_day_since_publication_date,
			max_day_since_measurement_date, tile_list_file, geometry_file, polarisation, timeliness,
			nrt_harvest_start_date, archive_harvest_start_date, archive_harvest_end_date
		FROM systemparams.wekeo_api_manager`)
	if err != nil {
		return nil, errs.WrapTransient(err, "could not load system params")
	}
	defer rows.Close()

	var out []types.SystemParams
	for rows.Next() {
		var sp types.SystemParams
		var tileListFile string
		if scanErr := rows.Scan(
			&sp.ProductType, &sp.Collection, &sp.MaxDaySincePublicationDate, &sp.MaxDaySinceMeasurementDate,
			&tileListFile, &sp.Geometry, &sp.Polarisation, &sp.Timeliness,
			&sp.NRTHarvestStartDate, &sp.ArchiveHarvestStartDate, &sp.ArchiveHarvestEndDate,
		); scanErr != nil {
			return nil, errors.Wrap(scanErr, "could not scan system params row")
		}
		// TileList itself lives in a YAML file named by tileListFile;
		// the store layer hands back only the file name as the single
		// entry, and no caller reads that file.
		sp.TileList = []string{tileListFile}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// SetHarvestStartDate implements SET_DATA_HARVESTING_START_DATE,
// advancing an archive bookmark after a chunk completes.
func (p *Pool) SetHarvestStartDate(ctx context.Context, ruleName string, start time.Time) error {
	_, err := p.Exec(ctx, `
		UPDATE systemparams.wekeo_api_manager SET archive_harvest_start_date = $1
		WHERE triggering_condition_name = $2`, start, ruleName)
	if err != nil {
		return errs.WrapTransient(err, "could not advance harvest start date")
	}
	return nil
}

// ClearHarvestBookmarks implements UNSET_HARVEST_START_DATES, called
// once an archive run has exhausted every bookmark (spec.md §4.D step
// 6), after the T_post cool-down sleep.
func (p *Pool) ClearHarvestBookmarks(ctx context.Context, ruleName string) error {
	_, err := p.Exec(ctx, `
		UPDATE systemparams.wekeo_api_manager SET archive_harvest_start_date = NULL, archive_harvest_end_date = NULL
		WHERE triggering_condition_name = $1`, ruleName)
	if err != nil {
		return errs.WrapTransient(err, "could not clear harvest bookmarks")
	}
	return nil
}

// LastProcessingDate implements GET_LAST_PROCESSING_DATE, the GFSC
// "last processing date" bookmark (spec.md §4.E).
func (p *Pool) LastProcessingDate(ctx context.Context, productType string) (int, bool, error) {
	row := p.QueryRow(ctx, `
		SELECT last_processing_date FROM systemparams.triggerer_config WHERE product_type = $1`, productType)
	var day *int
	if err := row.Scan(&day); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errs.WrapTransient(err, "could not read last processing date")
	}
	if day == nil {
		return 0, false, nil
	}
	return *day, true, nil
}

// AdvanceLastProcessingDate moves the GFSC bookmark forward by one
// day, only ever called once every tile for that day has completed
// (spec.md §4.E, "Advance the bookmark by 1 day only when all tiles
// for D completed").
func (p *Pool) AdvanceLastProcessingDate(ctx context.Context, productType string, day int) error {
	_, err := p.Exec(ctx, `
		UPDATE systemparams.triggerer_config SET last_processing_date = $1 WHERE product_type = $2`,
		day, productType)
	if err != nil {
		return errs.WrapTransient(err, "could not advance last processing date")
	}
	return nil
}
