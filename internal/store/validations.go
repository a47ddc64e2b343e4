package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/types"
)

// CommitFiring persists one rule firing as a TriggerValidation plus one
// Raw2Valid edge per input, inside a single transaction (spec.md §4.E,
// "exactly-once rule firing"). The unique constraint on
// (triggering_condition_name, ...) is the final arbiter under
// concurrent notifications from two Triggerer instances; a unique
// violation here is a Conflict, not an error, and CommitFiring reports
// it via the created return value rather than propagating it.
func (p *Pool) CommitFiring(ctx context.Context, f types.Firing) (validationID int64, created bool, err error) {
	txErr := p.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO hrwsi.trigger_validation
				(triggering_condition_name, validation_date, is_nrt, artificial_measurement_day)
			VALUES ($1, NOW(), $2, $3)
			RETURNING id`, f.TriggeringConditionName, f.IsNRT, f.ArtificialMeasurementDay)
		if scanErr := row.Scan(&validationID); scanErr != nil {
			if errs.IsUniqueViolation(scanErr) {
				return errs.NewConflict("trigger validation already exists for " + f.TriggeringConditionName)
			}
			return errs.WrapTransient(scanErr, "could not insert trigger validation")
		}

		for _, input := range f.Inputs {
			if _, execErr := tx.Exec(ctx,
				`INSERT INTO hrwsi.raw2valid (trigger_validation_id, raw_input_id) VALUES ($1, $2)`,
				validationID, input.ID); execErr != nil {
				if errs.IsUniqueViolation(execErr) {
					continue
				}
				return errs.WrapTransient(execErr, "could not insert raw2valid edge")
			}
		}

		payload, marshalErr := json.Marshal(f)
		if marshalErr != nil {
			return errors.Wrap(marshalErr, "could not marshal firing notification payload")
		}
		if notifyErr := NotifyPayload(ctx, tx, "raw2valid_insertion", string(payload)); notifyErr != nil {
			return errs.WrapTransient(notifyErr, "could not notify raw2valid_insertion")
		}
		return nil
	})

	if txErr != nil {
		if errs.IsConflict(txErr) {
			return 0, false, nil
		}
		return 0, false, txErr
	}
	return validationID, true, nil
}

// ValidationExistsForInputUnderRule implements
// IS_ONE_TRIGGER_VALIDATION_EXISTS_FOR_AN_INPUT, the probe that backs
// "exactly-once rule firing per (input, rule)".
func (p *Pool) ValidationExistsForInputUnderRule(ctx context.Context, q types.Querier, inputID, ruleName string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT tv.id FROM hrwsi.trigger_validation tv
			INNER JOIN hrwsi.raw2valid r2v ON tv.id = r2v.trigger_validation_id
			WHERE r2v.raw_input_id = $1 AND tv.triggering_condition_name = $2
		)`, inputID, ruleName).Scan(&exists)
	if err != nil {
		return false, errs.WrapTransient(err, "could not probe trigger validation existence")
	}
	return exists, nil
}

// TaskExistsForRuleTileDayToday implements
// IS_ONE_PROCESSING_TASK_EXISTS_FOR_THIS_TRIGGERING_CONDITION_TODAY_ON_SAME_TILE_AND_MEASUREMENT_DAY,
// a same-day dedup check for a tile already handled today. No rule in
// internal/triggerer calls it.
func (p *Pool) TaskExistsForRuleTileDayToday(ctx context.Context, q types.Querier, ruleName, tile string, measurementDay int) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT pt.id FROM hrwsi.processing_tasks pt
			INNER JOIN hrwsi.trigger_validation tv ON tv.id = pt.trigger_validation_fk_id
			INNER JOIN hrwsi.raw2valid r2v ON tv.id = r2v.trigger_validation_id
			INNER JOIN hrwsi.raw_inputs ri ON r2v.raw_input_id = ri.id
			WHERE tv.triggering_condition_name = $1 AND pt.creation_date >= date_trunc('day', NOW())
			AND ri.tile = $2 AND ri.measurement_day = $3
		)`, ruleName, tile, measurementDay).Scan(&exists)
	if err != nil {
		return false, errs.WrapTransient(err, "could not probe same-day task existence")
	}
	return exists, nil
}

// OpenCCTasksBelowDay implements
// COUNT_UNFINISHED_CC_PT_ON_TILE_AND_DATE_INTERVAL literally: a tile
// is blocked only by an unfinished CC_TC task that was actually
// dispatched and has recorded at least one exit code (MAX(exit_code)
// IS NOT NULL), via the processingtask2nomad/nomad_job_dispatch/
// processing_status_workflow join chain the original uses — a task
// that was never dispatched, or dispatched but never reported an exit
// code, does not block serialization.
func (p *Pool) OpenCCTasksBelowDay(ctx context.Context, q types.Querier, tile string, newDay int) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM (
				SELECT ri.tile, MAX(psw.exit_code) AS max_code
				FROM hrwsi.processing_tasks pt
				INNER JOIN hrwsi.trigger_validation tv ON tv.id = pt.trigger_validation_fk_id
				INNER JOIN hrwsi.raw2valid r2v ON r2v.trigger_validation_id = tv.id
				INNER JOIN hrwsi.raw_inputs ri ON ri.id = r2v.raw_input_id
				INNER JOIN hrwsi.processingtask2nomad p2n ON p2n.processing_task_id = pt.id
				INNER JOIN hrwsi.nomad_job_dispatch njd ON njd.id = p2n.nomad_job_dispatch_id
				INNER JOIN hrwsi.processing_status_workflow psw ON psw.dispatch_id = njd.id
				WHERE tv.triggering_condition_name = 'CC_TC' AND ri.tile = $1
				AND ri.measurement_day < $2 AND pt.has_ended = false
				GROUP BY ri.tile
			) blocked_tiles
			WHERE blocked_tiles.max_code IS NOT NULL
		)`, tile, newDay).Scan(&exists)
	if err != nil {
		return false, errs.WrapTransient(err, "could not probe open CC tasks")
	}
	return exists, nil
}

// GFSCValidationInputsDiffer reports whether the input set gathered for
// a candidate GFSC firing on (tile, artificialMeasurementDay) differs
// from the union of the inputs of every prior GFSC_TC validation for
// the same pair, which is the condition spec.md §4.E requires before
// firing again.
func (p *Pool) GFSCValidationInputsDiffer(ctx context.Context, q types.Querier, tile string, artificialMeasurementDay int, candidateInputIDs []string) (bool, error) {
	rows, err := q.Query(ctx, `
		SELECT r2v.raw_input_id FROM hrwsi.trigger_validation tv
		INNER JOIN hrwsi.raw2valid r2v ON r2v.trigger_validation_id = tv.id
		WHERE tv.triggering_condition_name = 'GFSC_TC' AND tv.artificial_measurement_day = $1
		AND EXISTS (
			SELECT 1 FROM hrwsi.raw2valid r2v2
			INNER JOIN hrwsi.raw_inputs ri ON ri.id = r2v2.raw_input_id
			WHERE r2v2.trigger_validation_id = tv.id AND ri.tile = $2
		)
		ORDER BY tv.validation_date DESC`, artificialMeasurementDay, tile)
	if err != nil {
		return true, errs.WrapTransient(err, "could not fetch prior GFSC validation inputs")
	}
	defer rows.Close()

	prior := map[string]bool{}
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return true, errors.Wrap(scanErr, "could not scan prior GFSC input id")
		}
		prior[id] = true
	}
	if err := rows.Err(); err != nil {
		return true, err
	}
	if len(prior) == 0 {
		return true, nil
	}
	if len(prior) != len(candidateInputIDs) {
		return true, nil
	}
	for _, id := range candidateInputIDs {
		if !prior[id] {
			return true, nil
		}
	}
	return false, nil
}
