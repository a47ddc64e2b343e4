package store

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/types"
)

// InsertDispatch records a scheduler submission and its PT2Nomad edge
// plus the initial status row mapped from the scheduler's own initial
// status, all in one transaction (spec.md §4.G step 2). A
// unique-violation on the dispatch UUID is a Conflict (the scheduler
// cannot plausibly reuse an identifier, but the check is kept for
// symmetry with every other insert in this package).
func (p *Pool) InsertDispatch(ctx context.Context, taskID int64, dispatch types.NomadJobDispatch, initial types.ProcessingStatus) error {
	return p.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO hrwsi.nomad_job_dispatch (id, dispatch_date, log_path)
			VALUES ($1, $2, $3)`, dispatch.UUID, dispatch.DispatchTimestamp, dispatch.LogPath); err != nil {
			if errs.IsUniqueViolation(err) {
				return errs.NewConflict("dispatch " + dispatch.UUID + " already recorded")
			}
			return errs.WrapTransient(err, "could not insert nomad job dispatch")
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO hrwsi.processingtask2nomad (processing_task_id, nomad_job_dispatch_id)
			VALUES ($1, $2)`, taskID, dispatch.UUID); err != nil {
			if errs.IsUniqueViolation(err) {
				return errs.NewConflict("PT2Nomad edge already recorded for task " + strconv.FormatInt(taskID, 10))
			}
			return errs.WrapTransient(err, "could not insert PT2Nomad edge")
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO hrwsi.processing_status_workflow (dispatch_id, status, event_time)
			VALUES ($1, $2, NOW())`, dispatch.UUID, initial); err != nil {
			return errs.WrapTransient(err, "could not insert initial status row")
		}
		return nil
	})
}

// RecordStatusEvent appends one status event for dispatchID, per the
// append-only ProcessingStatusWorkflow model: current status is always
// the latest row by event time.
func (p *Pool) RecordStatusEvent(ctx context.Context, dispatchID string, status types.ProcessingStatus, exitCode *int, message *string) error {
	_, err := p.Exec(ctx, `
		INSERT INTO hrwsi.processing_status_workflow (dispatch_id, status, event_time, exit_code, message)
		VALUES ($1, $2, NOW(), $3, $4)`, dispatchID, status, exitCode, message)
	if err != nil {
		return errs.WrapTransient(err, "could not record status event")
	}
	return nil
}

// LatestDispatch returns the authoritative (most recent) dispatch for
// a task, per spec.md §5 invariant: "a task may have several
// dispatches; only the latest in time is authoritative."
func (p *Pool) LatestDispatch(ctx context.Context, taskID int64) (types.NomadJobDispatch, bool, error) {
	row := p.QueryRow(ctx, `
		SELECT njd.id, njd.dispatch_date, njd.log_path
		FROM hrwsi.nomad_job_dispatch njd
		INNER JOIN hrwsi.processingtask2nomad p2n ON p2n.nomad_job_dispatch_id = njd.id
		WHERE p2n.processing_task_id = $1
		ORDER BY njd.dispatch_date DESC LIMIT 1`, taskID)

	var d types.NomadJobDispatch
	err := row.Scan(&d.UUID, &d.DispatchTimestamp, &d.LogPath)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NomadJobDispatch{}, false, nil
		}
		return types.NomadJobDispatch{}, false, errs.WrapTransient(err, "could not look up latest dispatch")
	}
	return d, true, nil
}

// LatestStatus returns the most recent status event for dispatchID.
func (p *Pool) LatestStatus(ctx context.Context, dispatchID string) (types.ProcessingStatus, time.Time, bool, error) {
	row := p.QueryRow(ctx, `
		SELECT status, event_time FROM hrwsi.processing_status_workflow
		WHERE dispatch_id = $1 ORDER BY event_time DESC LIMIT 1`, dispatchID)

	var status types.ProcessingStatus
	var at time.Time
	if err := row.Scan(&status, &at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, errs.WrapTransient(err, "could not look up latest status")
	}
	return status, at, true, nil
}

// NonTerminalTasksExistForDay implements
// NB_OF_NOT_SUCCESSFULLY_PROCESSED_TASK_FOR_A_DAY_AND_SPECIFICS_ROUTINES:
// true when any still-open (has_ended = false) task under one of
// ruleNames for measurementDay either has never been dispatched, or
// its latest status event has not reached a terminal state (Processed
// or Terminated). Used by the GFSC_TC daily walk to decide whether a
// day must be skipped.
func (p *Pool) NonTerminalTasksExistForDay(ctx context.Context, q types.Querier, ruleNames []string, measurementDay int) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM hrwsi.processing_tasks pt
			INNER JOIN hrwsi.trigger_validation tv ON tv.id = pt.trigger_validation_fk_id
			INNER JOIN hrwsi.raw2valid r2v ON r2v.trigger_validation_id = tv.id
			INNER JOIN hrwsi.raw_inputs ri ON ri.id = r2v.raw_input_id
			LEFT JOIN hrwsi.processingtask2nomad p2n ON p2n.processing_task_id = pt.id
			LEFT JOIN LATERAL (
				SELECT psw.status FROM hrwsi.processing_status_workflow psw
				WHERE psw.dispatch_id = p2n.nomad_job_dispatch_id
				ORDER BY psw.event_time DESC LIMIT 1
			) latest ON true
			WHERE tv.triggering_condition_name = ANY($1) AND ri.measurement_day = $2
			AND pt.has_ended = false
			AND (p2n.nomad_job_dispatch_id IS NULL OR (
				p2n.nomad_job_dispatch_id = (
					SELECT p2n2.nomad_job_dispatch_id FROM hrwsi.processingtask2nomad p2n2
					INNER JOIN hrwsi.nomad_job_dispatch njd ON njd.id = p2n2.nomad_job_dispatch_id
					WHERE p2n2.processing_task_id = pt.id
					ORDER BY njd.dispatch_date DESC LIMIT 1
				)
				AND latest.status NOT IN ($3, $4)))
		)`, ruleNames, measurementDay, types.StatusProcessed, types.StatusTerminated).Scan(&exists)
	if err != nil {
		return false, errs.WrapTransient(err, "could not probe non-terminal tasks for day")
	}
	return exists, nil
}

// LiveTasksForFlavour returns every task for flavour that has not
// ended (has_ended = false) and has at least one dispatch, the
// candidate set the lost-job sweeper (spec.md §4.G) walks each cycle.
// Dispatch statuses are not consulted here.
func (p *Pool) LiveTasksForFlavour(ctx context.Context, flavour types.Flavour) ([]types.ProcessingTask, error) {
	rows, err := p.Query(ctx, `
		SELECT `+taskColumns+`
		FROM hrwsi.processing_tasks pt
		WHERE pt.flavour = $1 AND pt.has_ended = false
		AND EXISTS (SELECT 1 FROM hrwsi.processingtask2nomad p2n WHERE p2n.processing_task_id = pt.id)`,
		flavour)
	if err != nil {
		return nil, errs.WrapTransient(err, "could not list live tasks")
	}
	defer rows.Close()

	var out []types.ProcessingTask
	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, errors.Wrap(scanErr, "could not scan processing task")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
