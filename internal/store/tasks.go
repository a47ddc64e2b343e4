package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/types"
)

// TaskExistsForValidation implements the Orchestrator's step 1
// ("NOT EXISTS (processing_tasks WHERE trigger_validation = v)").
func (p *Pool) TaskExistsForValidation(ctx context.Context, q types.Querier, validationID int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM hrwsi.processing_tasks WHERE trigger_validation_fk_id = $1)`,
		validationID).Scan(&exists)
	if err != nil {
		return false, errs.WrapTransient(err, "could not probe processing task existence")
	}
	return exists, nil
}

// taskNotificationPayload is the JSON shape published on
// processing_task_insertion; spec.md §6 requires flavour and id.
type taskNotificationPayload struct {
	ID      int64         `json:"id"`
	Flavour types.Flavour `json:"flavour"`
}

// InsertProcessingTask implements Orchestrator steps 2-3: exactly one
// row per validation, with processing_date populated only for GFSC
// validations (copied from artificial_measurement_day), and the
// unique-violation race on a concurrent insert caught and reported as
// "not created" rather than propagated.
func (p *Pool) InsertProcessingTask(ctx context.Context, validationID int64, processingDate *int, flavour types.Flavour) (taskID int64, created bool, err error) {
	row := p.QueryRow(ctx, `
		INSERT INTO hrwsi.processing_tasks (trigger_validation_fk_id, creation_date, has_ended, processing_date, flavour)
		VALUES ($1, NOW(), false, $2, $3)
		ON CONFLICT (trigger_validation_fk_id) DO NOTHING
		RETURNING id`, validationID, processingDate, flavour)

	if scanErr := row.Scan(&taskID); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errs.WrapTransient(scanErr, "could not insert processing task")
	}

	payload, marshalErr := json.Marshal(taskNotificationPayload{ID: taskID, Flavour: flavour})
	if marshalErr != nil {
		return taskID, true, errors.Wrap(marshalErr, "could not marshal processing task notification payload")
	}
	if notifyErr := NotifyPayload(ctx, p, "processing_task_insertion", string(payload)); notifyErr != nil {
		return taskID, true, errs.WrapTransient(notifyErr, "could not notify processing_task_insertion")
	}
	return taskID, true, nil
}

// RenotifyTask re-publishes processing_task_insertion for an existing
// task, used by the Launcher's undispatched and in-error re-drivers
// (spec.md §4.G) to push a task back into the dispatch queue without
// creating a new row.
func (p *Pool) RenotifyTask(ctx context.Context, taskID int64, flavour types.Flavour) error {
	payload, err := json.Marshal(taskNotificationPayload{ID: taskID, Flavour: flavour})
	if err != nil {
		return errors.Wrap(err, "could not marshal re-notify payload")
	}
	if err := NotifyPayload(ctx, p, "processing_task_insertion", string(payload)); err != nil {
		return errs.WrapTransient(err, "could not re-notify processing_task_insertion")
	}
	return nil
}

// taskColumns is the column list returned by every processing_tasks
// SELECT in this file.
const taskColumns = `id, trigger_validation_fk_id, creation_date, processing_date, has_ended, flavour`

func scanTask(row pgx.Row) (types.ProcessingTask, error) {
	var t types.ProcessingTask
	err := row.Scan(&t.ID, &t.TriggerValidationID, &t.CreationTimestamp, &t.ProcessingDate, &t.HasEnded, &t.Flavour)
	return t, err
}

// UndispatchedTasks finds every open task for flavour with at least one
// input whose measurement day is at or after minMeasurementDay
// (spec.md §4.G names 2025-01-15 as the fixed floor), with no PT2Nomad
// row yet.
func (p *Pool) UndispatchedTasks(ctx context.Context, flavour types.Flavour, minMeasurementDay int) ([]types.ProcessingTask, error) {
	rows, err := p.Query(ctx, `
		SELECT `+taskColumns+`
		FROM hrwsi.processing_tasks pt
		WHERE pt.flavour = $1
		AND EXISTS (
			SELECT 1 FROM hrwsi.raw2valid r2v
			INNER JOIN hrwsi.raw_inputs ri ON ri.id = r2v.raw_input_id
			WHERE r2v.trigger_validation_id = pt.trigger_validation_fk_id
			AND ri.measurement_day >= $2
		)
		AND pt.has_ended = false
		AND NOT EXISTS (SELECT 1 FROM hrwsi.processingtask2nomad p2n WHERE p2n.processing_task_id = pt.id)`,
		flavour, minMeasurementDay)
	if err != nil {
		return nil, errs.WrapTransient(err, "could not list undispatched tasks")
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

// InErrorTasks finds tasks for flavour whose latest status event is
// internal_error or external_error and that have not ended, candidates
// for the Launcher's in-error re-driver.
func (p *Pool) InErrorTasks(ctx context.Context, flavour types.Flavour) ([]types.ProcessingTask, error) {
	rows, err := p.Query(ctx, `
		SELECT `+taskColumns+`
		FROM hrwsi.processing_tasks pt
		INNER JOIN hrwsi.processingtask2nomad p2n ON p2n.processing_task_id = pt.id
		INNER JOIN LATERAL (
			SELECT psw.status FROM hrwsi.processing_status_workflow psw
			WHERE psw.dispatch_id = p2n.nomad_job_dispatch_id
			ORDER BY psw.event_time DESC LIMIT 1
		) latest ON true
		WHERE pt.flavour = $1 AND pt.has_ended = false
		AND p2n.nomad_job_dispatch_id = (
			SELECT p2n2.nomad_job_dispatch_id FROM hrwsi.processingtask2nomad p2n2
			INNER JOIN hrwsi.nomad_job_dispatch njd ON njd.id = p2n2.nomad_job_dispatch_id
			WHERE p2n2.processing_task_id = pt.id
			ORDER BY njd.dispatch_date DESC LIMIT 1
		)
		AND latest.status IN ('internal_error', 'external_error')`, flavour)
	if err != nil {
		return nil, errs.WrapTransient(err, "could not list in-error tasks")
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

// MarkTaskEnded sets has_ended = true, the terminal state after which
// no further NomadJobDispatch may be created (spec.md §5 invariant 4).
func (p *Pool) MarkTaskEnded(ctx context.Context, q types.Querier, taskID int64) error {
	_, err := q.Exec(ctx, `UPDATE hrwsi.processing_tasks SET has_ended = true WHERE id = $1`, taskID)
	if err != nil {
		return errs.WrapTransient(err, "could not mark task ended")
	}
	return nil
}
