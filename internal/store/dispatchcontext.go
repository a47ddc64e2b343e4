package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/magellium/hrwsi/internal/jobspec"
)

// TaskDispatchContext joins processing_tasks through trigger_validation,
// raw2valid, raw_inputs, triggering_condition, and processing_routine to
// build the rich per-task context the job-spec renderer needs — the
// Go-native counterpart of the original system's HCL_INFO_REQUEST.
func (p *Pool) TaskDispatchContext(ctx context.Context, taskID int64) (jobspec.TaskContext, error) {
	const q = `
SELECT DISTINCT ON (ri.id)
	ri.id, pr.flavour, pt.trigger_validation_fk_id, pt.id,
	pr.product_type_code, ri.tile, ri.measurement_day, ri.relative_orbit_number,
	pr.name, pr.ram, ri.input_path,
	pr.docker_image, pr.duration, pt.preceding_input_id, pt.intermediate_files_path,
	pt.processing_date
FROM processing_tasks pt
INNER JOIN trigger_validation tv ON tv.id = pt.trigger_validation_fk_id
INNER JOIN raw2valid rv ON rv.trigger_validation_id = tv.id
INNER JOIN raw_inputs ri ON ri.id = rv.raw_input_id
INNER JOIN triggering_condition tc ON tc.name = tv.triggering_condition_name
INNER JOIN processing_routine pr ON pr.name = tc.processing_routine_name
WHERE pt.id = $1`

	row := p.QueryRow(ctx, q, taskID)

	var tc jobspec.TaskContext
	err := row.Scan(
		&tc.RawInputID, &tc.Flavour, &tc.TriggerValidationID, &tc.ProcessingTaskID,
		&tc.ProductTypeCode, &tc.Tile, &tc.MeasurementDay, &tc.RelativeOrbit,
		&tc.RoutineName, &tc.RAM, &tc.InputPath,
		&tc.DockerImage, &tc.DurationMinutes, &tc.PrecedingInputID, &tc.IntermediatePaths,
		&tc.ProcessingDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobspec.TaskContext{}, errors.Errorf("no dispatch context found for processing task %d", taskID)
		}
		return jobspec.TaskContext{}, errors.Wrap(err, "could not fetch task dispatch context")
	}
	return tc, nil
}
