// Package orchestrator implements the Orchestrator pipeline stage
// (spec.md §4.F): it loops on raw2valid_insertion notifications and
// maps each TriggerValidation onto at most one ProcessingTask. On
// startup, and whenever a notification arrives, it re-scans the full
// set of validations lacking a task ("restart replay", grounded on the
// teacher's resolver.ScanForTargetSchemas: a notification is a wakeup
// hint, never the sole source of truth for unprocessed rows).
package orchestrator

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/magellium/hrwsi/internal/store"
	"github.com/magellium/hrwsi/internal/types"
	"github.com/magellium/hrwsi/internal/util/stopper"
)

// flavourByRule maps a triggering condition to the scheduler resource
// class its resulting task should run under. Static configuration: in
// the original system this lived in the processing_routine table
// joined on product_type_code; here it is a compile-time table mapped
// from the same join, since the routine catalog is out of this
// core's scope (spec.md §1).
var flavourByRule = map[string]types.Flavour{
	"Backscatter_10m_TC": types.FlavourHMALarge,
	"FSC_TC":             types.FlavourHMALarge,
	"WICS2_TC":           types.FlavourHMALarge,
	"SWS_TC":             types.FlavourHMALarge,
	"WICS1_TC":           types.FlavourHMALarge,
	"WDS_TC":             types.FlavourHMALarge,
	"CC_TC":              types.FlavourEO1Large,
	"WICS1S2_TC":         types.FlavourEO1Large,
	"GFSC_TC":            types.FlavourEO1Large,
}

// Orchestrator owns the store dependency used to scan and map
// validations onto tasks.
type Orchestrator struct {
	Store *store.Pool
}

// unprocessedValidationsQuery lists every TriggerValidation field the
// Orchestrator needs to decide a task's flavour and processing_date.
const unprocessedValidationsQuery = `
	SELECT tv.id, tv.triggering_condition_name, tv.is_nrt, tv.artificial_measurement_day
	FROM hrwsi.trigger_validation tv
	WHERE NOT EXISTS (SELECT 1 FROM hrwsi.processing_tasks pt WHERE pt.trigger_validation_fk_id = tv.id)`

type pendingValidation struct {
	id                       int64
	ruleName                 string
	isNRT                    bool
	artificialMeasurementDay *int
}

// Run listens on raw2valid_insertion and maps every unprocessed
// validation onto a task, replaying the full backlog on every wakeup
// (including the first, so a restart picks up whatever the process
// missed while it was down).
func (o *Orchestrator) Run(ctx *stopper.Context) error {
	notifications, err := o.Store.Listen(ctx, "raw2valid_insertion")
	if err != nil {
		return errors.Wrap(err, "could not listen on raw2valid_insertion")
	}

	if err := o.drain(ctx); err != nil {
		log.WithError(err).Warn("initial orchestrator drain failed")
	}

	for {
		select {
		case _, ok := <-notifications:
			if !ok {
				return nil
			}
			if err := o.drain(ctx); err != nil {
				log.WithError(err).Warn("orchestrator drain failed")
			}
		case <-ctx.Stopping():
			return nil
		}
	}
}

// drain maps every currently-unprocessed validation onto a task. It is
// safe to call repeatedly and concurrently: InsertProcessingTask's
// unique constraint on trigger_validation_fk_id makes the mapping
// idempotent under races between two Orchestrator replicas.
func (o *Orchestrator) drain(ctx context.Context) error {
	pending, err := o.listPending(ctx)
	if err != nil {
		return err
	}

	for _, v := range pending {
		if err := o.mapOne(ctx, v); err != nil {
			log.WithError(err).WithField("validation_id", v.id).Warn("could not map validation to a task")
		}
	}
	return nil
}

func (o *Orchestrator) listPending(ctx context.Context) ([]pendingValidation, error) {
	rows, err := o.Store.Query(ctx, unprocessedValidationsQuery)
	if err != nil {
		return nil, errors.Wrap(err, "could not list unprocessed validations")
	}
	defer rows.Close()

	var out []pendingValidation
	for rows.Next() {
		var v pendingValidation
		if scanErr := rows.Scan(&v.id, &v.ruleName, &v.isNRT, &v.artificialMeasurementDay); scanErr != nil {
			return nil, errors.Wrap(scanErr, "could not scan pending validation")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// mapOne implements spec.md §4.F: for GFSC, copy
// artificial_measurement_day into processing_date; for everything
// else processing_date stays nil.
func (o *Orchestrator) mapOne(ctx context.Context, v pendingValidation) error {
	var processingDate *int
	if v.ruleName == "GFSC_TC" {
		processingDate = v.artificialMeasurementDay
	}

	flavour, known := flavourByRule[v.ruleName]
	if !known {
		return errors.Errorf("no flavour mapping registered for rule %s", v.ruleName)
	}

	taskID, created, err := o.Store.InsertProcessingTask(ctx, v.id, processingDate, flavour)
	if err != nil {
		return err
	}
	if created {
		log.WithFields(log.Fields{"validation_id": v.id, "task_id": taskID, "rule": v.ruleName}).Info("processing task created")
	}
	return nil
}
