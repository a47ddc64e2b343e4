// Package triggerer implements the Triggerer pipeline stage (spec.md
// §4.E), the largest and hardest component: it evaluates one rule per
// product family over the current store snapshot and commits
// TriggerValidation + Raw2Valid rows for every firing. Rule functions
// read the store, build one types.Firing at a time and hand each to
// Triggerer.commit, which persists that firing in its own transaction
// before the rule goes on; they return only an error.
package triggerer

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/store"
	"github.com/magellium/hrwsi/internal/types"
	"github.com/magellium/hrwsi/internal/util/stopper"
)

// Triggerer owns the store dependency, the periodic-rule intervals and
// the static valid-orbit table the rule functions consult. Nothing in
// it is reloaded from SystemParams; the age thresholds are the
// package constants defaultNPub and defaultNMeas.
type Triggerer struct {
	Store *store.Pool

	GRDHEvery      time.Duration
	L1CEvery       time.Duration
	GFSCEvery      time.Duration
	WICS1S2Every   time.Duration

	// ValidOrbits maps tile -> the set of relative orbits S1_NRB_L2A
	// acquisitions on that tile are expected under. Static per-rule
	// configuration, seeded from the mission's acquisition plan.
	ValidOrbits map[string]map[int]bool
}

// Run evaluates the notification-driven rule on every input_insertion
// and starts the four periodic entry points (spec.md §4.E).
func (t *Triggerer) Run(ctx *stopper.Context) error {
	notifications, err := t.Store.Listen(ctx, "input_insertion")
	if err != nil {
		return errors.Wrap(err, "could not listen on input_insertion")
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "could not create triggerer scheduler")
	}
	t.schedulePeriodic(sched)
	sched.Start()

	ctx.Go(func() error {
		<-ctx.Stopping()
		return sched.Shutdown()
	})

	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if err := t.handleInputInsertion(ctx, n.Payload); err != nil {
				log.WithError(err).Warn("could not evaluate rule for inserted input")
			}
		case <-ctx.Stopping():
			return nil
		}
	}
}

func (t *Triggerer) schedulePeriodic(sched gocron.Scheduler) {
	register := func(name string, every time.Duration, fn func(context.Context) error) {
		if _, err := sched.NewJob(
			gocron.DurationJob(every),
			gocron.NewTask(func() {
				if err := fn(context.Background()); err != nil {
					log.WithError(err).WithField("rule", name).Warn("periodic rule cycle failed")
				}
			}),
			gocron.WithName(name),
		); err != nil {
			log.WithError(err).WithField("rule", name).Error("could not schedule periodic rule")
		}
	}

	register("grdh-pair", t.GRDHEvery, t.runGRDHPair)
	register("cc-initial", t.L1CEvery, t.runCCInitial)
	register("wics1s2-pair", t.WICS1S2Every, t.runWICS1S2Pair)
	register("gfsc-daily", t.GFSCEvery, t.runGFSCDaily)
}

// handleInputInsertion dispatches a freshly harvested RawInput to the
// rule(s) registered for its product type (spec.md §4.E, "Rules"
// table). Unknown product types are ignored: not every RawInput is
// subject to a notification-driven rule (GRDH and L1C are handled
// exclusively by their periodic entry points).
func (t *Triggerer) handleInputInsertion(ctx context.Context, payload string) error {
	ri, err := decodeRawInputPayload(payload)
	if err != nil {
		return errs.WrapDataShape(err, "could not decode input_insertion payload")
	}

	switch ri.ProductType {
	case "S2_MAJA_L2A":
		return t.evaluateL2A(ctx, ri)
	case "S1_NRB_L2A":
		return t.evaluateNRB(ctx, ri)
	case "S2_FSC_L2B":
		return t.evaluateFSCForWDS(ctx, ri)
	default:
		return nil
	}
}

// commit runs CommitFiring and logs the outcome; every rule funnels
// its result through here so the "exactly-once firing" logging is
// consistent across rules.
func (t *Triggerer) commit(ctx context.Context, f types.Firing) error {
	id, created, err := t.Store.CommitFiring(ctx, f)
	if err != nil {
		return err
	}
	if created {
		log.WithFields(log.Fields{"rule": f.TriggeringConditionName, "validation_id": id}).Info("trigger validation created")
	}
	return nil
}
