// Package harvester implements the Harvester pipeline stage (spec.md
// §4.D): a periodic loop, driven by github.com/go-co-op/gocron/v2
// (grounded on kluzzebass-gastrolog's cronRotationManager, which drives
// its own maintenance loops the same way), that walks a query window
// per product-type rule, asks the catalog client for candidates, and
// idempotently records survivors as RawInput rows. It also listens on
// product_insertion and parses inserted products into RawInput rows
// via internal/idparse.
package harvester

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/magellium/hrwsi/internal/catalog"
	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/idparse"
	"github.com/magellium/hrwsi/internal/store"
	"github.com/magellium/hrwsi/internal/types"
	"github.com/magellium/hrwsi/internal/util/stopper"
)

// chunkSize is the fixed ARCHIVE-mode window advance, per spec.md §4.D
// step 2 ("advance it by a fixed chunk (1 day)").
const chunkSize = 24 * time.Hour

// eligibleProductTypes is the list product_insertion notifications are
// filtered against before a parser is dispatched, per
// ELIGIBLE_PRODUCT_LIST in the original harvester.
var eligibleProductTypes = map[string]bool{
	"GFSC_L2C": true, "S1_NRB_L2A": true, "S1_SWS_L2B": true, "S1_WDS_L2B": true,
	"S1_WICS1_L2B": true, "S2_CC_L2B": true, "S2_FSC_L2B": true, "S2_MAJA_L2A": true,
	"S2_WICS2_L2B": true, "COMB_WICS1S2": true,
}

// Harvester owns one cycle's worth of dependencies: the store gateway,
// the catalog client, the run mode, and (in ARCHIVE mode) the fixed
// window bounds from configuration.
type Harvester struct {
	Store      *store.Pool
	Catalog    catalog.Client
	Mode       types.RunMode
	CycleEvery time.Duration
	PostSleep  time.Duration

	// Archive bounds, only consulted when Mode == types.RunModeArchive.
	ArchiveStart, ArchiveEnd time.Time
}

// Run starts the periodic cycle and the product_insertion listener,
// blocking until ctx stops.
func (h *Harvester) Run(ctx *stopper.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "could not create harvester scheduler")
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(h.CycleEvery),
		gocron.NewTask(func() {
			if runErr := h.runCycle(ctx); runErr != nil {
				log.WithError(runErr).Warn("harvester cycle failed")
			}
		}),
		gocron.WithName("harvester-cycle"),
	); err != nil {
		return errors.Wrap(err, "could not schedule harvester cycle")
	}
	sched.Start()

	notifications, err := h.Store.Listen(ctx, "product_insertion")
	if err != nil {
		return errors.Wrap(err, "could not listen on product_insertion")
	}

	ctx.Go(func() error {
		for {
			select {
			case n, ok := <-notifications:
				if !ok {
					return nil
				}
				if handleErr := h.handleProductInsertion(ctx, n.Payload); handleErr != nil {
					log.WithError(handleErr).Warn("could not handle product_insertion notification")
				}
			case <-ctx.Stopping():
				return nil
			}
		}
	})

	<-ctx.Stopping()
	return sched.Shutdown()
}

// runCycle executes spec.md §4.D's per-cycle algorithm over every rule
// in SystemParams.
func (h *Harvester) runCycle(ctx context.Context) error {
	params, err := h.Store.SystemParams(ctx)
	if err != nil {
		return err
	}

	for _, rule := range params {
		if cycleErr := h.runRule(ctx, rule); cycleErr != nil {
			log.WithError(cycleErr).WithField("rule", rule.ProductType).Warn("harvester rule cycle failed")
		}
	}
	return nil
}

func (h *Harvester) runRule(ctx context.Context, rule types.SystemParams) error {
	windows, archiveDone := h.deriveWindows(rule)

	for _, w := range windows {
		items, err := h.Catalog.Query(ctx, rule.ProductType, w.start, w.end)
		if err != nil {
			if errs.IsTransient(err) {
				log.WithError(err).WithField("rule", rule.ProductType).Warn("transient catalog error, will retry next cycle")
				return nil
			}
			return err
		}

		windowMin := w.start.Format("20060102")
		windowMinInt := asInt(windowMin)

		for _, item := range items {
			if insertErr := h.insertCandidate(ctx, rule, item, windowMinInt); insertErr != nil {
				log.WithError(insertErr).WithField("id", item.ID).Warn("could not insert harvested candidate")
			}
		}

		if h.Mode == types.RunModeArchive {
			if err := h.Store.SetHarvestStartDate(ctx, rule.ProductType, w.end); err != nil {
				return err
			}
		}
	}

	if h.Mode == types.RunModeArchive && archiveDone {
		time.Sleep(h.PostSleep)
		return h.Store.ClearHarvestBookmarks(ctx, rule.ProductType)
	}
	return nil
}

type window struct{ start, end time.Time }

// deriveWindows implements spec.md §4.D step 2. archiveDone reports
// whether this call produced the final chunk of an ARCHIVE run.
func (h *Harvester) deriveWindows(rule types.SystemParams) (windows []window, archiveDone bool) {
	if h.Mode == types.RunModeArchive {
		start := h.ArchiveStart
		if rule.ArchiveHarvestStartDate != nil {
			start = *rule.ArchiveHarvestStartDate
		}
		end := start.Add(chunkSize)
		if end.After(h.ArchiveEnd) {
			end = h.ArchiveEnd
			archiveDone = true
		}
		if !start.Before(h.ArchiveEnd) {
			return nil, true
		}
		return []window{{start: start, end: end}}, archiveDone
	}

	lower := time.Now().Add(-time.Duration(rule.MaxDaySincePublicationDate) * 24 * time.Hour)
	if latest, found, _ := h.Store.LatestPublishingDate(context.Background(), h.Store, rule.ProductType); found {
		lower = latest
	}
	return []window{{start: lower, end: time.Now()}}, false
}

// insertCandidate implements spec.md §4.D steps 4-5: parse the item's
// identifier the same way handleProductInsertion does, scope the
// existence check by the rule's timeliness, then insert.
func (h *Harvester) insertCandidate(ctx context.Context, rule types.SystemParams, item catalog.Item, windowMinDay int) error {
	parsed, err := idparse.Parse(item.ProductTypeCode, item.ID)
	if err != nil {
		log.WithError(err).WithField("id", item.ID).Warn("could not parse harvested candidate identifier, skipping")
		return nil
	}

	ri := types.RawInput{
		ID:                  item.ID,
		ProductType:         item.ProductTypeCode,
		MeasurementStart:    item.CreationDate,
		PublishingDate:      item.CatalogueDate,
		Tile:                parsed.Tile,
		MeasurementDay:      parsed.MeasurementDay,
		RelativeOrbit:       parsed.RelativeOrbit,
		InputPath:           item.ProductPath,
		IsPartial:           item.IsPartial,
		HarvestingTimestamp: time.Now(),
	}

	var exists bool
	if rule.Timeliness != "" {
		exists, err = h.Store.GRDAlreadyHarvested(ctx, h.Store, rule.ProductType, windowMinDay, ri.Tile, ri.MeasurementStart)
	} else {
		exists, err = h.Store.RawInputAlreadyHarvested(ctx, h.Store, rule.ProductType, windowMinDay, ri.InputPath)
	}
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = h.Store.InsertRawInput(ctx, h.Store, ri)
	return err
}

// productInsertionPayload is the subset of the catalogue's
// product_insertion notification the Harvester needs to parse an
// identifier.
type productInsertionPayload struct {
	ID              string `json:"id"`
	ProductTypeCode string `json:"product_type_code"`
	ProductPath     string `json:"product_path"`
}

func (h *Harvester) handleProductInsertion(ctx context.Context, payload string) error {
	var p productInsertionPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return errs.WrapDataShape(err, "could not decode product_insertion payload")
	}
	if !eligibleProductTypes[p.ProductTypeCode] {
		return nil
	}

	parsed, err := idparse.Parse(p.ProductTypeCode, p.ID)
	if err != nil {
		log.WithError(err).WithField("id", p.ID).Warn("could not parse product identifier, skipping")
		return nil
	}

	ri := types.RawInput{
		ID:                  p.ID,
		ProductType:         p.ProductTypeCode,
		Tile:                parsed.Tile,
		MeasurementDay:      parsed.MeasurementDay,
		RelativeOrbit:       parsed.RelativeOrbit,
		InputPath:           p.ProductPath,
		HarvestingTimestamp: time.Now(),
	}
	_, err = h.Store.InsertRawInput(ctx, h.Store, ri)
	return err
}

func asInt(yyyymmdd string) int {
	n := 0
	for _, c := range yyyymmdd {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
