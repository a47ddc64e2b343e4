package triggerer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/magellium/hrwsi/internal/types"
)

// orphanTimeout is how long a partial GRDH acquisition waits for its
// pairing partner before firing alone (spec.md §4.E, "an orphan that
// stays unpaired for ≥2 h fires alone").
const orphanTimeout = 2 * time.Hour

// n90Days bounds how far back CC_TC looks for a prior L2A on the same
// tile before choosing INIT vs NOMINAL mode.
const n90Days = 90 * 24 * time.Hour

func decodeRawInputPayload(payload string) (types.RawInput, error) {
	var ri types.RawInput
	err := json.Unmarshal([]byte(payload), &ri)
	return ri, err
}

// nrtFlag implements spec.md §4.E's "NRT flag" formula: if a past
// harvest bookmark exists for this product type, NRT iff measurement
// day is at or after the bookmark; otherwise NRT iff harvesting
// happened within 3h of publishing.
func nrtFlag(ctx context.Context, t *Triggerer, ri types.RawInput) (bool, error) {
	bookmark, found, err := t.Store.LastProcessingDate(ctx, ri.ProductType)
	if err != nil {
		return false, err
	}
	if found {
		return ri.MeasurementDay >= bookmark, nil
	}
	delta := ri.HarvestingTimestamp.Sub(ri.PublishingDate)
	return delta >= 0 && delta <= 3*time.Hour, nil
}

// evaluateL2A implements the FSC_TC / WICS2_TC rule: eligible if
// produced within N_pub days and no prior validation exists for this
// input under the rule; one validation is created per eligible rule.
func (t *Triggerer) evaluateL2A(ctx context.Context, ri types.RawInput) error {
	for _, rule := range []string{"FSC_TC", "WICS2_TC"} {
		already, err := t.Store.ValidationExistsForInputUnderRule(ctx, t.Store, ri.ID, rule)
		if err != nil {
			return err
		}
		if already {
			continue
		}
		if !withinPublicationAge(ri, defaultNPub) {
			continue
		}
		isNRT, err := nrtFlag(ctx, t, ri)
		if err != nil {
			return err
		}
		if err := t.commit(ctx, types.Firing{
			TriggeringConditionName: rule,
			IsNRT:                   isNRT,
			Inputs:                  []types.RawInput{ri},
		}); err != nil {
			return err
		}
	}
	return nil
}

// evaluateNRB implements the SWS_TC / WICS1_TC / WDS_TC rule: tile in
// the allowed list, relative orbit valid for that tile, produced
// within N_pub days, no prior validation under the rule. WDS_TC
// additionally requires at least one same-(tile, measurement_day) FSC
// produced within N_pub days.
func (t *Triggerer) evaluateNRB(ctx context.Context, ri types.RawInput) error {
	if ri.RelativeOrbit == nil || !t.orbitValid(ri.Tile, *ri.RelativeOrbit) {
		return nil
	}
	if !withinPublicationAge(ri, defaultNPub) {
		return nil
	}

	isNRT, err := nrtFlag(ctx, t, ri)
	if err != nil {
		return err
	}

	for _, rule := range []string{"SWS_TC", "WICS1_TC"} {
		already, err := t.Store.ValidationExistsForInputUnderRule(ctx, t.Store, ri.ID, rule)
		if err != nil {
			return err
		}
		if already {
			continue
		}
		if err := t.commit(ctx, types.Firing{
			TriggeringConditionName: rule,
			IsNRT:                   isNRT,
			Inputs:                  []types.RawInput{ri},
		}); err != nil {
			return err
		}
	}

	already, err := t.Store.ValidationExistsForInputUnderRule(ctx, t.Store, ri.ID, "WDS_TC")
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	partners, err := t.Store.SameTileAndDay(ctx, t.Store, "S2_FSC_L2B", ri.Tile, ri.MeasurementDay,
		time.Now().Add(-defaultNPub))
	if err != nil {
		return err
	}
	if len(partners) == 0 {
		return nil
	}
	return t.commit(ctx, types.Firing{
		TriggeringConditionName: "WDS_TC",
		IsNRT:                   isNRT,
		Inputs:                  append([]types.RawInput{ri}, partners...),
	})
}

// evaluateFSCForWDS is the symmetric half of WDS_TC: a fresh
// S2_FSC_L2B looks for the latest same-(tile, measurement_day) S1
// backscatter and, if found, fires WDS_TC with both (plus any other
// same-day FSC).
func (t *Triggerer) evaluateFSCForWDS(ctx context.Context, ri types.RawInput) error {
	already, err := t.Store.ValidationExistsForInputUnderRule(ctx, t.Store, ri.ID, "WDS_TC")
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	s1Candidates, err := t.Store.SameTileAndDay(ctx, t.Store, "S1_NRB_L2A", ri.Tile, ri.MeasurementDay,
		time.Now().Add(-defaultNPub))
	if err != nil {
		return err
	}
	if len(s1Candidates) == 0 {
		return nil
	}
	latest := s1Candidates[0]
	for _, c := range s1Candidates[1:] {
		if c.HarvestingTimestamp.After(latest.HarvestingTimestamp) {
			latest = c
		}
	}

	fscSiblings, err := t.Store.SameTileAndDay(ctx, t.Store, "S2_FSC_L2B", ri.Tile, ri.MeasurementDay,
		time.Now().Add(-defaultNPub))
	if err != nil {
		return err
	}

	isNRT, err := nrtFlag(ctx, t, ri)
	if err != nil {
		return err
	}
	return t.commit(ctx, types.Firing{
		TriggeringConditionName: "WDS_TC",
		IsNRT:                   isNRT,
		Inputs:                  append([]types.RawInput{latest}, fscSiblings...),
	})
}

// runGRDHPair implements the Backscatter_10m_TC rule's periodic entry
// point: non-partial GRDH fires immediately; partial GRDH waits for a
// same-(tile, measurement_day, relative_orbit) partner with adjacent
// timestamps, and an orphan unpaired for >= orphanTimeout fires alone.
func (t *Triggerer) runGRDHPair(ctx context.Context) error {
	unprocessed, err := t.Store.UnprocessedRawInputsForRule(ctx, t.Store, []string{"IW_GRDH_1S"}, "Backscatter_10m_TC")
	if err != nil {
		return err
	}

	paired := map[string]bool{}
	for i, ri := range unprocessed {
		if paired[ri.ID] {
			continue
		}
		if !ri.IsPartial {
			if err := t.commit(ctx, types.Firing{TriggeringConditionName: "Backscatter_10m_TC", Inputs: []types.RawInput{ri}}); err != nil {
				return err
			}
			continue
		}

		partner, found := findGRDHPartner(unprocessed[i+1:], ri)
		if found {
			paired[ri.ID] = true
			paired[partner.ID] = true
			if err := t.commit(ctx, types.Firing{
				TriggeringConditionName: "Backscatter_10m_TC",
				Inputs:                  []types.RawInput{ri, partner},
			}); err != nil {
				return err
			}
			continue
		}

		if time.Since(ri.HarvestingTimestamp) >= orphanTimeout {
			if err := t.commit(ctx, types.Firing{TriggeringConditionName: "Backscatter_10m_TC", Inputs: []types.RawInput{ri}}); err != nil {
				return err
			}
		}
	}
	return nil
}

func findGRDHPartner(candidates []types.RawInput, ri types.RawInput) (types.RawInput, bool) {
	const adjacentTolerance = 2 * time.Second
	for _, c := range candidates {
		if !c.IsPartial || c.Tile != ri.Tile || c.MeasurementDay != ri.MeasurementDay {
			continue
		}
		if ri.RelativeOrbit == nil || c.RelativeOrbit == nil || *ri.RelativeOrbit != *c.RelativeOrbit {
			continue
		}
		gap := c.MeasurementStart.Sub(ri.MeasurementStart)
		if gap < 0 {
			gap = -gap
		}
		if gap <= adjacentTolerance {
			return c, true
		}
	}
	return types.RawInput{}, false
}

// runCCInitial implements the CC_TC rule: eligible L1C scenes fire
// alone ("INIT") when no prior L2A exists on the tile in the last 90
// days, or with the most recent such L2A ("NOMINAL"); blocked by tile
// serialization against an older unfinished CC task on the same tile.
func (t *Triggerer) runCCInitial(ctx context.Context) error {
	unprocessed, err := t.Store.UnprocessedRawInputsForRule(ctx, t.Store, []string{"S2MSI1C"}, "CC_TC")
	if err != nil {
		return err
	}

	for _, ri := range unprocessed {
		if !withinPublicationAge(ri, defaultNPub) || !withinMeasurementAge(ri, defaultNMeas) {
			continue
		}

		blocked, err := t.Store.OpenCCTasksBelowDay(ctx, t.Store, ri.Tile, ri.MeasurementDay)
		if err != nil {
			return err
		}
		if blocked {
			continue
		}

		minDay := addDays(ri.MeasurementDay, -int(n90Days/(24*time.Hour)))
		l2a, found, err := t.Store.LatestL2AInWindow(ctx, t.Store, ri.Tile, minDay, ri.MeasurementDay)
		if err != nil {
			return err
		}

		inputs := []types.RawInput{ri}
		if found {
			inputs = append(inputs, l2a)
		}
		isNRT, err := nrtFlag(ctx, t, ri)
		if err != nil {
			return err
		}
		if err := t.commit(ctx, types.Firing{TriggeringConditionName: "CC_TC", IsNRT: isNRT, Inputs: inputs}); err != nil {
			return err
		}
	}
	return nil
}

// runWICS1S2Pair implements the WICS1S2_TC rule: for every WICS1
// without a prior validation under this rule, pair it with every
// same-(tile, measurement_day) WICS2.
func (t *Triggerer) runWICS1S2Pair(ctx context.Context) error {
	unprocessed, err := t.Store.UnprocessedRawInputsForRule(ctx, t.Store, []string{"S1_WICS1_L2B"}, "WICS1S2_TC")
	if err != nil {
		return err
	}

	today := time.Now()
	for _, wics1 := range unprocessed {
		partners, err := t.Store.SameTileAndDay(ctx, t.Store, "S2_WICS2_L2B", wics1.Tile, wics1.MeasurementDay, time.Time{})
		if err != nil {
			return err
		}
		if len(partners) == 0 {
			continue
		}
		isNRT := isSameDay(wics1.MeasurementDay, today)
		if err := t.commit(ctx, types.Firing{
			TriggeringConditionName: "WICS1S2_TC",
			IsNRT:                   isNRT,
			Inputs:                  append([]types.RawInput{wics1}, partners...),
		}); err != nil {
			return err
		}
	}
	return nil
}

// runGFSCDaily implements the GFSC_TC rule: walk every day between the
// last processing-date bookmark and yesterday; skip a day for 7 days
// (locally only, never persisted) if any CC_TC/Backscatter_10m_TC or
// FSC_TC/SWS_TC task for that day has not reached a terminal status,
// per NB_OF_NOT_SUCCESSFULLY_PROCESSED_TASK_FOR_A_DAY_AND_SPECIFICS_ROUTINES
// in the original triggerer; otherwise gather FSC+SWS inputs in [D-7,
// D] and fire if the set differs from the prior GFSC validation for
// (tile, D). Advance the persisted bookmark by one day only once every
// tile for D has completed.
func (t *Triggerer) runGFSCDaily(ctx context.Context) error {
	bookmark, found, err := t.Store.LastProcessingDate(ctx, "GFSC_L2C")
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	yesterday := dayNumber(time.Now().AddDate(0, 0, -1))
	for d := bookmark; d <= yesterday; {
		blocked, err := t.gfscDayBlocked(ctx, d)
		if err != nil {
			return err
		}
		if blocked {
			d = addDays(d, 7)
			continue
		}
		if err := t.runGFSCForDay(ctx, d); err != nil {
			return err
		}
		d = addDays(d, 1)
	}
	return nil
}

// gfscDayBlocked reports whether day must be skipped because a CC /
// Backscatter_10m task or an FSC / SWS task for that measurement day
// has not yet reached a terminal status, mirroring the original's two
// NB_OF_NOT_SUCCESSFULLY_PROCESSED_TASK_FOR_A_DAY_AND_SPECIFICS_ROUTINES
// checks (cc_sig0_tc_code_str, sws_fsc_tc_code_str).
func (t *Triggerer) gfscDayBlocked(ctx context.Context, day int) (bool, error) {
	ccSig0Blocked, err := t.Store.NonTerminalTasksExistForDay(ctx, t.Store, []string{"CC_TC", "Backscatter_10m_TC"}, day)
	if err != nil {
		return false, err
	}
	if ccSig0Blocked {
		return true, nil
	}
	return t.Store.NonTerminalTasksExistForDay(ctx, t.Store, []string{"FSC_TC", "SWS_TC"}, day)
}

func addDays(day, n int) int {
	return dayNumber(measurementDayToTime(day).AddDate(0, 0, n))
}

func (t *Triggerer) runGFSCForDay(ctx context.Context, day int) error {
	windowStart := addDays(day, -7)

	fsc, err := t.Store.UnprocessedRawInputsForRule(ctx, t.Store, []string{"S2_FSC_L2B"}, "GFSC_TC")
	if err != nil {
		return err
	}
	sws, err := t.Store.UnprocessedRawInputsForRule(ctx, t.Store, []string{"S1_SWS_L2B"}, "GFSC_TC")
	if err != nil {
		return err
	}

	byTile := map[string][]types.RawInput{}
	for _, ri := range append(fsc, sws...) {
		if ri.MeasurementDay < windowStart || ri.MeasurementDay > day {
			continue
		}
		byTile[ri.Tile] = append(byTile[ri.Tile], ri)
	}

	allComplete := true
	for tile, inputs := range byTile {
		ids := make([]string, len(inputs))
		for i, in := range inputs {
			ids[i] = in.ID
		}
		differs, err := t.Store.GFSCValidationInputsDiffer(ctx, t.Store, tile, day, ids)
		if err != nil {
			return err
		}
		if !differs {
			continue
		}
		artificialDay := day
		if err := t.commit(ctx, types.Firing{
			TriggeringConditionName:  "GFSC_TC",
			ArtificialMeasurementDay: &artificialDay,
			Inputs:                   inputs,
		}); err != nil {
			return err
		}
		allComplete = false
	}

	if allComplete {
		return t.Store.AdvanceLastProcessingDate(ctx, "GFSC_L2C", addDays(day, 1))
	}
	return nil
}

// defaultNPub and defaultNMeas are the publication-age and
// measurement-age thresholds every rule function here applies. The
// Triggerer does not read the per-product-type values in
// systemparams.wekeo_api_manager; only the Harvester consults that
// table (internal/harvester), for its own harvest windows.
const defaultNPub = 5 * 24 * time.Hour
const defaultNMeas = 10 * 24 * time.Hour

func withinPublicationAge(ri types.RawInput, maxAge time.Duration) bool {
	return time.Since(ri.PublishingDate) <= maxAge
}

func withinMeasurementAge(ri types.RawInput, maxAge time.Duration) bool {
	return time.Since(measurementDayToTime(ri.MeasurementDay)) <= maxAge
}

func measurementDayToTime(day int) time.Time {
	year, month, d := day/10000, (day/100)%100, day%100
	return time.Date(year, time.Month(month), d, 0, 0, 0, 0, time.UTC)
}

func dayNumber(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

func isSameDay(measurementDay int, t time.Time) bool {
	return measurementDay == dayNumber(t)
}

// orbitValid reports whether orbit is registered as valid for tile. An
// unconfigured tile has no valid orbits, matching the rule's
// "tile-in-allowed-list" gate: a tile missing from ValidOrbits is, by
// construction, not in the allowed list.
func (t *Triggerer) orbitValid(tile string, orbit int) bool {
	orbits, ok := t.ValidOrbits[tile]
	if !ok {
		return false
	}
	return orbits[orbit]
}
