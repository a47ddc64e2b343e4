// Package types contains the data types and interfaces that define the
// major functional blocks of the HRWSI orchestrator. The goal of placing
// them here is the same as in the teacher project this package is
// adapted from: make it easy to compose functionality across the four
// pipeline stages (harvester, triggerer, orchestrator, launcher) without
// those packages importing each other.
package types

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMode selects whether the Harvester operates against fresh,
// near-real-time data or back-fills a historical archive window. The
// Launcher has no run mode.
type RunMode int

const (
	RunModeNRT RunMode = iota
	RunModeArchive
)

func (m RunMode) String() string {
	if m == RunModeArchive {
		return "ARCHIVE"
	}
	return "NRT"
}

// Flavour is a resource-class tag used by the cluster scheduler to
// target worker pools.
type Flavour string

const (
	FlavourHMALarge Flavour = "hma.large"
	FlavourEO1Large Flavour = "eo1.large"
)

// RawInput is one upstream catalog item, as discovered by the
// Harvester. Never mutated after insertion; uniqueness is enforced on
// ID.
type RawInput struct {
	ID                  string
	ProductType         string
	MeasurementStart    time.Time
	PublishingDate      time.Time
	Tile                string
	MeasurementDay      int
	RelativeOrbit       *int
	InputPath           string
	IsPartial           bool
	HarvestingTimestamp time.Time
}

// TriggeringCondition is a named rule referencing a processing routine.
// Static configuration, never mutated at runtime.
type TriggeringCondition struct {
	Name    string
	Routine string
}

// TriggerValidation is one successful rule evaluation.
type TriggerValidation struct {
	ID                       int64
	TriggeringConditionName  string
	ValidationTimestamp      time.Time
	IsNRT                    bool
	ArtificialMeasurementDay *int
}

// Raw2Valid is the many-to-many edge between a TriggerValidation and
// the RawInputs that satisfied it.
type Raw2Valid struct {
	TriggerValidationID int64
	RawInputID          string
}

// ProcessingTask is one unit of work derived from exactly one
// TriggerValidation.
type ProcessingTask struct {
	ID                  int64
	TriggerValidationID int64
	CreationTimestamp   time.Time
	ProcessingDate      *int
	HasEnded            bool
	PrecedingInputID    *string
	IntermediatePaths   []string
	Flavour             Flavour
}

// NomadJobDispatch is one submission of a ProcessingTask to the cluster
// scheduler.
type NomadJobDispatch struct {
	UUID              string
	DispatchTimestamp time.Time
	LogPath           string
}

// PT2Nomad is the edge between a ProcessingTask and one of its
// dispatches. A task may have several; only the latest by
// DispatchTimestamp is authoritative.
type PT2Nomad struct {
	ProcessingTaskID   int64
	NomadJobDispatchID string
}

// ProcessingStatus is the closed enum of states a dispatch can report.
type ProcessingStatus string

const (
	StatusStarted       ProcessingStatus = "started"
	StatusProcessed     ProcessingStatus = "processed"
	StatusPending       ProcessingStatus = "pending"
	StatusInternalError ProcessingStatus = "internal_error"
	StatusExternalError ProcessingStatus = "external_error"
	StatusTerminated    ProcessingStatus = "terminated"
)

// IsUnfinished reports whether the status can still transition, as
// opposed to being a terminal outcome.
func (s ProcessingStatus) IsUnfinished() bool {
	switch s {
	case StatusProcessed, StatusTerminated:
		return false
	default:
		return true
	}
}

// ProcessingStatusWorkflow is one append-only status event for a
// dispatch. Current status is the latest row by Timestamp for the
// latest dispatch of a task.
type ProcessingStatusWorkflow struct {
	ID         int64
	DispatchID string
	Status     ProcessingStatus
	Timestamp  time.Time
	ExitCode   *int
	Message    *string
}

// SystemParams is the per-rule configuration consulted by the Harvester
// and Triggerer.
type SystemParams struct {
	ProductType                string
	Collection                 string
	MaxDaySincePublicationDate int
	MaxDaySinceMeasurementDate int
	TileList                   []string
	Geometry                   string
	Polarisation               string
	Timeliness                 string
	NRTHarvestStartDate        *time.Time
	ArchiveHarvestStartDate    *time.Time
	ArchiveHarvestEndDate      *time.Time
}

// Firing is the result of evaluating one rule: a TriggerValidation to
// create, together with the RawInputs that justify it. Rule functions
// build one Firing at a time and commit it immediately; they do not
// return Firing values.
type Firing struct {
	TriggeringConditionName  string
	IsNRT                    bool
	ArtificialMeasurementDay *int
	Inputs                   []RawInput
}

// Querier is implemented by *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx. It
// is the minimal surface every store method needs, so callers can pass
// either a pooled connection or an open transaction without the store
// package caring which.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (*pgxpool.Conn)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// CatalogItem is a single candidate returned by the upstream catalog
// client for a query window.
type CatalogItem struct {
	ID               string
	ProductType      string
	MeasurementStart time.Time
	PublishingDate   time.Time
	Tile             string
	MeasurementDay   int
	RelativeOrbit    *int
	InputPath        string
	IsPartial        bool
}

// AllocationStatus is the internal enum that scheduler-native statuses
// are mapped to.
type AllocationStatus string

const (
	AllocationRunning  AllocationStatus = "running"
	AllocationPending  AllocationStatus = "pending"
	AllocationDead     AllocationStatus = "dead"
	AllocationComplete AllocationStatus = "complete"
	AllocationUnknown  AllocationStatus = "unknown"
)

// Allocation describes a scheduler's view of one job submission.
type Allocation struct {
	ID           string
	ClientStatus AllocationStatus
	SubmitTime   time.Time
	DispatchTime time.Time
}
