// Package errs defines the error taxonomy shared by every HRWSI
// component: ConfigError, TransientIO, DataShape, Conflict,
// MissingAuxiliary, and AllocationLost. Each activity catches its own
// class of errors and continues; only ConfigError aborts the process.
package errs

import (
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// postgresUniqueViolation is the SQLSTATE for a unique-constraint
// violation.
const postgresUniqueViolation = "23505"

// ConfigError marks a missing or invalid environment/configuration
// value. Fatal at startup.
type ConfigError struct {
	cause error
}

func NewConfigError(msg string) error {
	return &ConfigError{cause: errors.New(msg)}
}

func WrapConfigError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &ConfigError{cause: errors.Wrap(err, msg)}
}

func (e *ConfigError) Error() string { return e.cause.Error() }
func (e *ConfigError) Unwrap() error { return e.cause }

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// TransientIO marks a DB, scheduler, or catalog transport error that
// should be retried at the activity level; the activity continues
// after logging it.
type TransientIO struct {
	cause error
}

func WrapTransient(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &TransientIO{cause: errors.Wrap(err, msg)}
}

func (e *TransientIO) Error() string { return e.cause.Error() }
func (e *TransientIO) Unwrap() error { return e.cause }

func IsTransient(err error) bool {
	var t *TransientIO
	return errors.As(err, &t)
}

// DataShape marks a malformed upstream identifier or a missing
// expected field. The offending item is skipped; the rule advances.
type DataShape struct {
	cause error
}

func NewDataShape(msg string) error {
	return &DataShape{cause: errors.New(msg)}
}

func WrapDataShape(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &DataShape{cause: errors.Wrap(err, msg)}
}

func (e *DataShape) Error() string { return e.cause.Error() }
func (e *DataShape) Unwrap() error { return e.cause }

func IsDataShape(err error) bool {
	var d *DataShape
	return errors.As(err, &d)
}

// Conflict marks a unique-constraint violation on RawInput,
// TriggerValidation, ProcessingTask, or PT2Nomad. Treated as "already
// done": logged at info, never retried.
type Conflict struct {
	cause error
}

func NewConflict(msg string) error {
	return &Conflict{cause: errors.New(msg)}
}

func (e *Conflict) Error() string { return e.cause.Error() }
func (e *Conflict) Unwrap() error { return e.cause }

func IsConflict(err error) bool {
	var c *Conflict
	if errors.As(err, &c) {
		return true
	}
	return IsUniqueViolation(err)
}

// IsUniqueViolation reports whether err is (or wraps) a Postgres
// unique-constraint violation, independent of whether it has already
// been classified as a Conflict. Callers that execute an INSERT
// expected to race with a concurrent insert of the same row should
// treat this as a no-op, not a failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresUniqueViolation
	}
	return false
}

// MissingAuxiliary marks a renderer-level failure: a required dynamic
// auxiliary (CAMS, FMI) is not present. Render returns skip; no task
// is dispatched this cycle, and a re-driver will revisit later.
type MissingAuxiliary struct {
	cause error
}

func NewMissingAuxiliary(msg string) error {
	return &MissingAuxiliary{cause: errors.New(msg)}
}

func (e *MissingAuxiliary) Error() string { return e.cause.Error() }
func (e *MissingAuxiliary) Unwrap() error { return e.cause }

func IsMissingAuxiliary(err error) bool {
	var m *MissingAuxiliary
	return errors.As(err, &m)
}

// AllocationLost marks the case where the scheduler has no record of a
// submitted job. Surfaced as an internal_error status row (exit 404),
// triggering relaunch via the undispatched re-driver.
type AllocationLost struct {
	cause error
}

func NewAllocationLost(msg string) error {
	return &AllocationLost{cause: errors.New(msg)}
}

func (e *AllocationLost) Error() string { return e.cause.Error() }
func (e *AllocationLost) Unwrap() error { return e.cause }

func IsAllocationLost(err error) bool {
	var a *AllocationLost
	return errors.As(err, &a)
}
