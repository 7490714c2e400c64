package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/bugdw/internal/model"
)

// ErrOutOfOrder is returned when a snapshot is older than the newest
// snapshot already in the fact table. SCD2 history cannot absorb it.
var ErrOutOfOrder = errors.New("snapshot older than newest loaded snapshot")

// LoadError represents a failed unit of work.
//
// Load errors include:
//   - Warm start: the registry could not be restored (fatal for the run)
//   - Dimension: one dimension delta rolled back
//   - Calendar: the calendar merge rolled back
//   - Fact: the close+insert pair rolled back; the snapshot is a gap
//
// Every LoadError leaves storage and the registry consistent with each other.
type LoadError struct {
	// Code identifies the error category.
	Code LoadErrorCode

	// Dimension names the dimension for dimension errors.
	Dimension string

	// Snapshot is the snapshot date, when the error belongs to one.
	Snapshot model.DateID

	// SourceFile is the snapshot file, when known.
	SourceFile string

	// Err is the underlying cause.
	Err error
}

// LoadErrorCode categorizes load errors.
type LoadErrorCode string

const (
	// ErrCodeWarmStart indicates the registry could not be read from storage.
	ErrCodeWarmStart LoadErrorCode = "WARM_START_FAILED"

	// ErrCodeDimension indicates a dimension delta rolled back.
	ErrCodeDimension LoadErrorCode = "DIMENSION_LOAD_FAILED"

	// ErrCodeCalendar indicates the calendar merge rolled back.
	ErrCodeCalendar LoadErrorCode = "CALENDAR_LOAD_FAILED"

	// ErrCodeFact indicates the fact close+insert pair rolled back.
	ErrCodeFact LoadErrorCode = "FACT_LOAD_FAILED"

	// ErrCodeOutOfOrder indicates a snapshot arrived after a newer one.
	ErrCodeOutOfOrder LoadErrorCode = "OUT_OF_ORDER"

	// ErrCodeRead indicates the snapshot source could not be read.
	ErrCodeRead LoadErrorCode = "SNAPSHOT_READ_FAILED"
)

// Error implements the error interface.
func (e *LoadError) Error() string {
	msg := string(e.Code)
	if e.Dimension != "" {
		msg += " (dimension=" + e.Dimension + ")"
	}
	if e.Snapshot != model.UnknownDateID {
		msg += fmt.Sprintf(" (snapshot=%s)", e.Snapshot)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error must stop the whole run.
// Uses errors.As to handle wrapped errors.
func IsFatal(err error) bool {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code == ErrCodeWarmStart
	}
	return false
}

// IsFactError returns true if a snapshot's facts are missing from history.
func IsFactError(err error) bool {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code == ErrCodeFact || le.Code == ErrCodeOutOfOrder || le.Code == ErrCodeRead
	}
	return false
}

// IsDimensionError returns true if a dimension or calendar delta rolled back.
func IsDimensionError(err error) bool {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code == ErrCodeDimension || le.Code == ErrCodeCalendar
	}
	return false
}

func newDimensionError(dim model.Dimension, err error) *LoadError {
	return &LoadError{Code: ErrCodeDimension, Dimension: dim.Name, Err: err}
}
