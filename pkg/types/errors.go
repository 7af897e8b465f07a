// Package types provides the error taxonomy shared across the engine.
package types

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError is fatal and raised before a run starts: the config is
// internally inconsistent and no partial result is possible.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// DataGapError is recoverable and local: a symbol is missing price or score
// data for a required date. The engine excludes the symbol from that period
// and records a DataQualityNote instead of aborting.
type DataGapError struct {
	Symbol string
	Date   time.Time
	Reason string
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap: %s at %s: %s", e.Symbol, e.Date.Format("2006-01-02"), e.Reason)
}

// IsDataGap reports whether err is (or wraps) a DataGapError.
func IsDataGap(err error) bool {
	var gap *DataGapError
	return errors.As(err, &gap)
}

// InvariantViolationError is fatal: portfolio accounting broke (negative
// cash, sell of an unheld position). The run aborts rather than producing
// meaningless metrics.
type InvariantViolationError struct {
	Op     string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Op, e.Detail)
}

// ExternalCollaboratorError wraps a failure from the scoring or price data
// collaborator. Retry policy belongs to the collaborator; any failure that
// reaches the engine is downgraded to a DataGapError for that symbol/date.
type ExternalCollaboratorError struct {
	Collaborator string
	Symbol       string
	Err          error
}

func (e *ExternalCollaboratorError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Collaborator, e.Symbol, e.Err)
}

func (e *ExternalCollaboratorError) Unwrap() error { return e.Err }
