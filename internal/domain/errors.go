package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every typed error below matches exactly one of them with
// errors.Is.
var (
	ErrDataGap          = errors.New("data gap")
	ErrDataIntegrity    = errors.New("data integrity")
	ErrConfiguration    = errors.New("configuration")
	ErrInsufficientData = errors.New("insufficient data")
)

// DataGapError is recoverable: the affected signal or symbol is skipped.
type DataGapError struct {
	Symbol    string
	Timestamp time.Time
	Detail    string
}

func (e *DataGapError) Error() string {
	if e.Timestamp.IsZero() {
		return fmt.Sprintf("data gap: %s: %s", e.Symbol, e.Detail)
	}
	return fmt.Sprintf("data gap: %s at %s: %s", e.Symbol, e.Timestamp.Format(time.RFC3339), e.Detail)
}

func (e *DataGapError) Is(target error) bool { return target == ErrDataGap }

// DataIntegrityError aborts the affected symbol only.
type DataIntegrityError struct {
	Symbol    string
	Timestamp time.Time
	Detail    string
}

func (e *DataIntegrityError) Error() string {
	if e.Timestamp.IsZero() {
		return fmt.Sprintf("data integrity: %s: %s", e.Symbol, e.Detail)
	}
	return fmt.Sprintf("data integrity: %s at %s: %s", e.Symbol, e.Timestamp.Format(time.RFC3339), e.Detail)
}

func (e *DataIntegrityError) Is(target error) bool { return target == ErrDataIntegrity }

// ConfigurationError is fatal before any work starts.
type ConfigurationError struct {
	Field  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Detail)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// InsufficientDataError marks a walk-forward window that was skipped.
type InsufficientDataError struct {
	Window   int
	Periods  int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: window %d has %d periods, need %d", e.Window, e.Periods, e.Required)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }
