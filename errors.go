package entitle

import (
	"errors"
	"fmt"

	"github.com/xraph/entitle/period"
)

// Error kinds. Every failure returned by the engine matches one of these
// with errors.Is; persistence errors pass through unchanged.
var (
	ErrInvalidArgument  = errors.New("entitle: invalid argument")
	ErrNotFound         = errors.New("entitle: not found")
	ErrAlreadyExists    = errors.New("entitle: already exists")
	ErrFeatureNotUsable = errors.New("entitle: feature cannot be used")

	// ErrInvalidUnit is the period package's unit error, re-exported.
	ErrInvalidUnit = period.ErrInvalidUnit
)

// Not-found errors. Each wraps ErrNotFound.
var (
	ErrPlanNotFound         = fmt.Errorf("%w: plan", ErrNotFound)
	ErrFeatureNotFound      = fmt.Errorf("%w: feature", ErrNotFound)
	ErrEntitlementNotFound  = fmt.Errorf("%w: entitlement", ErrNotFound)
	ErrSubscriptionNotFound = fmt.Errorf("%w: subscription", ErrNotFound)
)

// Quota errors.
var (
	ErrFeatureNotEntitled = errors.New("entitle: feature not entitled by plan")
	ErrNotConsumable      = errors.New("entitle: feature is not consumable")
)

// Catalog errors. Each wraps ErrInvalidArgument.
var (
	ErrImmutableFeatureType = fmt.Errorf("%w: feature type is immutable", ErrInvalidArgument)
	ErrImmutableSlug        = fmt.Errorf("%w: slug is immutable", ErrInvalidArgument)
)

// Scheduler and store errors.
var (
	ErrSweepInProgress = errors.New("entitle: sweep already in progress")
	ErrStoreClosed     = errors.New("entitle: store is closed")
)

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("entitle: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap makes every ValidationError match ErrInvalidArgument.
func (e ValidationError) Unwrap() error { return ErrInvalidArgument }

func invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// MultiError collects independent failures, such as per-candidate sweep
// failures.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "entitle: no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("entitle: %d errors occurred: %v", len(e.Errors), e.Errors[0])
	}
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add appends err when it is non-nil.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e MultiError) HasErrors() bool { return len(e.Errors) > 0 }

// ErrOrNil returns e when it holds errors and nil otherwise.
func (e MultiError) ErrOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// IsNotFound reports whether err is any not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalid reports whether err stems from malformed input.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidUnit)
}

// IsQuotaError reports whether err is a quota refusal rather than a fault.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrFeatureNotEntitled) ||
		errors.Is(err, ErrNotConsumable) ||
		errors.Is(err, ErrFeatureNotUsable)
}

// wrapPeriod maps period errors onto the engine's error kinds. A negative
// count becomes ErrInvalidArgument; an unknown unit stays ErrInvalidUnit.
func wrapPeriod(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, period.ErrNegativeCount) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}
