// Package period converts (count, unit) lengths into minutes, days and
// months. Months are 30 days and years are 365 days; day and month results
// keep their fractional part.
//
// Lengths too long for their target type saturate instead of wrapping: at
// math.MaxInt64 minutes, or at MaxDuration for time.Duration results.
package period

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxDuration is the saturated length of a period longer than a
// time.Duration can hold, roughly 292 years.
const MaxDuration = time.Duration(math.MaxInt64)

// MaxTime is the latest instant AddTo returns. It is the last time
// representable in Unix nanoseconds, which bounds every store.
var MaxTime = time.Unix(0, math.MaxInt64).UTC()

// AddTo returns t+d for a non-negative d, clamped to MaxTime. A saturated d
// always yields MaxTime.
func AddTo(t time.Time, d time.Duration) time.Time {
	if d >= MaxDuration || t.After(MaxTime.Add(-d)) {
		return MaxTime
	}
	return t.Add(d)
}

var (
	// ErrInvalidUnit is returned for a unit outside the enumerated set.
	ErrInvalidUnit = errors.New("period: invalid unit")

	// ErrNegativeCount is returned for a negative count.
	ErrNegativeCount = errors.New("period: negative count")
)

// Unit is the granularity of a Period.
type Unit string

const (
	Minute Unit = "minute"
	Hour   Unit = "hour"
	Day    Unit = "day"
	Week   Unit = "week"
	Month  Unit = "month"
	Year   Unit = "year"
)

const (
	minutesPerHour  = 60
	minutesPerDay   = 24 * minutesPerHour
	minutesPerWeek  = 7 * minutesPerDay
	minutesPerMonth = 30 * minutesPerDay
	minutesPerYear  = 365 * minutesPerDay
)

// Units lists every valid unit, shortest first.
func Units() []Unit {
	return []Unit{Minute, Hour, Day, Week, Month, Year}
}

// Valid reports whether u is one of the enumerated units.
func (u Unit) Valid() bool {
	switch u {
	case Minute, Hour, Day, Week, Month, Year:
		return true
	}
	return false
}

// ParseUnit parses a unit name, accepting a trailing plural "s".
func ParseUnit(s string) (Unit, error) {
	u := Unit(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if !u.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, s)
	}
	return u, nil
}

func check(count int, unit Unit) error {
	if !unit.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidUnit, string(unit))
	}
	if count < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeCount, count)
	}
	return nil
}

// ToMinutes returns the length of count units in whole minutes, saturating
// at math.MaxInt64.
func ToMinutes(count int, unit Unit) (int64, error) {
	if err := check(count, unit); err != nil {
		return 0, err
	}

	n := int64(count)
	switch unit {
	case Minute:
		return n, nil
	case Hour:
		return mulSat(n, minutesPerHour), nil
	case Day:
		return mulSat(n, minutesPerDay), nil
	case Week:
		return mulSat(n, minutesPerWeek), nil
	case Month:
		return mulSat(n, minutesPerMonth), nil
	default:
		return mulSat(n, minutesPerYear), nil
	}
}

// mulSat multiplies two non-negative values, saturating at math.MaxInt64.
func mulSat(n, k int64) int64 {
	if n > math.MaxInt64/k {
		return math.MaxInt64
	}
	return n * k
}

// ToDays returns the length of count units in days. Sub-day units yield
// fractional days, e.g. 90 minutes is 0.0625 days.
func ToDays(count int, unit Unit) (float64, error) {
	if err := check(count, unit); err != nil {
		return 0, err
	}

	n := float64(count)
	switch unit {
	case Minute:
		return n / minutesPerDay, nil
	case Hour:
		return n / 24, nil
	case Day:
		return n, nil
	case Week:
		return n * 7, nil
	case Month:
		return n * 30, nil
	default:
		return n * 365, nil
	}
}

// ToMonths returns the length of count units in months. A week counts as a
// quarter month.
func ToMonths(count int, unit Unit) (float64, error) {
	if err := check(count, unit); err != nil {
		return 0, err
	}

	n := float64(count)
	switch unit {
	case Minute:
		return n / minutesPerMonth, nil
	case Hour:
		return n / (24 * 30), nil
	case Day:
		return n / 30, nil
	case Week:
		return n / 4, nil
	case Month:
		return n, nil
	default:
		return n * 12, nil
	}
}

// Period is a length of time expressed as a count of units.
type Period struct {
	Count int  `json:"count"`
	Unit  Unit `json:"unit"`
}

// New returns a validated Period.
func New(count int, unit Unit) (Period, error) {
	if err := check(count, unit); err != nil {
		return Period{}, err
	}
	return Period{Count: count, Unit: unit}, nil
}

// Validate checks the count and unit.
func (p Period) Validate() error { return check(p.Count, p.Unit) }

// Minutes is ToMinutes for p.
func (p Period) Minutes() (int64, error) { return ToMinutes(p.Count, p.Unit) }

// Days is ToDays for p.
func (p Period) Days() (float64, error) { return ToDays(p.Count, p.Unit) }

// Months is ToMonths for p.
func (p Period) Months() (float64, error) { return ToMonths(p.Count, p.Unit) }

// Duration returns the minute length of p as a time.Duration, saturating
// at MaxDuration.
func (p Period) Duration() (time.Duration, error) {
	m, err := p.Minutes()
	if err != nil {
		return 0, err
	}
	if m > int64(MaxDuration/time.Minute) {
		return MaxDuration, nil
	}
	return time.Duration(m) * time.Minute, nil
}

// DayDuration converts the fractional day length of p into a time.Duration,
// saturating at MaxDuration. This is the offset used when deriving a
// subscription end from its start.
func (p Period) DayDuration() (time.Duration, error) {
	d, err := p.Days()
	if err != nil {
		return 0, err
	}
	ns := d * float64(24*time.Hour)
	if ns >= float64(MaxDuration) {
		return MaxDuration, nil
	}
	return time.Duration(ns), nil
}

// String renders p as "<count> <unit>".
func (p Period) String() string {
	return strconv.Itoa(p.Count) + " " + string(p.Unit)
}

// Parse reads the "<count> <unit>" form produced by String.
func Parse(s string) (Period, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Period{}, fmt.Errorf("period: parse %q: want \"<count> <unit>\"", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return Period{}, fmt.Errorf("period: parse %q: %w", s, err)
	}
	u, err := ParseUnit(fields[1])
	if err != nil {
		return Period{}, err
	}
	return New(n, u)
}
