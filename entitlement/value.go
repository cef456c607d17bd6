package entitlement

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// UnlimitedText is the sentinel stored for an unlimited quota.
const UnlimitedText = "unlimited"

// ErrInvalidValue is returned when a quota value cannot be parsed.
var ErrInvalidValue = errors.New("entitlement: invalid value")

type valueKind uint8

const (
	kindNone valueKind = iota
	kindLimit
	kindUnlimited
)

// Value is the quota of a grant. It is one of:
//
//   - unset: the feature is simply granted; consumable features with an
//     unset value cannot be metered
//   - a limit: a non-negative amount consumable per window
//   - unlimited: no restriction
//
// The zero Value is unset.
type Value struct {
	kind   valueKind
	amount float64
}

// Limit returns a Value capping usage at n.
func Limit(n float64) Value { return Value{kind: kindLimit, amount: n} }

// Unlimited returns the unlimited Value.
func Unlimited() Value { return Value{kind: kindUnlimited} }

func (v Value) IsSet() bool { return v.kind != kindNone }
func (v Value) IsUnlimited() bool { return v.kind == kindUnlimited }
func (v Value) IsLimit() bool { return v.kind == kindLimit }

// Amount returns the limit, +Inf when unlimited, and 0 when unset.
func (v Value) Amount() float64 {
	switch v.kind {
	case kindUnlimited:
		return math.Inf(1)
	case kindLimit:
		return v.amount
	default:
		return 0
	}
}

// Validate rejects negative and non-finite limits.
func (v Value) Validate() error {
	if v.kind == kindLimit && (v.amount < 0 || math.IsNaN(v.amount) || math.IsInf(v.amount, 0)) {
		return fmt.Errorf("%w: limit %v", ErrInvalidValue, v.amount)
	}
	return nil
}

// String renders the value as stored: "", "unlimited" or the number.
func (v Value) String() string {
	switch v.kind {
	case kindUnlimited:
		return UnlimitedText
	case kindLimit:
		return strconv.FormatFloat(v.amount, 'f', -1, 64)
	default:
		return ""
	}
}

// ParseValue reads the form produced by String.
func ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Value{}, nil
	case strings.EqualFold(s, UnlimitedText):
		return Unlimited(), nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	v := Limit(n)
	return v, v.Validate()
}

// MarshalJSON encodes unset as null, unlimited as "unlimited" and a limit as
// a number.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindUnlimited:
		return []byte(`"` + UnlimitedText + `"`), nil
	case kindLimit:
		return json.Marshal(v.amount)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseValue(s)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidValue, data)
	}
	parsed := Limit(n)
	if err := parsed.Validate(); err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Value implements driver.Valuer. Unset stores as NULL.
func (v Value) Value() (driver.Value, error) {
	if v.kind == kindNone {
		return nil, nil //nolint:nilnil // NULL
	}
	return v.String(), nil
}

// Scan implements sql.Scanner.
func (v *Value) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*v = Value{}
		return nil
	case string:
		parsed, err := ParseValue(s)
		*v = parsed
		return err
	case []byte:
		parsed, err := ParseValue(string(s))
		*v = parsed
		return err
	case float64:
		*v = Limit(s)
		return nil
	case int64:
		*v = Limit(float64(s))
		return nil
	default:
		return fmt.Errorf("entitlement: cannot scan %T into Value", src)
	}
}
