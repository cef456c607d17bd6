// Package id defines TypeID-based identifiers for every entitle record.
//
// All records share one ID struct whose prefix names the record kind, so a
// subscription ID can never be mistaken for a feature ID once parsed. IDs are
// UUIDv7-based, which keeps them K-sortable by creation time.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the record kind encoded in a TypeID.
type Prefix string

// Prefixes for every record kind.
const (
	PrefixPlan         Prefix = "plan"
	PrefixFeature      Prefix = "feat"
	PrefixEntitlement  Prefix = "ent"
	PrefixSubscription Prefix = "sub"
	PrefixUsage        Prefix = "use"
	PrefixEvent        Prefix = "evt"
	PrefixSignal       Prefix = "sig"
)

// ID wraps a TypeID in the "prefix_suffix" format.
//
//nolint:recvcheck // value receivers for reads, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates an ID with the given prefix. It panics on an invalid prefix.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string such as "sub_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that its prefix is expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// PlanID identifies a plan (prefix "plan").
type PlanID = ID

// FeatureID identifies a feature (prefix "feat").
type FeatureID = ID

// EntitlementID identifies a plan/feature grant (prefix "ent").
type EntitlementID = ID

// SubscriptionID identifies a subscription (prefix "sub").
type SubscriptionID = ID

// UsageID identifies a usage ledger entry (prefix "use").
type UsageID = ID

// EventID identifies a lifecycle event record (prefix "evt").
type EventID = ID

// SignalID identifies an emitted lifecycle signal (prefix "sig").
type SignalID = ID

func NewPlanID() ID { return New(PrefixPlan) }
func NewFeatureID() ID { return New(PrefixFeature) }
func NewEntitlementID() ID { return New(PrefixEntitlement) }
func NewSubscriptionID() ID { return New(PrefixSubscription) }
func NewUsageID() ID { return New(PrefixUsage) }
func NewEventID() ID { return New(PrefixEvent) }
func NewSignalID() ID { return New(PrefixSignal) }

func ParsePlanID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPlan) }
func ParseFeatureID(s string) (ID, error) { return ParseWithPrefix(s, PrefixFeature) }
func ParseEntitlementID(s string) (ID, error) { return ParseWithPrefix(s, PrefixEntitlement) }
func ParseSubscriptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSubscription) }
func ParseUsageID(s string) (ID, error) { return ParseWithPrefix(s, PrefixUsage) }
func ParseEventID(s string) (ID, error) { return ParseWithPrefix(s, PrefixEvent) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer. Nil stores as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
