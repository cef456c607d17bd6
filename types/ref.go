package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRef is returned when a Ref is missing its type tag or identifier.
var ErrInvalidRef = errors.New("types: invalid reference")

// Ref is a tagged reference to a record owned by the host application, such
// as a subscriber ("user", "42") or the owner of an event.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// NewRef returns a Ref for the given type tag and identifier.
func NewRef(typ, id string) Ref { return Ref{Type: typ, ID: id} }

// IsZero reports whether r is the zero Ref.
func (r Ref) IsZero() bool { return r.Type == "" && r.ID == "" }

// Validate checks that both halves of the reference are present.
func (r Ref) Validate() error {
	if r.Type == "" || r.ID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidRef, r.String())
	}
	if strings.Contains(r.Type, ":") {
		return fmt.Errorf("%w: type %q contains ':'", ErrInvalidRef, r.Type)
	}
	return nil
}

// String renders r as "type:id".
func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Type + ":" + r.ID
}

// ParseRef reads the "type:id" form produced by String.
func ParseRef(s string) (Ref, error) {
	typ, rid, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	r := Ref{Type: typ, ID: rid}
	return r, r.Validate()
}
