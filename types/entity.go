// Package types provides value types shared by the entitle record packages.
package types

import "time"

// Entity carries creation and modification timestamps. Embed it in records.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with t in UTC.
func NewEntity(t time.Time) Entity {
	t = t.UTC()
	return Entity{CreatedAt: t, UpdatedAt: t}
}

// Touch sets UpdatedAt to t in UTC.
func (e *Entity) Touch(t time.Time) {
	e.UpdatedAt = t.UTC()
}

// SoftDelete marks a record as deleted without removing it. Deleted records
// are invisible to every store query but keep their history.
type SoftDelete struct {
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the record has been soft-deleted.
func (s SoftDelete) IsDeleted() bool { return s.DeletedAt != nil }

// MarkDeleted stamps DeletedAt with t.
func (s *SoftDelete) MarkDeleted(t time.Time) {
	t = t.UTC()
	s.DeletedAt = &t
}
