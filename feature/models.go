// Package feature defines grantable capabilities.
package feature

import (
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

// Type decides whether a feature carries a quota. It is fixed at creation.
type Type string

const (
	Consumable    Type = "consumable"
	NonConsumable Type = "non_consumable"
)

// Valid reports whether t is a known feature type.
func (t Type) Valid() bool { return t == Consumable || t == NonConsumable }

type Feature struct {
	types.Entity
	types.SoftDelete
	ID          id.FeatureID      `json:"id"`
	Slug        string            `json:"slug"`
	Name        types.Text        `json:"name"`
	Description types.Text        `json:"description,omitempty"`
	Type        Type              `json:"type"`
	SortOrder   int               `json:"sort_order"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (f *Feature) IsConsumable() bool { return f.Type == Consumable }
