package entitle_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/period"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
		invalid  bool
		quota    bool
	}{
		{name: "plan not found", err: entitle.ErrPlanNotFound, notFound: true},
		{name: "wrapped subscription not found", err: fmt.Errorf("load: %w", entitle.ErrSubscriptionNotFound), notFound: true},
		{name: "immutable slug", err: entitle.ErrImmutableSlug, invalid: true},
		{name: "invalid unit", err: period.ErrInvalidUnit, invalid: true},
		{name: "not entitled", err: entitle.ErrFeatureNotEntitled, quota: true},
		{name: "not usable", err: entitle.ErrFeatureNotUsable, quota: true},
		{name: "not consumable", err: entitle.ErrNotConsumable, quota: true},
		{name: "store closed", err: entitle.ErrStoreClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, entitle.IsNotFound(tt.err))
			assert.Equal(t, tt.invalid, entitle.IsInvalid(tt.err))
			assert.Equal(t, tt.quota, entitle.IsQuotaError(tt.err))
		})
	}
}

func TestValidationError(t *testing.T) {
	err := entitle.ValidationError{Field: "slug", Message: "is required"}
	assert.Equal(t, "entitle: validation failed for slug: is required", err.Error())
	assert.ErrorIs(t, err, entitle.ErrInvalidArgument)
}

func TestMultiError(t *testing.T) {
	var m entitle.MultiError
	assert.False(t, m.HasErrors())
	assert.NoError(t, m.ErrOrNil())

	first := errors.New("first")
	m.Add(nil)
	m.Add(first)
	assert.Equal(t, "first", m.Error())

	m.Add(entitle.ErrPlanNotFound)
	assert.True(t, m.HasErrors())
	assert.Len(t, m.Errors, 2)
	assert.Contains(t, m.Error(), "2 errors occurred")
	assert.ErrorIs(t, m.ErrOrNil(), first)
	assert.True(t, entitle.IsNotFound(m))
}
