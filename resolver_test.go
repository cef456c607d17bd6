package entitle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/types"
)

func TestResolvers_Validate(t *testing.T) {
	ctx := context.Background()
	failure := errors.New("lookup failed")

	open := entitle.NewResolvers()
	strict := entitle.NewResolvers()
	strict.Register("org", entitle.ResolverFunc(func(_ context.Context, id string) (bool, error) {
		switch id {
		case "acme":
			return true, nil
		case "flaky":
			return false, failure
		default:
			return false, nil
		}
	}))

	tests := []struct {
		name      string
		resolvers *entitle.Resolvers
		ref       types.Ref
		wantErr   error
	}{
		{name: "no resolvers accepts any ref", resolvers: open, ref: types.NewRef("user", "1")},
		{name: "malformed ref", resolvers: open, ref: types.NewRef("", "1"), wantErr: entitle.ErrInvalidArgument},
		{name: "known subscriber", resolvers: strict, ref: types.NewRef("org", "acme")},
		{name: "unknown subscriber", resolvers: strict, ref: types.NewRef("org", "globex"), wantErr: entitle.ErrInvalidArgument},
		{name: "unregistered type", resolvers: strict, ref: types.NewRef("user", "acme"), wantErr: entitle.ErrInvalidArgument},
		{name: "resolver failure", resolvers: strict, ref: types.NewRef("org", "flaky"), wantErr: failure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resolvers.Validate(ctx, tt.ref)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, 1, strict.Len())
}
