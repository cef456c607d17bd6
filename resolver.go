package entitle

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/entitle/types"
)

// Resolver confirms that a subscriber identifier refers to a real record of
// one type, such as a user or an organization owned by the host.
type Resolver interface {
	Resolve(ctx context.Context, id string) (bool, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context, id string) (bool, error)

func (f ResolverFunc) Resolve(ctx context.Context, id string) (bool, error) { return f(ctx, id) }

// Resolvers maps Ref type tags to resolvers.
//
// With no resolvers registered every well-formed Ref is accepted. Once any
// resolver is registered, a Ref whose tag has none is rejected.
type Resolvers struct {
	mu     sync.RWMutex
	byType map[string]Resolver
}

func NewResolvers() *Resolvers {
	return &Resolvers{byType: make(map[string]Resolver)}
}

// Register sets the resolver for typ, replacing any previous one.
func (r *Resolvers) Register(typ string, res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[typ] = res
}

func (r *Resolvers) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}

// Validate checks ref against the registered resolvers. Rejections wrap
// ErrInvalidArgument; resolver failures pass through.
func (r *Resolvers) Validate(ctx context.Context, ref types.Ref) error {
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("%w: subscriber: %w", ErrInvalidArgument, err)
	}

	r.mu.RLock()
	res, ok := r.byType[ref.Type]
	n := len(r.byType)
	r.mu.RUnlock()

	if !ok {
		if n > 0 {
			return invalid("subscriber", "no resolver for type %q", ref.Type)
		}
		return nil
	}

	found, err := res.Resolve(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("entitle: resolve subscriber %s: %w", ref, err)
	}
	if !found {
		return invalid("subscriber", "%s does not exist", ref)
	}
	return nil
}
