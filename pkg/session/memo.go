package session

import (
	"context"
	"sync"

	"github.com/rapportd/rapport/pkg/identity"
	"github.com/rapportd/rapport/pkg/ticket"
)

// requestScope memoizes resolved identities for the lifetime of one
// inbound request, so several authorization checks within the request
// cost a single directory round-trip. First resolution wins.
type requestScope struct {
	mu    sync.Mutex
	bySID map[string]*identity.UserIdentity
}

type scopeKey struct{}

// WithRequestScope returns a context carrying a fresh memoization
// scope. The HTTP middleware installs one per inbound request.
func WithRequestScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &requestScope{
		bySID: map[string]*identity.UserIdentity{},
	})
}

func (p *Policy) resolveMemoized(ctx context.Context, ref *ticket.Reference) (*identity.UserIdentity, error) {
	scope, _ := ctx.Value(scopeKey{}).(*requestScope)
	if scope == nil {
		return p.resolver.ResolveByName(ctx, ref.Username, ref.Domain)
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	if id, ok := scope.bySID[ref.SID]; ok {
		return id, nil
	}
	id, err := p.resolver.ResolveByName(ctx, ref.Username, ref.Domain)
	if err != nil {
		return nil, err
	}
	if id != nil {
		scope.bySID[ref.SID] = id
	}
	return id, nil
}
