package identity

import (
	"context"

	"github.com/rapportd/rapport/internal/directory"
	"github.com/rapportd/rapport/internal/logger"
)

// LocalGroupResolver enumerates local-machine group membership for a SID.
type LocalGroupResolver struct {
	local   directory.LocalDirectory
	catalog *GroupCatalog
}

// NewLocalGroupResolver builds a resolver over the local account database.
func NewLocalGroupResolver(local directory.LocalDirectory, catalog *GroupCatalog) *LocalGroupResolver {
	return &LocalGroupResolver{local: local, catalog: catalog}
}

// ResolveLocal returns the local groups containing userSID directly, or
// containing any SID in knownGroupSIDs (memberships already discovered
// elsewhere, typically domain groups). The second clause is what catches
// a domain group nested inside a local group.
//
// The result is catalog-normalized. Enumeration failure degrades to the
// normalized empty set: an identity with no local groups is still a valid
// identity, just a less privileged one.
func (r *LocalGroupResolver) ResolveLocal(ctx context.Context, userSID string, knownGroupSIDs []string) []GroupMembership {
	known := make(map[string]struct{}, len(knownGroupSIDs))
	for _, s := range knownGroupSIDs {
		known[s] = struct{}{}
	}

	result := NewGroupSet()

	groups, err := r.local.Groups(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "local group enumeration failed, continuing with no local groups",
			logger.SID(userSID), logger.Err(err))
		groups = nil
	}

	for _, g := range groups {
		if containsMember(g, userSID, known) {
			result.Add(GroupMembership{SID: g.SID, Name: g.Name})
		}
	}

	r.catalog.Normalize(result)
	return result.Groups()
}

func containsMember(g directory.LocalGroup, userSID string, known map[string]struct{}) bool {
	for _, member := range g.MemberSIDs {
		if member == userSID {
			return true
		}
		if _, ok := known[member]; ok {
			return true
		}
	}
	return false
}
