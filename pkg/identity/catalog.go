package identity

import "github.com/rapportd/rapport/pkg/auth/sid"

// GroupCatalog holds the special-identity tables applied to every
// resolved group set: identities that are always part of a logged-on
// user's groups, and platform pseudo-groups that must never appear in
// one. The catalog is built once at startup and read-only afterwards, so
// it needs no synchronization.
type GroupCatalog struct {
	included []GroupMembership
	excluded map[string]struct{}
}

// NewGroupCatalog builds a catalog from explicit tables. Callers normally
// want DefaultCatalog.
func NewGroupCatalog(included []GroupMembership, excludedSIDs []string) *GroupCatalog {
	excluded := make(map[string]struct{}, len(excludedSIDs))
	for _, s := range excludedSIDs {
		excluded[s] = struct{}{}
	}
	inc := make([]GroupMembership, len(included))
	copy(inc, included)
	return &GroupCatalog{included: inc, excluded: excluded}
}

// DefaultCatalog returns the portal's standard special-identity tables.
//
// Every authenticated user implicitly belongs to Everyone and
// Authenticated Users regardless of resolution path. The excluded set
// covers the logon-type pseudo-groups the platform attaches to tokens;
// they describe how a session was created, not who the user is, and they
// would differ between the token path and the directory-lookup path for
// the same real-world user.
func DefaultCatalog() *GroupCatalog {
	included := []GroupMembership{
		{SID: sid.Everyone, Name: "Everyone"},
		{SID: sid.AuthenticatedUsers, Name: "Authenticated Users"},
	}
	excluded := []string{
		sid.AnonymousLogon,
		sid.Dialup,
		sid.Network,
		sid.Batch,
		sid.Interactive,
		sid.Service,
	}
	return NewGroupCatalog(included, excluded)
}

// Normalize applies the catalog to a group set in place: the excluded
// identities are unconditionally removed, then the included ones
// unconditionally added. Applied identically on every resolution path.
func (c *GroupCatalog) Normalize(groups *GroupSet) {
	for s := range c.excluded {
		groups.Remove(s)
	}
	for _, g := range c.included {
		groups.Add(g)
	}
}

// Excludes reports whether the catalog bans the given SID from resolved
// group sets.
func (c *GroupCatalog) Excludes(groupSID string) bool {
	_, ok := c.excluded[groupSID]
	return ok
}

// Included returns the always-present special identities.
func (c *GroupCatalog) Included() []GroupMembership {
	out := make([]GroupMembership, len(c.included))
	copy(out, c.included)
	return out
}
