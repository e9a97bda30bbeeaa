// Package identity turns raw credentials and logon tokens into canonical,
// group-annotated identities.
//
// The resolution pipeline is: CredentialValidator validates a
// username/password pair against the platform logon facility; Resolver
// composes local-machine and domain-wide group membership into a
// UserIdentity, normalized through the GroupCatalog so that authorization
// decisions never depend on which resolution path produced the identity.
package identity

import (
	"log/slog"

	"github.com/rapportd/rapport/pkg/auth/sid"
)

// GroupMembership is one group a principal belongs to.
type GroupMembership struct {
	// SID is the group's security identifier and its dedup key.
	SID string `json:"sid"`

	// Name is the display name, without any DOMAIN\ prefix.
	Name string `json:"name"`

	// DistinguishedName is set only for domain-sourced groups; it is the
	// search key for nested-membership expansion and has no meaning for
	// local groups.
	DistinguishedName string `json:"distinguished_name,omitempty"`
}

// UserIdentity is a canonical resolved identity. Values are immutable
// once constructed; the SID is the identity key (two identities are the
// same iff their SIDs match).
type UserIdentity struct {
	// SID is the principal's security identifier.
	SID string `json:"sid"`

	// Username is the account name without domain qualification.
	Username string `json:"username"`

	// Domain is the account's domain, or the machine name for local
	// accounts.
	Domain string `json:"domain"`

	// FullName is the display name; falls back to Username when the
	// directory lookup fails.
	FullName string `json:"full_name"`

	// Groups is the complete transitive group membership, deduplicated
	// by SID and normalized through the GroupCatalog.
	Groups []GroupMembership `json:"groups"`

	// HasWriteAccess marks a write-capable session. It is set only at
	// ticket-issuance time and is never an inherent property of the
	// identity.
	HasWriteAccess bool `json:"has_write_access"`
}

// IsAnonymous reports whether this is the portal's anonymous identity.
func (u *UserIdentity) IsAnonymous() bool {
	return u.SID == sid.PortalAnonymous
}

// IsLocalAdministrator reports membership in BUILTIN\Administrators.
func (u *UserIdentity) IsLocalAdministrator() bool {
	return u.HasGroup(sid.BuiltinAdministrators)
}

// IsRemoteDesktopUser reports membership in BUILTIN\Remote Desktop Users.
func (u *UserIdentity) IsRemoteDesktopUser() bool {
	return u.HasGroup(sid.RemoteDesktopUsers)
}

// HasGroup reports whether the identity's group set contains groupSID.
func (u *UserIdentity) HasGroup(groupSID string) bool {
	for _, g := range u.Groups {
		if g.SID == groupSID {
			return true
		}
	}
	return false
}

// Qualified returns the "domain\username" form used as ticket subject.
func (u *UserIdentity) Qualified() string {
	if u.Domain == "" {
		return u.Username
	}
	return u.Domain + `\` + u.Username
}

// WithWriteAccess returns a copy of the identity with HasWriteAccess set.
// The receiver is not modified.
func (u *UserIdentity) WithWriteAccess(write bool) *UserIdentity {
	clone := *u
	clone.HasWriteAccess = write
	clone.Groups = make([]GroupMembership, len(u.Groups))
	copy(clone.Groups, u.Groups)
	return &clone
}

// LogValue renders the identity for logs without dumping the group list.
func (u *UserIdentity) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("sid", u.SID),
		slog.String("username", u.Username),
		slog.String("domain", u.Domain),
		slog.Int("groups", len(u.Groups)),
	)
}

// GroupSet accumulates group memberships, deduplicating by SID. The zero
// value is not usable; call NewGroupSet.
type GroupSet struct {
	order []string
	bySID map[string]GroupMembership
}

// NewGroupSet creates an empty group set.
func NewGroupSet() *GroupSet {
	return &GroupSet{bySID: make(map[string]GroupMembership)}
}

// Add inserts g unless a group with the same SID is already present.
// Groups with an empty SID are dropped. Reports whether g was inserted.
func (s *GroupSet) Add(g GroupMembership) bool {
	if g.SID == "" {
		return false
	}
	if _, ok := s.bySID[g.SID]; ok {
		return false
	}
	s.bySID[g.SID] = g
	s.order = append(s.order, g.SID)
	return true
}

// AddAll inserts every group in groups.
func (s *GroupSet) AddAll(groups []GroupMembership) {
	for _, g := range groups {
		s.Add(g)
	}
}

// Remove deletes the group with the given SID, if present.
func (s *GroupSet) Remove(groupSID string) {
	if _, ok := s.bySID[groupSID]; !ok {
		return
	}
	delete(s.bySID, groupSID)
	for i, id := range s.order {
		if id == groupSID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Contains reports whether a group with the given SID is present.
func (s *GroupSet) Contains(groupSID string) bool {
	_, ok := s.bySID[groupSID]
	return ok
}

// SIDs returns the member SIDs in insertion order.
func (s *GroupSet) SIDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of groups in the set.
func (s *GroupSet) Len() int {
	return len(s.order)
}

// Groups returns the memberships in insertion order.
func (s *GroupSet) Groups() []GroupMembership {
	out := make([]GroupMembership, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.bySID[id])
	}
	return out
}
