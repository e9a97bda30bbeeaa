package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/rapportd/rapport/internal/directory"
	"github.com/rapportd/rapport/pkg/auth/sid"
)

const (
	testUserSID    = "S-1-5-21-100-200-300-1104"
	testDomGrpSID  = "S-1-5-21-100-200-300-2201"
	testLocalGroup = "S-1-5-21-9-9-9-1010"
)

func TestResolveLocalDirectMembership(t *testing.T) {
	local := newFakeLocal("WEB01")
	local.groups = []directory.LocalGroup{
		{SID: testLocalGroup, Name: "Portal Operators", MemberSIDs: []string{testUserSID}},
		{SID: "S-1-5-21-9-9-9-1011", Name: "Backup Crew", MemberSIDs: []string{"S-1-5-21-0-0-0-1"}},
	}

	r := NewLocalGroupResolver(local, DefaultCatalog())
	groups := toSet(r.ResolveLocal(context.Background(), testUserSID, nil))

	if !groups.Contains(testLocalGroup) {
		t.Error("direct local membership missing")
	}
	if groups.Contains("S-1-5-21-9-9-9-1011") {
		t.Error("non-membership group included")
	}
}

func TestResolveLocalNestedDomainGroup(t *testing.T) {
	// Domain group G was resolved elsewhere; G is a member of local
	// group L, so the user is transitively a member of L.
	local := newFakeLocal("WEB01")
	local.groups = []directory.LocalGroup{
		{SID: testLocalGroup, Name: "Remote Publishers", MemberSIDs: []string{testDomGrpSID}},
	}

	r := NewLocalGroupResolver(local, DefaultCatalog())
	groups := toSet(r.ResolveLocal(context.Background(), testUserSID, []string{testDomGrpSID}))

	if !groups.Contains(testLocalGroup) {
		t.Error("group nested via known domain group SID missing")
	}
}

func TestResolveLocalNormalizes(t *testing.T) {
	local := newFakeLocal("WEB01")
	local.groups = []directory.LocalGroup{
		// A hypothetical local group that somehow carries an excluded SID.
		{SID: sid.Interactive, Name: "INTERACTIVE", MemberSIDs: []string{testUserSID}},
	}

	r := NewLocalGroupResolver(local, DefaultCatalog())
	groups := toSet(r.ResolveLocal(context.Background(), testUserSID, nil))

	if groups.Contains(sid.Interactive) {
		t.Error("excluded special identity survived")
	}
	if !groups.Contains(sid.Everyone) || !groups.Contains(sid.AuthenticatedUsers) {
		t.Error("included special identities missing")
	}
}

func TestResolveLocalTotalFailureYieldsNormalizedEmptySet(t *testing.T) {
	local := newFakeLocal("WEB01")
	local.groupsErr = errors.New("access denied")

	r := NewLocalGroupResolver(local, DefaultCatalog())
	groups := r.ResolveLocal(context.Background(), testUserSID, nil)

	// Still a valid identity: just the always-included specials.
	set := toSet(groups)
	if !set.Contains(sid.Everyone) || !set.Contains(sid.AuthenticatedUsers) {
		t.Error("catalog includes missing after enumeration failure")
	}
	if len(groups) != 2 {
		t.Errorf("got %d groups after total failure, want 2", len(groups))
	}
}

func toSet(groups []GroupMembership) *GroupSet {
	s := NewGroupSet()
	s.AddAll(groups)
	return s
}
