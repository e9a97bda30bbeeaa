package identity

import (
	"strings"
	"testing"

	"github.com/rapportd/rapport/pkg/auth/sid"
)

func TestGroupSetDeduplicatesBySID(t *testing.T) {
	s := NewGroupSet()

	if !s.Add(GroupMembership{SID: "S-1-5-21-1-2-3-1104", Name: "Engineering"}) {
		t.Fatal("first Add returned false")
	}
	// Same group reached via a second resolution path.
	if s.Add(GroupMembership{SID: "S-1-5-21-1-2-3-1104", Name: "CORP\\Engineering"}) {
		t.Error("duplicate SID was added")
	}
	if s.Add(GroupMembership{SID: "", Name: "nameless"}) {
		t.Error("group with empty SID was added")
	}

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	if got := s.Groups()[0].Name; got != "Engineering" {
		t.Errorf("first writer should win, got name %q", got)
	}
}

func TestGroupSetRemove(t *testing.T) {
	s := NewGroupSet()
	s.Add(GroupMembership{SID: "S-1-5-32-545", Name: "Users"})
	s.Add(GroupMembership{SID: "S-1-5-32-544", Name: "Administrators"})

	s.Remove("S-1-5-32-545")
	s.Remove("S-1-5-32-999") // absent, no-op

	if s.Contains("S-1-5-32-545") {
		t.Error("removed SID still present")
	}
	if !s.Contains("S-1-5-32-544") {
		t.Error("unrelated SID was removed")
	}
}

func TestPredicates(t *testing.T) {
	u := &UserIdentity{
		SID:      "S-1-5-21-1-2-3-1104",
		Username: "alice",
		Domain:   "CORP",
		Groups: []GroupMembership{
			{SID: sid.BuiltinAdministrators, Name: "Administrators"},
		},
	}

	if u.IsAnonymous() {
		t.Error("credentialed identity reported anonymous")
	}
	if !u.IsLocalAdministrator() {
		t.Error("IsLocalAdministrator() = false with Administrators membership")
	}
	if u.IsRemoteDesktopUser() {
		t.Error("IsRemoteDesktopUser() = true without membership")
	}

	anon := Anonymous()
	if !anon.IsAnonymous() {
		t.Error("Anonymous() identity not reported anonymous")
	}
	if anon.SID != sid.PortalAnonymous {
		t.Errorf("anonymous SID = %q, want %q", anon.SID, sid.PortalAnonymous)
	}
}

func TestQualified(t *testing.T) {
	u := &UserIdentity{Username: "alice", Domain: "CORP"}
	if got := u.Qualified(); got != `CORP\alice` {
		t.Errorf("Qualified() = %q", got)
	}

	local := &UserIdentity{Username: "bob"}
	if got := local.Qualified(); got != "bob" {
		t.Errorf("Qualified() without domain = %q", got)
	}
}

func TestWithWriteAccessCopies(t *testing.T) {
	u := &UserIdentity{
		SID:    "S-1-5-21-1-2-3-1104",
		Groups: []GroupMembership{{SID: "S-1-1-0", Name: "Everyone"}},
	}

	w := u.WithWriteAccess(true)
	if !w.HasWriteAccess {
		t.Error("WithWriteAccess(true) did not set the flag")
	}
	if u.HasWriteAccess {
		t.Error("receiver was mutated")
	}

	w.Groups[0].Name = "changed"
	if u.Groups[0].Name != "Everyone" {
		t.Error("group slice is shared between copies")
	}
}

func TestIsAnonymousAccount(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"reserved account", "anonymous", true},
		{"case insensitive", "Anonymous", true},
		{"web server user", "IUSR", true},
		{"app pool identity", "RapportPool", true},
		{"machine qualified", `WEB01\IUSR`, true},
		{"normal user", "alice", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAnonymousAccount(tt.in); got != tt.want {
				t.Errorf("IsAnonymousAccount(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCredentialRedaction(t *testing.T) {
	c := Credential{Username: "alice", Password: "hunter2", Domain: "CORP"}
	if got := c.String(); got != `CORP\alice:<redacted>` {
		t.Errorf("String() = %q", got)
	}
	if lv := c.LogValue().String(); strings.Contains(lv, "hunter2") {
		t.Errorf("LogValue leaks password: %q", lv)
	}
}
