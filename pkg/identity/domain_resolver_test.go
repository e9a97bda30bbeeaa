package identity

import (
	"context"
	"strings"
	"testing"

	"github.com/rapportd/rapport/internal/directory"
)

const (
	corpDN    = "DC=corp,DC=example,DC=com"
	emeaDN    = "DC=emea,DC=example,DC=com"
	partnerDN = "DC=partner,DC=example,DC=org"

	aliceDN        = "CN=Alice,OU=Users,DC=corp,DC=example,DC=com"
	aliceSID       = "S-1-5-21-100-200-300-1104"
	aliceCanonical = "corp.example.com/Users/Alice"

	engineeringDN  = "CN=Engineering,OU=Groups,DC=corp,DC=example,DC=com"
	engineeringSID = "S-1-5-21-100-200-300-2201"
	staffDN        = "CN=Staff,OU=Groups,DC=corp,DC=example,DC=com"
	staffSID       = "S-1-5-21-100-200-300-2202"
	domainUsersSID = "S-1-5-21-100-200-300-513"
	emeaWikiSID    = "S-1-5-21-400-500-600-3301"
	partnersSID    = "S-1-5-21-700-800-900-4401"
)

// buildForestFixture wires a two-domain forest plus one trusted foreign
// domain:
//
//	corp:    Alice is a direct member of Engineering; Staff contains
//	         Engineering (one nesting hop); Domain Users is her primary
//	         group (RID 513).
//	emea:    EMEA Wiki contains Engineering as a member.
//	partner: trusted foreign domain where Alice's FSP is a member of
//	         Partners.
func buildForestFixture() *fakeDirectory {
	dir := newFakeDirectory()

	corp := directory.Domain{Name: "corp.example.com", DN: corpDN, SID: "S-1-5-21-100-200-300"}
	emea := directory.Domain{Name: "emea.example.com", DN: emeaDN, SID: "S-1-5-21-400-500-600"}
	partner := directory.Domain{Name: "partner.example.org", DN: partnerDN, SID: "S-1-5-21-700-800-900"}

	dir.addDomain(corp)
	dir.addDomain(emea)
	dir.addDomain(partner)
	dir.forest["corp.example.com"] = []directory.Domain{corp, emea}
	dir.trusts["corp.example.com"] = []directory.Trust{
		{Domain: partner, Direction: directory.TrustBidirectional},
	}

	fspDN := directory.ForeignSecurityPrincipalDN(aliceSID, partnerDN)

	dir.searchFn = func(d directory.Domain, base, filter string, attrs []string) ([]directory.Entry, error) {
		memberOf := func(dn string) bool {
			return strings.Contains(filter, "(member="+dn+")")
		}

		switch d.Name {
		case "corp.example.com":
			if base == aliceDN {
				return []directory.Entry{{
					DN:    aliceDN,
					Attrs: map[string][]string{directory.AttrPrimaryGroupID: {"513"}},
				}}, nil
			}
			if strings.Contains(filter, "(objectSid="+domainUsersSID+")") {
				return []directory.Entry{groupEntry(
					"CN=Domain Users,CN=Users,"+corpDN, "Domain Users", domainUsersSID)}, nil
			}
			var out []directory.Entry
			if memberOf(aliceDN) {
				out = append(out, groupEntry(engineeringDN, `CORP\Engineering`, engineeringSID))
			}
			if memberOf(engineeringDN) {
				out = append(out, groupEntry(staffDN, "Staff", staffSID))
			}
			return out, nil

		case "emea.example.com":
			if memberOf(engineeringDN) {
				return []directory.Entry{groupEntry(
					"CN=EMEA Wiki,OU=Groups,"+emeaDN, "EMEA Wiki", emeaWikiSID)}, nil
			}
			return nil, nil

		case "partner.example.org":
			if memberOf(fspDN) {
				return []directory.Entry{groupEntry(
					"CN=Partners,OU=Groups,"+partnerDN, "Partners", partnersSID)}, nil
			}
			return nil, nil
		}
		return nil, nil
	}

	return dir
}

func TestResolveDomainWide(t *testing.T) {
	dir := buildForestFixture()
	r := NewDomainGroupResolver(dir)

	groups := r.ResolveDomainWide(context.Background(), aliceDN, aliceSID, aliceCanonical)
	set := toSet(groups)

	for sidStr, label := range map[string]string{
		domainUsersSID: "primary group",
		engineeringSID: "direct membership",
		staffSID:       "one-hop nested membership",
		emeaWikiSID:    "forest domain nested membership",
		partnersSID:    "foreign security principal membership",
	} {
		if !set.Contains(sidStr) {
			t.Errorf("%s (%s) missing from result", label, sidStr)
		}
	}

	// Dedup invariant: no SID appears twice.
	seen := map[string]bool{}
	for _, g := range groups {
		if seen[g.SID] {
			t.Errorf("SID %s appears twice", g.SID)
		}
		seen[g.SID] = true
	}
}

func TestResolveDomainWideStripsDomainPrefix(t *testing.T) {
	dir := buildForestFixture()
	r := NewDomainGroupResolver(dir)

	groups := r.ResolveDomainWide(context.Background(), aliceDN, aliceSID, aliceCanonical)
	for _, g := range groups {
		if strings.Contains(g.Name, `\`) {
			t.Errorf("group name %q still domain-qualified", g.Name)
		}
	}
}

func TestResolveDomainWideDomainGroupsCarryDN(t *testing.T) {
	dir := buildForestFixture()
	r := NewDomainGroupResolver(dir)

	groups := r.ResolveDomainWide(context.Background(), aliceDN, aliceSID, aliceCanonical)
	for _, g := range groups {
		if g.DistinguishedName == "" {
			t.Errorf("domain group %q has no distinguished name", g.Name)
		}
	}
}

func TestResolveDomainWideFaultIsolation(t *testing.T) {
	dir := buildForestFixture()
	// One forest domain goes dark; the rest must still resolve.
	broken := directory.Domain{Name: "apac.example.com", DN: "DC=apac,DC=example,DC=com"}
	dir.addDomain(broken)
	dir.forest["corp.example.com"] = append(dir.forest["corp.example.com"], broken)
	dir.unreachable["apac.example.com"] = true

	r := NewDomainGroupResolver(dir)
	set := toSet(r.ResolveDomainWide(context.Background(), aliceDN, aliceSID, aliceCanonical))

	if !set.Contains(engineeringSID) || !set.Contains(emeaWikiSID) || !set.Contains(partnersSID) {
		t.Error("unreachable forest domain aborted resolution of other domains")
	}
}

func TestResolveDomainWideUnknownHomeDomain(t *testing.T) {
	dir := newFakeDirectory()
	r := NewDomainGroupResolver(dir)

	groups := r.ResolveDomainWide(context.Background(), aliceDN, aliceSID, "ghost.example.com/Users/Alice")
	if len(groups) != 0 {
		t.Errorf("got %d groups for unknown home domain, want 0", len(groups))
	}
}

func TestResolveDomainWideSkipsInboundOnlyTrusts(t *testing.T) {
	dir := buildForestFixture()
	dir.trusts["corp.example.com"] = []directory.Trust{
		{Domain: dir.domains["partner.example.org"], Direction: directory.TrustInbound},
	}

	r := NewDomainGroupResolver(dir)
	set := toSet(r.ResolveDomainWide(context.Background(), aliceDN, aliceSID, aliceCanonical))

	if set.Contains(partnersSID) {
		t.Error("inbound-only trust was searched")
	}
}
