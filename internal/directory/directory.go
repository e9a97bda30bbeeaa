// Package directory defines the boundary to the OS directory services this
// subsystem consumes: forest topology, trust enumeration, and LDAP-style
// searches. Implementations live outside this repository (a production
// deployment binds them to the platform's directory facilities); resolution
// code depends only on these interfaces.
package directory

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a lookup matches no directory object.
var ErrNotFound = errors.New("directory object not found")

// ErrUnreachable is returned when a domain or machine cannot be contacted.
var ErrUnreachable = errors.New("directory unreachable")

// Attribute names used by the resolution searches.
const (
	AttrMember            = "member"
	AttrMemberOf          = "memberOf"
	AttrDistinguishedName = "distinguishedName"
	AttrObjectSID         = "objectSid"
	AttrPrimaryGroupID    = "primaryGroupID"
	AttrSAMAccountName    = "sAMAccountName"
	AttrDisplayName       = "displayName"
	AttrCanonicalName     = "canonicalName"
	AttrCommonName        = "cn"
)

// Entry is a single directory search result: a distinguished name plus the
// requested attributes, each potentially multi-valued.
type Entry struct {
	DN    string
	Attrs map[string][]string
}

// First returns the first value of attr, or "" when absent.
func (e Entry) First(attr string) string {
	vals := e.Attrs[attr]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Values returns all values of attr (possibly nil).
func (e Entry) Values(attr string) []string {
	return e.Attrs[attr]
}

// TrustDirection describes how a trust relationship points relative to the
// home domain.
type TrustDirection int

const (
	TrustInbound TrustDirection = iota
	TrustOutbound
	TrustBidirectional
)

// Domain identifies one domain reachable from the directory.
type Domain struct {
	// Name is the DNS name, e.g. "corp.example.com".
	Name string

	// DN is the distinguished name of the domain naming context,
	// e.g. "DC=corp,DC=example,DC=com".
	DN string

	// SID is the domain SID string, e.g. "S-1-5-21-...".
	SID string
}

// Trust is a trust relationship from a home domain to a foreign domain.
type Trust struct {
	Domain    Domain
	Direction TrustDirection
}

// CrossesOutbound reports whether identity lookups may follow this trust
// out of the home domain.
func (t Trust) CrossesOutbound() bool {
	return t.Direction == TrustOutbound || t.Direction == TrustBidirectional
}

// Directory is the directory-services boundary. Implementations must be
// safe for concurrent use; every method observes ctx cancellation.
type Directory interface {
	// Probe checks that the named domain (or the local machine, when name
	// is empty) can be contacted. Returns ErrUnreachable when it cannot.
	Probe(ctx context.Context, name string) error

	// DomainByName resolves a DNS domain name to its Domain descriptor.
	// Returns ErrNotFound for unknown domains and ErrUnreachable when no
	// controller answers.
	DomainByName(ctx context.Context, name string) (Domain, error)

	// ForestDomains lists every domain in the forest of home, including
	// home itself.
	ForestDomains(ctx context.Context, home Domain) ([]Domain, error)

	// Trusts lists the external trust relationships of home.
	Trusts(ctx context.Context, home Domain) ([]Trust, error)

	// Search runs an LDAP-style search in the given domain.
	Search(ctx context.Context, domain Domain, base, filter string, attrs []string) ([]Entry, error)
}

// ForeignSecurityPrincipalDN builds the distinguished name of the
// placeholder object that represents sidStr inside a trusted foreign
// domain. Cross-domain group membership is expressed through these
// objects rather than the user's own DN.
func ForeignSecurityPrincipalDN(sidStr, domainDN string) string {
	return "CN=" + sidStr + ",CN=ForeignSecurityPrincipals," + domainDN
}

// DomainFromCanonical extracts the DNS domain from a canonical name of
// the form "corp.example.com/Users/Alice". Returns "" for empty input.
func DomainFromCanonical(canonical string) string {
	if canonical == "" {
		return ""
	}
	if i := strings.IndexByte(canonical, '/'); i >= 0 {
		return canonical[:i]
	}
	return canonical
}

// EscapeFilter escapes special characters in an LDAP filter value per
// RFC 4515.
func EscapeFilter(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch c {
		case '(', ')', '*', '\\':
			b.WriteByte('\\')
			b.WriteString(hexDigits[c>>4 : c>>4+1])
			b.WriteString(hexDigits[c&0xf : c&0xf+1])
		case 0:
			b.WriteString("\\00")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

const hexDigits = "0123456789abcdef"
