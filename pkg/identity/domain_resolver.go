package identity

import (
	"context"
	"strconv"
	"strings"

	"github.com/rapportd/rapport/internal/directory"
	"github.com/rapportd/rapport/internal/logger"
	"github.com/rapportd/rapport/pkg/auth/sid"
)

// DomainGroupResolver computes a principal's group membership across its
// home domain, every domain in the home forest, and externally trusted
// foreign domains.
type DomainGroupResolver struct {
	dir directory.Directory
}

// NewDomainGroupResolver builds a resolver over the directory boundary.
func NewDomainGroupResolver(dir directory.Directory) *DomainGroupResolver {
	return &DomainGroupResolver{dir: dir}
}

var groupAttrs = []string{
	directory.AttrSAMAccountName,
	directory.AttrCommonName,
	directory.AttrObjectSID,
}

// ResolveDomainWide returns the domain-sourced group memberships of the
// user identified by its distinguished name, SID and canonical name.
//
// Membership is collected from three sources: the primary group (carried
// as a numeric RID attribute, not as a member link), direct `member`
// matches in every forest domain, and Foreign-Security-Principal matches
// in trusted foreign domains. In each domain the direct search is
// followed by exactly one nested-expansion pass through the groups
// already discovered; deeper nesting chains are deliberately not chased
// (one level of indirection per domain pass is the guaranteed bound).
//
// Each domain and trust probe is fault-isolated: partial results are
// expected when cross-forest connectivity is incomplete, and a total
// failure yields an empty set rather than an error.
func (r *DomainGroupResolver) ResolveDomainWide(ctx context.Context, userDN, userSID, userCanonical string) []GroupMembership {
	result := NewGroupSet()

	homeName := directory.DomainFromCanonical(userCanonical)
	home, err := r.dir.DomainByName(ctx, homeName)
	if err != nil {
		logger.WarnCtx(ctx, "home domain lookup failed, no domain groups resolved",
			logger.Domain(homeName), logger.SID(userSID), logger.Err(err))
		return result.Groups()
	}

	r.resolvePrimaryGroup(ctx, home, userDN, userSID, result)

	// Track searched domains so forest members that also appear as trust
	// targets are only probed once.
	searched := map[string]struct{}{}
	r.searchDomain(ctx, home, userDN, result)
	searched[strings.ToLower(home.Name)] = struct{}{}

	domains, err := r.dir.ForestDomains(ctx, home)
	if err != nil {
		logger.WarnCtx(ctx, "forest enumeration failed", logger.Domain(home.Name), logger.Err(err))
	}
	for _, d := range domains {
		key := strings.ToLower(d.Name)
		if _, done := searched[key]; done {
			continue
		}
		r.searchDomain(ctx, d, userDN, result)
		searched[key] = struct{}{}
	}

	trusts, err := r.dir.Trusts(ctx, home)
	if err != nil {
		logger.WarnCtx(ctx, "trust enumeration failed", logger.Domain(home.Name), logger.Err(err))
	}
	for _, t := range trusts {
		key := strings.ToLower(t.Domain.Name)
		if _, done := searched[key]; done {
			continue
		}
		if !t.CrossesOutbound() {
			continue
		}
		fspDN := directory.ForeignSecurityPrincipalDN(userSID, t.Domain.DN)
		r.searchDomain(ctx, t.Domain, fspDN, result)
		searched[key] = struct{}{}
	}

	return result.Groups()
}

// resolvePrimaryGroup resolves the membership expressed by the user's
// primaryGroupID attribute. The primary group never appears in `member`,
// so its SID is assembled from the domain SID plus the RID and looked up
// by objectSid.
func (r *DomainGroupResolver) resolvePrimaryGroup(ctx context.Context, home directory.Domain, userDN, userSID string, result *GroupSet) {
	entries, err := r.dir.Search(ctx, home, userDN, "(objectClass=*)",
		[]string{directory.AttrPrimaryGroupID})
	if err != nil || len(entries) == 0 {
		logger.DebugCtx(ctx, "primary group id read failed",
			logger.SID(userSID), logger.Err(err))
		return
	}

	rid, err := strconv.ParseUint(entries[0].First(directory.AttrPrimaryGroupID), 10, 32)
	if err != nil {
		return
	}

	domainSID := home.SID
	if domainSID == "" {
		domainSID = sid.DomainOf(userSID)
	}
	primarySID := sid.AppendRID(domainSID, uint32(rid))
	if primarySID == "" {
		return
	}

	filter := "(" + directory.AttrObjectSID + "=" + directory.EscapeFilter(primarySID) + ")"
	groups, err := r.dir.Search(ctx, home, home.DN, filter, groupAttrs)
	if err != nil || len(groups) == 0 {
		logger.DebugCtx(ctx, "primary group object not found",
			logger.SID(primarySID), logger.Err(err))
		return
	}
	result.Add(membershipFromEntry(groups[0]))
}

// searchDomain collects groups in one domain that contain memberDN
// directly, then runs a single nested-expansion pass through every group
// discovered so far.
func (r *DomainGroupResolver) searchDomain(ctx context.Context, d directory.Domain, memberDN string, result *GroupSet) {
	direct, err := r.searchByMembers(ctx, d, []string{memberDN})
	if err != nil {
		logger.WarnCtx(ctx, "domain group search failed, skipping domain",
			logger.Domain(d.Name), logger.Err(err))
		return
	}
	for _, g := range direct {
		result.Add(g)
	}

	seedDNs := make([]string, 0, result.Len())
	for _, g := range result.Groups() {
		if g.DistinguishedName != "" {
			seedDNs = append(seedDNs, g.DistinguishedName)
		}
	}
	if len(seedDNs) == 0 {
		return
	}

	nested, err := r.searchByMembers(ctx, d, seedDNs)
	if err != nil {
		logger.WarnCtx(ctx, "nested group search failed",
			logger.Domain(d.Name), logger.Err(err))
		return
	}
	for _, g := range nested {
		result.Add(g)
	}
}

// searchByMembers finds groups whose member attribute contains any of the
// given distinguished names.
func (r *DomainGroupResolver) searchByMembers(ctx context.Context, d directory.Domain, memberDNs []string) ([]GroupMembership, error) {
	var filter strings.Builder
	filter.WriteString("(&(objectCategory=group)")
	if len(memberDNs) == 1 {
		filter.WriteString("(" + directory.AttrMember + "=" + directory.EscapeFilter(memberDNs[0]) + ")")
	} else {
		filter.WriteString("(|")
		for _, dn := range memberDNs {
			filter.WriteString("(" + directory.AttrMember + "=" + directory.EscapeFilter(dn) + ")")
		}
		filter.WriteString(")")
	}
	filter.WriteString(")")

	entries, err := r.dir.Search(ctx, d, d.DN, filter.String(), groupAttrs)
	if err != nil {
		return nil, err
	}

	out := make([]GroupMembership, 0, len(entries))
	for _, e := range entries {
		m := membershipFromEntry(e)
		if m.SID == "" {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// membershipFromEntry converts a group search result, stripping any
// DOMAIN\ qualification so display names are host-domain-agnostic.
func membershipFromEntry(e directory.Entry) GroupMembership {
	name := e.First(directory.AttrSAMAccountName)
	if name == "" {
		name = e.First(directory.AttrCommonName)
	}
	if i := strings.LastIndexByte(name, '\\'); i >= 0 {
		name = name[i+1:]
	}
	return GroupMembership{
		SID:               e.First(directory.AttrObjectSID),
		Name:              name,
		DistinguishedName: e.DN,
	}
}
