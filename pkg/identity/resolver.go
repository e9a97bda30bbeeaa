package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rapportd/rapport/internal/directory"
	"github.com/rapportd/rapport/internal/logger"
	"github.com/rapportd/rapport/internal/logon"
	"github.com/rapportd/rapport/pkg/auth/sid"
	"github.com/rapportd/rapport/pkg/metrics"
)

// Resolver composes the local and domain group resolvers into canonical
// UserIdentity values, with write-through caching and stale-tolerant
// fallback when the directory is unreachable.
//
// Thread safety: safe for concurrent use. The cache is shared across
// requests; writes are serialized, reads are not.
type Resolver struct {
	dir            directory.Directory
	local          directory.LocalDirectory
	domainResolver *DomainGroupResolver
	localResolver  *LocalGroupResolver
	catalog        *GroupCatalog

	// cache is nil when identity caching is disabled.
	cache       Cache
	cacheMaxAge time.Duration

	stats *metrics.AuthMetrics

	writeMu sync.Mutex
}

// NewResolver wires a Resolver. cache may be nil (caching disabled);
// cacheMaxAge is the staleness budget for fast-path cache reads.
func NewResolver(dir directory.Directory, local directory.LocalDirectory, catalog *GroupCatalog, cache Cache, cacheMaxAge time.Duration) *Resolver {
	return &Resolver{
		dir:            dir,
		local:          local,
		domainResolver: NewDomainGroupResolver(dir),
		localResolver:  NewLocalGroupResolver(local, catalog),
		catalog:        catalog,
		cache:          cache,
		cacheMaxAge:    cacheMaxAge,
	}
}

// WithMetrics attaches resolution metrics. A nil value is accepted and
// records nothing.
func (r *Resolver) WithMetrics(m *metrics.AuthMetrics) *Resolver {
	r.stats = m
	return r
}

// Resolve derives an identity from a live logon token (path A). The token
// remains owned by the caller; Resolve never retains or releases it.
//
// The implicit BUILTIN\Users membership the logon facility always injects
// is stripped and true local Users/Administrators membership re-derived
// by SID check, so the token path and the directory-lookup path agree for
// the same real-world user.
//
// Tokens without group attribution (a Kerberos AS exchange carries no
// PAC) are re-derived through the directory instead: trusting such a
// token alone would drop every domain membership and then cache the
// truncated record for the whole staleness budget.
func (r *Resolver) Resolve(ctx context.Context, token *logon.Token) (*UserIdentity, error) {
	start := time.Now()
	if token == nil {
		return nil, errors.New("nil logon token")
	}
	if IsAnonymousAccount(token.Username) {
		return Anonymous(), nil
	}
	if token.SID == "" {
		return nil, errors.New("logon token carries no SID")
	}

	if len(token.Groups) == 0 {
		id, err := r.resolveTokenPrincipal(ctx, token)
		if err != nil {
			r.stats.RecordResolution("token", "error", time.Since(start))
			return nil, err
		}
		if id != nil {
			r.writeThrough(ctx, id)
			r.stats.RecordResolution("token", "success", time.Since(start))
			return id, nil
		}
		// The authority accepted the principal but the directory cannot
		// see it. Continue with the token-only derivation below, keeping
		// the partial result out of the cache.
	}

	fullName := token.FullName
	if fullName == "" {
		// Best effort only; the display name is cosmetic.
		if acct, err := r.local.LookupAccount(ctx, token.Username); err == nil && acct.FullName != "" {
			fullName = acct.FullName
		} else {
			fullName = token.Username
		}
	}

	groups := NewGroupSet()
	for _, g := range token.Groups {
		groups.Add(GroupMembership{SID: g.SID, Name: stripDomainPrefix(g.Name)})
	}

	// The injected Users membership is present on every token regardless
	// of actual membership and cannot be trusted.
	groups.Remove(sid.BuiltinUsers)
	r.addBuiltinMemberships(ctx, token.SID, groups)

	r.catalog.Normalize(groups)

	id := &UserIdentity{
		SID:      token.SID,
		Username: token.Username,
		Domain:   r.domainOrMachine(token.Domain),
		FullName: fullName,
		Groups:   groups.Groups(),
	}
	if len(token.Groups) > 0 {
		r.writeThrough(ctx, id)
	}
	r.stats.RecordResolution("token", "success", time.Since(start))
	return id, nil
}

// resolveTokenPrincipal re-derives complete group membership for a token
// that carries no group attribution, using the same directory machinery
// as the name path. Returns (nil, nil) when the directory cannot locate
// the principal.
func (r *Resolver) resolveTokenPrincipal(ctx context.Context, token *logon.Token) (*UserIdentity, error) {
	var (
		id  *UserIdentity
		err error
	)
	if r.isDomainTarget(token.Domain) {
		id, err = r.resolveDomainPrincipal(ctx, token.Username, token.Domain)
	} else {
		id, err = r.resolveLocalPrincipal(ctx, token.Username)
	}
	if err != nil {
		if r.cache != nil && isConnectivityError(err) {
			rec, cerr := r.cache.GetByName(ctx, token.Username, r.domainOrMachine(token.Domain), 0)
			if cerr == nil && rec != nil {
				logger.InfoCtx(ctx, "directory unreachable, serving cached identity",
					logger.Username(token.Username), logger.Domain(token.Domain))
				stale := rec.Identity
				return &stale, nil
			}
		}
		return nil, err
	}
	return id, nil
}

// ResolveByName locates a principal by account name and re-derives its
// full identity (path B, used when re-resolving from a decoded ticket).
// Returns (nil, nil) when the principal does not exist.
//
// When caching is enabled a fresh-enough cache entry always wins over a
// live directory resolution. A live resolution that fails with a
// connectivity-class error falls back to the cache with an unbounded
// staleness budget: availability is preferred over freshness on that
// path only.
func (r *Resolver) ResolveByName(ctx context.Context, username, domain string) (*UserIdentity, error) {
	start := time.Now()
	if IsAnonymousAccount(username) {
		return Anonymous(), nil
	}

	if r.cache != nil {
		rec, err := r.cache.GetByName(ctx, username, domain, r.cacheMaxAge)
		if err != nil {
			logger.WarnCtx(ctx, "identity cache read failed", logger.Username(username), logger.Err(err))
		} else if rec != nil {
			r.stats.RecordCacheHit()
			id := rec.Identity
			return &id, nil
		}
		r.stats.RecordCacheMiss()
	}

	var (
		id  *UserIdentity
		err error
	)
	if r.isDomainTarget(domain) {
		id, err = r.resolveDomainPrincipal(ctx, username, domain)
	} else {
		id, err = r.resolveLocalPrincipal(ctx, username)
	}

	if err != nil {
		if r.cache != nil && isConnectivityError(err) {
			rec, cerr := r.cache.GetByName(ctx, username, domain, 0)
			if cerr == nil && rec != nil {
				logger.InfoCtx(ctx, "directory unreachable, serving cached identity",
					logger.Username(username), logger.Domain(domain))
				r.stats.RecordResolution("name", "stale_cache", time.Since(start))
				stale := rec.Identity
				return &stale, nil
			}
		}
		r.stats.RecordResolution("name", "error", time.Since(start))
		return nil, err
	}
	if id == nil {
		r.stats.RecordResolution("name", "not_found", time.Since(start))
		return nil, nil
	}

	r.writeThrough(ctx, id)
	r.stats.RecordResolution("name", "success", time.Since(start))
	return id, nil
}

// resolveDomainPrincipal locates a domain account via a directory search
// (not a direct identity fetch, which is considerably slower) and
// composes domain-wide plus local group membership.
func (r *Resolver) resolveDomainPrincipal(ctx context.Context, username, domain string) (*UserIdentity, error) {
	dom, err := r.dir.DomainByName(ctx, domain)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("domain lookup %s: %w", domain, err)
	}

	filter := fmt.Sprintf("(&(objectCategory=person)(%s=%s))",
		directory.AttrSAMAccountName, directory.EscapeFilter(username))
	entries, err := r.dir.Search(ctx, dom, dom.DN, filter, []string{
		directory.AttrObjectSID,
		directory.AttrDisplayName,
		directory.AttrCanonicalName,
	})
	if err != nil {
		return nil, fmt.Errorf("principal search %s\\%s: %w", domain, username, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	entry := entries[0]
	userSID := entry.First(directory.AttrObjectSID)
	if userSID == "" {
		return nil, nil
	}

	canonical := entry.First(directory.AttrCanonicalName)
	if canonical == "" {
		canonical = dom.Name
	}

	domainGroups := r.domainResolver.ResolveDomainWide(ctx, entry.DN, userSID, canonical)

	seeds := make([]string, 0, len(domainGroups))
	for _, g := range domainGroups {
		seeds = append(seeds, g.SID)
	}
	localGroups := r.localResolver.ResolveLocal(ctx, userSID, seeds)

	groups := NewGroupSet()
	groups.AddAll(domainGroups)
	groups.AddAll(localGroups)
	r.catalog.Normalize(groups)

	fullName := entry.First(directory.AttrDisplayName)
	if fullName == "" {
		fullName = username
	}

	return &UserIdentity{
		SID:      userSID,
		Username: username,
		Domain:   domain,
		FullName: fullName,
		Groups:   groups.Groups(),
	}, nil
}

// resolveLocalPrincipal resolves a machine-local account.
func (r *Resolver) resolveLocalPrincipal(ctx context.Context, username string) (*UserIdentity, error) {
	acct, err := r.local.LookupAccount(ctx, username)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("local account lookup %s: %w", username, err)
	}

	groups := NewGroupSet()
	groups.AddAll(r.localResolver.ResolveLocal(ctx, acct.SID, nil))
	r.catalog.Normalize(groups)

	fullName := acct.FullName
	if fullName == "" {
		fullName = acct.Name
	}

	return &UserIdentity{
		SID:      acct.SID,
		Username: acct.Name,
		Domain:   r.local.MachineName(),
		FullName: fullName,
		Groups:   groups.Groups(),
	}, nil
}

// addBuiltinMemberships re-derives true BUILTIN\Users and
// BUILTIN\Administrators membership by direct SID check against the
// local account database.
func (r *Resolver) addBuiltinMemberships(ctx context.Context, userSID string, groups *GroupSet) {
	localGroups, err := r.local.Groups(ctx)
	if err != nil {
		logger.DebugCtx(ctx, "builtin membership check failed", logger.SID(userSID), logger.Err(err))
		return
	}

	known := make(map[string]struct{}, groups.Len())
	for _, s := range groups.SIDs() {
		known[s] = struct{}{}
	}

	for _, g := range localGroups {
		if g.SID != sid.BuiltinUsers && g.SID != sid.BuiltinAdministrators {
			continue
		}
		if containsMember(g, userSID, known) {
			groups.Add(GroupMembership{SID: g.SID, Name: g.Name})
		}
	}
}

// writeThrough upserts a successfully resolved identity into the cache.
// Resolver is the cache's sole writer; writes are serialized, and a
// failed write only costs the next reader a live resolution.
func (r *Resolver) writeThrough(ctx context.Context, id *UserIdentity) {
	if r.cache == nil || id.IsAnonymous() {
		return
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.cache.Put(ctx, id); err != nil {
		logger.WarnCtx(ctx, "identity cache write failed", logger.SID(id.SID), logger.Err(err))
	}
}

func (r *Resolver) isDomainTarget(domain string) bool {
	return domain != "" && !strings.EqualFold(domain, r.local.MachineName())
}

func (r *Resolver) domainOrMachine(domain string) string {
	if domain == "" {
		return r.local.MachineName()
	}
	return domain
}

func isConnectivityError(err error) bool {
	return errors.Is(err, directory.ErrUnreachable)
}

func stripDomainPrefix(name string) string {
	if i := strings.LastIndexByte(name, '\\'); i >= 0 {
		return name[i+1:]
	}
	return name
}
