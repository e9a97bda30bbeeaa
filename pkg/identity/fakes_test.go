package identity

import (
	"context"
	"strings"
	"time"

	"github.com/rapportd/rapport/internal/directory"
	"github.com/rapportd/rapport/internal/logon"
)

// fakeDirectory is a scriptable directory.Directory for tests.
type fakeDirectory struct {
	domains     map[string]directory.Domain
	forest      map[string][]directory.Domain
	trusts      map[string][]directory.Trust
	unreachable map[string]bool

	// searchFn handles Search calls; searches land in searchLog either way.
	searchFn  func(d directory.Domain, base, filter string, attrs []string) ([]directory.Entry, error)
	searchLog []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		domains:     map[string]directory.Domain{},
		forest:      map[string][]directory.Domain{},
		trusts:      map[string][]directory.Trust{},
		unreachable: map[string]bool{},
	}
}

func (f *fakeDirectory) addDomain(d directory.Domain) {
	f.domains[strings.ToLower(d.Name)] = d
}

func (f *fakeDirectory) Probe(ctx context.Context, name string) error {
	if f.unreachable[strings.ToLower(name)] {
		return directory.ErrUnreachable
	}
	return nil
}

func (f *fakeDirectory) DomainByName(ctx context.Context, name string) (directory.Domain, error) {
	if f.unreachable[strings.ToLower(name)] {
		return directory.Domain{}, directory.ErrUnreachable
	}
	d, ok := f.domains[strings.ToLower(name)]
	if !ok {
		return directory.Domain{}, directory.ErrNotFound
	}
	return d, nil
}

func (f *fakeDirectory) ForestDomains(ctx context.Context, home directory.Domain) ([]directory.Domain, error) {
	return f.forest[strings.ToLower(home.Name)], nil
}

func (f *fakeDirectory) Trusts(ctx context.Context, home directory.Domain) ([]directory.Trust, error) {
	return f.trusts[strings.ToLower(home.Name)], nil
}

func (f *fakeDirectory) Search(ctx context.Context, d directory.Domain, base, filter string, attrs []string) ([]directory.Entry, error) {
	f.searchLog = append(f.searchLog, d.Name+"|"+base+"|"+filter)
	if f.unreachable[strings.ToLower(d.Name)] {
		return nil, directory.ErrUnreachable
	}
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(d, base, filter, attrs)
}

// fakeLocal is a scriptable directory.LocalDirectory.
type fakeLocal struct {
	machine   string
	groups    []directory.LocalGroup
	groupsErr error
	accounts  map[string]directory.Account
}

func newFakeLocal(machine string) *fakeLocal {
	return &fakeLocal{machine: machine, accounts: map[string]directory.Account{}}
}

func (f *fakeLocal) MachineName() string { return f.machine }

func (f *fakeLocal) Groups(ctx context.Context) ([]directory.LocalGroup, error) {
	if f.groupsErr != nil {
		return nil, f.groupsErr
	}
	return f.groups, nil
}

func (f *fakeLocal) LookupAccount(ctx context.Context, name string) (directory.Account, error) {
	acct, ok := f.accounts[strings.ToLower(name)]
	if !ok {
		return directory.Account{}, directory.ErrNotFound
	}
	return acct, nil
}

// fakeLogon is a scriptable logon.Provider that records release calls.
type fakeLogon struct {
	fn       func(username, domain, password string) (*logon.Token, error)
	attempts int
}

func (f *fakeLogon) Logon(ctx context.Context, username, domain, password string) (*logon.Token, error) {
	f.attempts++
	return f.fn(username, domain, password)
}

// groupEntry builds a directory group entry for search results.
func groupEntry(dn, name, sidStr string) directory.Entry {
	return directory.Entry{
		DN: dn,
		Attrs: map[string][]string{
			directory.AttrSAMAccountName: {name},
			directory.AttrObjectSID:      {sidStr},
		},
	}
}

// memoryCache is an in-memory identity.Cache for resolver tests.
type memoryCache struct {
	records map[string]*CachedRecord
	puts    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{records: map[string]*CachedRecord{}}
}

func nameKey(username, domain string) string {
	return strings.ToLower(domain) + "\\" + strings.ToLower(username)
}

func (m *memoryCache) GetBySID(ctx context.Context, sidStr string, maxAge time.Duration) (*CachedRecord, error) {
	rec, ok := m.records[sidStr]
	if !ok || rec.Stale(time.Now(), maxAge) {
		return nil, nil
	}
	return rec, nil
}

func (m *memoryCache) GetByName(ctx context.Context, username, domain string, maxAge time.Duration) (*CachedRecord, error) {
	rec, ok := m.records[nameKey(username, domain)]
	if !ok || rec.Stale(time.Now(), maxAge) {
		return nil, nil
	}
	return rec, nil
}

func (m *memoryCache) Put(ctx context.Context, id *UserIdentity) error {
	m.puts++
	rec := &CachedRecord{Identity: *id, RefreshedAt: time.Now()}
	m.records[id.SID] = rec
	m.records[nameKey(id.Username, id.Domain)] = rec
	return nil
}
