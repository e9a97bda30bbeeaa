package directory

import (
	"context"
	"strings"
)

// StaticLocal is a LocalDirectory backed by declared accounts and
// groups. The portal host carries no real account database; local
// principals are declared in configuration instead.
type StaticLocal struct {
	machine  string
	groups   []LocalGroup
	accounts map[string]Account
}

// NewStaticLocal builds a StaticLocal. Account lookup is
// case-insensitive on the account name.
func NewStaticLocal(machine string, accounts []Account, groups []LocalGroup) *StaticLocal {
	byName := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		byName[strings.ToLower(a.Name)] = a
	}
	return &StaticLocal{
		machine:  machine,
		groups:   groups,
		accounts: byName,
	}
}

func (s *StaticLocal) MachineName() string {
	return s.machine
}

func (s *StaticLocal) Groups(ctx context.Context) ([]LocalGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]LocalGroup, len(s.groups))
	copy(out, s.groups)
	return out, nil
}

func (s *StaticLocal) LookupAccount(ctx context.Context, name string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	acct, ok := s.accounts[strings.ToLower(name)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}
