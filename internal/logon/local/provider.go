// Package local implements the interactive-logon boundary for
// machine-local accounts. The portal host carries no real SAM database;
// accounts are declared in configuration with bcrypt password hashes and
// validated in-process.
package local

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/rapportd/rapport/internal/directory"
	"github.com/rapportd/rapport/internal/logon"
)

// Account declares one local principal the provider can log on.
type Account struct {
	Name     string
	SID      string
	FullName string

	// PasswordHash is a bcrypt hash. An account without one still
	// resolves through the directory but cannot log on interactively.
	PasswordHash string
}

// Provider validates local credentials against the declared accounts and
// attaches the account's direct local group memberships to the token.
//
// Thread safety: safe for concurrent use; state is immutable after
// construction.
type Provider struct {
	local    directory.LocalDirectory
	accounts map[string]Account
}

// NewProvider builds a Provider over the declared accounts. Account
// names are matched case-insensitively.
func NewProvider(local directory.LocalDirectory, accounts []Account) *Provider {
	m := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		m[strings.ToLower(a.Name)] = a
	}
	return &Provider{local: local, accounts: m}
}

// Logon validates username and password against the declared accounts.
// The domain argument is ignored; routing has already established the
// local machine as the target. The returned token carries the account's
// direct local group memberships and holds no platform resource.
func (p *Provider) Logon(ctx context.Context, username, domain, password string) (*logon.Token, error) {
	acct, ok := p.accounts[strings.ToLower(username)]
	if !ok {
		return nil, &logon.Error{Reason: logon.ReasonInvalidCredentials,
			Err: fmt.Errorf("unknown local account %q", username)}
	}
	if acct.PasswordHash == "" {
		return nil, &logon.Error{Reason: logon.ReasonAccountRestricted,
			Err: fmt.Errorf("local account %q has no password set", username)}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, &logon.Error{Reason: logon.ReasonInvalidCredentials, Err: err}
	}

	return logon.NewToken(acct.SID, acct.Name, "", acct.FullName, p.tokenGroups(ctx, acct.SID), nil), nil
}

// tokenGroups collects the direct local group memberships for sid. Group
// enumeration failures degrade to an unattributed token; resolution
// re-derives membership from the directory in that case.
func (p *Provider) tokenGroups(ctx context.Context, sid string) []logon.TokenGroup {
	groups, err := p.local.Groups(ctx)
	if err != nil {
		return nil
	}

	var out []logon.TokenGroup
	for _, g := range groups {
		for _, m := range g.MemberSIDs {
			if m == sid {
				out = append(out, logon.TokenGroup{SID: g.SID, Name: g.Name})
				break
			}
		}
	}
	return out
}
