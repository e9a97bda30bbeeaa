package config

import (
	"fmt"

	"github.com/rapportd/rapport/internal/directory"
	ldapdir "github.com/rapportd/rapport/internal/directory/ldap"
	locallogon "github.com/rapportd/rapport/internal/logon/local"
)

// BuildDirectory converts the directory configuration into the LDAP
// directory client.
func (c *Config) BuildDirectory() (*ldapdir.Client, error) {
	cfg := ldapdir.Config{
		BindUsername: c.Directory.BindUsername,
		BindPassword: c.Directory.BindPassword,
		Forest:       c.Directory.Forest,
	}

	for _, d := range c.Directory.Domains {
		cfg.Endpoints = append(cfg.Endpoints, ldapdir.Endpoint{
			Domain: directory.Domain{Name: d.Name, DN: d.BaseDN, SID: d.SID},
			Host:   d.Host,
			UseTLS: d.UseTLS,
		})
	}

	for _, t := range c.Directory.Trusts {
		dir, err := parseTrustDirection(t.Direction)
		if err != nil {
			return nil, err
		}
		cfg.Trusts = append(cfg.Trusts, ldapdir.Trust{Domain: t.Domain, Direction: dir})
	}

	client, err := ldapdir.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid directory configuration: %w", err)
	}
	return client, nil
}

// BuildLocalDirectory converts the declared local accounts and groups
// into the machine-local directory.
func (c *Config) BuildLocalDirectory() *directory.StaticLocal {
	accounts := make([]directory.Account, 0, len(c.Local.Accounts))
	for _, a := range c.Local.Accounts {
		accounts = append(accounts, directory.Account{
			SID:      a.SID,
			Name:     a.Name,
			FullName: a.FullName,
		})
	}

	groups := make([]directory.LocalGroup, 0, len(c.Local.Groups))
	for _, g := range c.Local.Groups {
		groups = append(groups, directory.LocalGroup{
			SID:        g.SID,
			Name:       g.Name,
			MemberSIDs: g.Members,
		})
	}

	return directory.NewStaticLocal(c.Directory.MachineName, accounts, groups)
}

// BuildLocalAccounts converts the declared local accounts for the local
// logon provider.
func (c *Config) BuildLocalAccounts() []locallogon.Account {
	accounts := make([]locallogon.Account, 0, len(c.Local.Accounts))
	for _, a := range c.Local.Accounts {
		accounts = append(accounts, locallogon.Account{
			Name:         a.Name,
			SID:          a.SID,
			FullName:     a.FullName,
			PasswordHash: a.PasswordHash,
		})
	}
	return accounts
}

func parseTrustDirection(s string) (directory.TrustDirection, error) {
	switch s {
	case "inbound":
		return directory.TrustInbound, nil
	case "outbound":
		return directory.TrustOutbound, nil
	case "bidirectional":
		return directory.TrustBidirectional, nil
	default:
		return 0, fmt.Errorf("invalid trust direction %q", s)
	}
}
