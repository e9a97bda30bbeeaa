package logon

import (
	"context"
	"errors"
)

// Mux routes logons by target: an empty domain addresses the local
// machine and goes to Local, anything else goes to Domain. Either
// provider may be nil when the deployment has no such accounts.
type Mux struct {
	Local  Provider
	Domain Provider
}

// Logon dispatches to the provider for the credential's target.
func (m Mux) Logon(ctx context.Context, username, domain, password string) (*Token, error) {
	if domain == "" {
		if m.Local == nil {
			return nil, &Error{Reason: ReasonInvalidCredentials,
				Err: errors.New("no local accounts are declared")}
		}
		return m.Local.Logon(ctx, username, domain, password)
	}
	if m.Domain == nil {
		return nil, &Error{Reason: ReasonDomainUnreachable,
			Err: errors.New("no domain logon provider is configured")}
	}
	return m.Domain.Logon(ctx, username, domain, password)
}
