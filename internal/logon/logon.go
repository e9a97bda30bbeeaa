// Package logon defines the boundary to the platform's interactive-logon
// facility: a Provider validates a username/password pair against a
// machine or domain and, on success, hands back an exclusively owned
// Token that must be released after identity derivation.
package logon

import (
	"context"
	"fmt"
	"sync"
)

// Reason classifies a logon rejection. The set is closed; platform error
// codes outside it surface as ReasonUnknown with the raw code attached.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonInvalidCredentials
	ReasonAccountRestricted
	ReasonLogonHours
	ReasonWorkstationRestricted
	ReasonPasswordExpired
	ReasonAccountDisabled
	ReasonPasswordChangeRequired
	ReasonDomainUnreachable
)

// String returns the machine-readable reason code.
func (r Reason) String() string {
	switch r {
	case ReasonInvalidCredentials:
		return "invalid_credentials"
	case ReasonAccountRestricted:
		return "account_restricted"
	case ReasonLogonHours:
		return "logon_hours_violation"
	case ReasonWorkstationRestricted:
		return "workstation_restricted"
	case ReasonPasswordExpired:
		return "password_expired"
	case ReasonAccountDisabled:
		return "account_disabled"
	case ReasonPasswordChangeRequired:
		return "password_change_required"
	case ReasonDomainUnreachable:
		return "domain_unreachable"
	default:
		return "unknown"
	}
}

// Error is a typed logon rejection.
type Error struct {
	Reason Reason

	// Code is the raw platform error code, when one exists.
	Code int32

	// Err is the underlying cause, if any. Never shown to end users.
	Err error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("logon failed: %s (code %d)", e.Reason, e.Code)
	}
	return fmt.Sprintf("logon failed: %s", e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TokenGroup is one group attached to a logon token by the platform.
type TokenGroup struct {
	SID  string
	Name string
}

// Token is the result of a successful logon. It wraps a platform resource
// handle: the caller owns it exclusively and must call Close exactly once,
// on every exit path, as soon as identity derivation is done. Tokens are
// never shared across requests or retained past a single resolution.
type Token struct {
	SID      string
	Username string
	Domain   string
	FullName string

	// Groups are the memberships the platform attached to the token.
	// They include injected pseudo-groups and are normalized during
	// identity resolution, never trusted as-is.
	Groups []TokenGroup

	releaseOnce sync.Once
	release     func() error
}

// NewToken builds a Token whose underlying resource is freed by release.
// A nil release is allowed for token sources with nothing to free.
func NewToken(sid, username, domain, fullName string, groups []TokenGroup, release func() error) *Token {
	return &Token{
		SID:      sid,
		Username: username,
		Domain:   domain,
		FullName: fullName,
		Groups:   groups,
		release:  release,
	}
}

// Close releases the underlying platform resource. Safe to call more than
// once; only the first call runs the release.
func (t *Token) Close() error {
	var err error
	t.releaseOnce.Do(func() {
		if t.release != nil {
			err = t.release()
		}
	})
	return err
}

// Provider performs an interactive logon. An empty domain targets the
// local machine. Implementations must be safe for concurrent use.
type Provider interface {
	Logon(ctx context.Context, username, domain, password string) (*Token, error)
}
