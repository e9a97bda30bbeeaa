// Package session is the decision layer between the HTTP boundary and
// identity resolution: should a request be treated as anonymous, should
// a write-capable ticket be issued, and is a presented ticket still
// good.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rapportd/rapport/internal/logon"
	"github.com/rapportd/rapport/pkg/auth/sid"
	"github.com/rapportd/rapport/pkg/identity"
	"github.com/rapportd/rapport/pkg/ticket"
)

// AnonymousMode gates anonymous session issuance.
type AnonymousMode string

const (
	// AnonymousAlways makes every request anonymous regardless of
	// credentials; no logon is ever attempted.
	AnonymousAlways AnonymousMode = "always"
	// AnonymousAllow grants anonymous sessions only to the reserved
	// anonymous account names.
	AnonymousAllow AnonymousMode = "allow"
	// AnonymousNever disables anonymous sessions entirely.
	AnonymousNever AnonymousMode = "never"
)

// ParseAnonymousMode validates a configured anonymous-mode string.
func ParseAnonymousMode(s string) (AnonymousMode, error) {
	switch m := AnonymousMode(strings.ToLower(strings.TrimSpace(s))); m {
	case AnonymousAlways, AnonymousAllow, AnonymousNever:
		return m, nil
	default:
		return "", fmt.Errorf("invalid anonymous mode %q (want always, allow or never)", s)
	}
}

// ErrAnonymousDisabled rejects an anonymous login attempt under
// AnonymousNever.
var ErrAnonymousDisabled = errors.New("anonymous access is disabled")

// ErrNotAuthenticated is returned by Reissue when the session does not
// carry an authenticated principal.
var ErrNotAuthenticated = errors.New("session is not authenticated")

// State is the per-request session outcome.
type State int

const (
	// StateNone covers both "no ticket presented" and "ticket expired":
	// the two are deliberately indistinguishable to callers.
	StateNone State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "none"
	}
}

// Session is the evaluated state of one inbound request.
type Session struct {
	State        State
	Identity     *identity.UserIdentity
	WriteCapable bool
	Reference    *ticket.Reference
}

// CredentialValidator validates a credential against the logon
// facility. Satisfied by *identity.Validator.
type CredentialValidator interface {
	Validate(ctx context.Context, cred identity.Credential) (*logon.Token, error)
}

// IdentityResolver derives canonical identities. Satisfied by
// *identity.Resolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, token *logon.Token) (*identity.UserIdentity, error)
	ResolveByName(ctx context.Context, username, domain string) (*identity.UserIdentity, error)
}

// Policy drives the per-request state machine
//
//	NoTicket -> Anonymous | Authenticated(writeCapable) -> Expired(= NoTicket)
//
// and decides ticket issuance at login.
//
// Thread safety: safe for concurrent use.
type Policy struct {
	codec     *ticket.Codec
	validator CredentialValidator
	resolver  IdentityResolver
	mode      AnonymousMode

	now func() time.Time
}

// NewPolicy wires a Policy.
func NewPolicy(codec *ticket.Codec, validator CredentialValidator, resolver IdentityResolver, mode AnonymousMode) *Policy {
	return &Policy{
		codec:     codec,
		validator: validator,
		resolver:  resolver,
		mode:      mode,
		now:       time.Now,
	}
}

// Login turns a submitted credential into an identity and a sealed
// session ticket. Write capability is an explicit request made here at
// issuance time, never inferred from the identity.
//
// Under AnonymousAlways the credential is ignored outright; under
// AnonymousAllow the reserved anonymous account names bypass logon.
// Both checks run before any logon attempt.
func (p *Policy) Login(ctx context.Context, cred identity.Credential, writeCapable bool) (*identity.UserIdentity, *ticket.SessionTicket, error) {
	if p.mode == AnonymousAlways {
		return p.anonymousGrant()
	}
	if identity.IsAnonymousAccount(cred.Username) {
		if p.mode == AnonymousAllow {
			return p.anonymousGrant()
		}
		return nil, nil, ErrAnonymousDisabled
	}

	token, err := p.validator.Validate(ctx, cred)
	if err != nil {
		return nil, nil, err
	}
	defer token.Close()

	id, err := p.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	tk, err := p.codec.Issue(id, writeCapable)
	if err != nil {
		return nil, nil, err
	}
	if writeCapable {
		id = id.WithWriteAccess(true)
	}
	return id, tk, nil
}

// Reissue seals a fresh ticket for an already-evaluated authenticated
// session, preserving its write capability. Evaluation re-resolved the
// identity, so the new ticket reflects the principal as it exists now.
func (p *Policy) Reissue(sess *Session) (*ticket.SessionTicket, error) {
	if sess == nil || sess.State != StateAuthenticated {
		return nil, ErrNotAuthenticated
	}
	return p.codec.Issue(sess.Identity, sess.WriteCapable)
}

func (p *Policy) anonymousGrant() (*identity.UserIdentity, *ticket.SessionTicket, error) {
	id := identity.Anonymous()
	tk, err := p.codec.Issue(id, false)
	if err != nil {
		return nil, nil, err
	}
	return id, tk, nil
}

// Evaluate maps a presented raw ticket onto a Session. A missing,
// malformed, tampered, or expired ticket all land in StateNone; the
// caller cannot tell which, and that is intentional.
//
// The identity behind an authenticated ticket is re-resolved on every
// evaluation (live or via cache), memoized per request when the context
// carries a request scope.
func (p *Policy) Evaluate(ctx context.Context, raw string) (*Session, error) {
	if p.mode == AnonymousAlways {
		return &Session{State: StateAnonymous, Identity: identity.Anonymous()}, nil
	}

	ref := p.codec.Decode(raw)
	if ref == nil || ref.Expired(p.now()) {
		return &Session{State: StateNone}, nil
	}

	if ref.SID == sid.PortalAnonymous || identity.IsAnonymousAccount(ref.Username) {
		if p.mode == AnonymousNever {
			return &Session{State: StateNone}, nil
		}
		return &Session{State: StateAnonymous, Identity: identity.Anonymous(), Reference: ref}, nil
	}

	id, err := p.resolveMemoized(ctx, ref)
	if err != nil {
		return nil, err
	}
	if id == nil {
		// The principal behind the ticket no longer exists.
		return &Session{State: StateNone}, nil
	}
	if ref.WriteCapable {
		id = id.WithWriteAccess(true)
	}

	return &Session{
		State:        StateAuthenticated,
		Identity:     id,
		WriteCapable: ref.WriteCapable,
		Reference:    ref,
	}, nil
}
