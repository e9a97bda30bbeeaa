package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/rapportd/rapport/internal/directory"
	"github.com/rapportd/rapport/internal/logger"
	"github.com/rapportd/rapport/internal/logon"
)

// Validator checks a credential against the platform logon facility and
// translates platform failures into the closed logon.Reason taxonomy.
//
// The returned token is exclusively owned by the caller, who must Close
// it on every exit path as soon as identity derivation is done.
type Validator struct {
	provider     logon.Provider
	dir          directory.Directory
	local        directory.LocalDirectory
	cacheEnabled bool
}

// NewValidator builds a Validator. cacheEnabled mirrors the identity
// cache configuration: with no cache to fall back on, a reachability
// probe runs before every logon so a success cannot strand the caller in
// a resolution step that is guaranteed to fail.
func NewValidator(provider logon.Provider, dir directory.Directory, local directory.LocalDirectory, cacheEnabled bool) *Validator {
	return &Validator{
		provider:     provider,
		dir:          dir,
		local:        local,
		cacheEnabled: cacheEnabled,
	}
}

// Validate performs an interactive logon for cred. On rejection the
// returned error is a *logon.Error carrying a machine-readable reason
// code; raw platform error strings never surface past it.
func (v *Validator) Validate(ctx context.Context, cred Credential) (*logon.Token, error) {
	domain := cred.Domain
	if v.isLocalTarget(domain) {
		domain = ""
	}

	if !v.cacheEnabled {
		if err := v.dir.Probe(ctx, domain); err != nil {
			logger.DebugCtx(ctx, "logon target unreachable before logon attempt",
				"domain", domain, "error", err)
			return nil, &logon.Error{Reason: logon.ReasonDomainUnreachable, Err: err}
		}
	}

	token, err := v.provider.Logon(ctx, cred.Username, domain, cred.Password)
	if err == nil {
		return token, nil
	}

	var lerr *logon.Error
	if !errors.As(err, &lerr) {
		lerr = &logon.Error{Reason: logon.ReasonUnknown, Err: err}
	}

	// "Wrong password" and "no such domain" are indistinguishable at the
	// logon primitive. When the target was a domain, re-check that it
	// exists at all so the caller can tell the two apart.
	if lerr.Reason == logon.ReasonInvalidCredentials && domain != "" {
		if _, derr := v.dir.DomainByName(ctx, domain); derr != nil {
			if errors.Is(derr, directory.ErrNotFound) || errors.Is(derr, directory.ErrUnreachable) {
				return nil, &logon.Error{Reason: logon.ReasonDomainUnreachable, Err: derr}
			}
		}
	}

	return nil, lerr
}

// isLocalTarget reports whether domain addresses the local machine.
func (v *Validator) isLocalTarget(domain string) bool {
	if domain == "" {
		return true
	}
	return strings.EqualFold(domain, v.local.MachineName())
}

// FailureReason extracts the logon failure reason from an error returned
// by Validate. Unknown error shapes map to logon.ReasonUnknown.
func FailureReason(err error) logon.Reason {
	var lerr *logon.Error
	if errors.As(err, &lerr) {
		return lerr.Reason
	}
	return logon.ReasonUnknown
}
