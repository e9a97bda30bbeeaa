// Package kerberos implements the interactive-logon boundary against a
// domain KDC. A password is validated by running a full AS exchange
// (with pre-authentication) as the user; the KDC's error codes carry the
// same account-state distinctions the portal's failure taxonomy needs.
package kerberos

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/messages"

	"github.com/rapportd/rapport/internal/directory"
	"github.com/rapportd/rapport/internal/logger"
	"github.com/rapportd/rapport/internal/logon"
)

// EnvKrb5Conf overrides the krb5.conf path.
const EnvKrb5Conf = "RAPPORT_KERBEROS_KRB5CONF"

// Config holds Kerberos logon provider configuration.
type Config struct {
	// Krb5Conf is the path to krb5.conf. Defaults to /etc/krb5.conf;
	// the RAPPORT_KERBEROS_KRB5CONF environment variable takes
	// precedence over both.
	Krb5Conf string `mapstructure:"krb5_conf" yaml:"krb5_conf"`

	// DisablePAFXFAST turns off FAST negotiation. Required against
	// Active Directory KDCs that do not support FAST armoring.
	DisablePAFXFAST bool `mapstructure:"disable_pa_fx_fast" yaml:"disable_pa_fx_fast"`
}

// Provider validates domain credentials against the KDC for the user's
// realm and fills in the principal's directory attributes on success.
//
// Thread safety: all methods are safe for concurrent use; each logon runs
// with its own short-lived Kerberos client.
type Provider struct {
	conf            *krb5config.Config
	dir             directory.Directory
	disablePAFXFAST bool
}

// NewProvider loads krb5.conf and builds a Provider that resolves the
// authenticated principal through dir.
func NewProvider(cfg Config, dir directory.Directory) (*Provider, error) {
	path := cfg.Krb5Conf
	if env := os.Getenv(EnvKrb5Conf); env != "" {
		path = env
	}
	if path == "" {
		path = "/etc/krb5.conf"
	}

	krbCfg, err := krb5config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf %s: %w", path, err)
	}

	return &Provider{
		conf:            krbCfg,
		dir:             dir,
		disablePAFXFAST: cfg.DisablePAFXFAST,
	}, nil
}

// Logon runs an AS exchange as username@DOMAIN and, on success, resolves
// the principal's SID, display name and DN from the directory. The
// returned token's release destroys the Kerberos client session.
func (p *Provider) Logon(ctx context.Context, username, domain, password string) (*logon.Token, error) {
	if domain == "" {
		// Local targets are routed elsewhere; reaching this provider
		// without a domain is a dispatch error, not an outage.
		return nil, &logon.Error{Reason: logon.ReasonUnknown,
			Err: errors.New("kerberos logon requires a domain")}
	}

	realm := strings.ToUpper(domain)
	cl := krb5client.NewWithPassword(username, realm, password, p.conf,
		krb5client.DisablePAFXFAST(p.disablePAFXFAST))

	if err := cl.Login(); err != nil {
		cl.Destroy()
		return nil, translateKrbError(err)
	}

	entry, err := p.lookupPrincipal(ctx, username, domain)
	if err != nil {
		cl.Destroy()
		if errors.Is(err, directory.ErrNotFound) {
			// The KDC accepted the password but the account object is
			// not searchable; treat as a credential problem rather than
			// leaking directory detail.
			return nil, &logon.Error{Reason: logon.ReasonInvalidCredentials, Err: err}
		}
		return nil, &logon.Error{Reason: logon.ReasonDomainUnreachable, Err: err}
	}

	fullName := entry.First(directory.AttrDisplayName)
	token := logon.NewToken(
		entry.First(directory.AttrObjectSID),
		username,
		domain,
		fullName,
		nil,
		func() error {
			cl.Destroy()
			return nil
		},
	)
	return token, nil
}

// lookupPrincipal finds the account object for username in its home domain.
func (p *Provider) lookupPrincipal(ctx context.Context, username, domainName string) (directory.Entry, error) {
	dom, err := p.dir.DomainByName(ctx, domainName)
	if err != nil {
		return directory.Entry{}, err
	}

	filter := fmt.Sprintf("(&(objectCategory=person)(%s=%s))",
		directory.AttrSAMAccountName, directory.EscapeFilter(username))
	entries, err := p.dir.Search(ctx, dom, dom.DN, filter, []string{
		directory.AttrObjectSID,
		directory.AttrDisplayName,
		directory.AttrDistinguishedName,
	})
	if err != nil {
		return directory.Entry{}, err
	}
	if len(entries) == 0 {
		return directory.Entry{}, directory.ErrNotFound
	}
	return entries[0], nil
}

// kdcReasons maps KDC error codes onto the logon failure taxonomy.
var kdcReasons = map[int32]logon.Reason{
	errorcode.KDC_ERR_PREAUTH_FAILED:      logon.ReasonInvalidCredentials,
	errorcode.KDC_ERR_C_PRINCIPAL_UNKNOWN: logon.ReasonInvalidCredentials,
	errorcode.KDC_ERR_CLIENT_REVOKED:      logon.ReasonAccountDisabled,
	errorcode.KDC_ERR_KEY_EXPIRED:         logon.ReasonPasswordExpired,
	errorcode.KDC_ERR_POLICY:              logon.ReasonAccountRestricted,
	errorcode.KDC_ERR_CLIENT_NOTYET:       logon.ReasonLogonHours,
	errorcode.KDC_ERR_NEVER_VALID:         logon.ReasonLogonHours,
}

// translateKrbError maps a KDC rejection onto the logon failure taxonomy.
//
// gokrb5 sometimes flattens the KRBError into message text (krberror
// carries no wrapped cause), so a textual match on the error-code name is
// kept as a fallback behind errors.As.
func translateKrbError(err error) *logon.Error {
	var krbErr messages.KRBError
	if errors.As(err, &krbErr) {
		return kdcError(krbErr.ErrorCode, err)
	}

	text := err.Error()
	for code := range kdcReasons {
		if strings.Contains(text, errorcode.Lookup(code)) {
			return kdcError(code, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &logon.Error{Reason: logon.ReasonDomainUnreachable, Err: err}
	}
	// gokrb5 reports "no KDCs found" style failures without a typed cause.
	if strings.Contains(text, "KDCs") || strings.Contains(text, "resolving") {
		return &logon.Error{Reason: logon.ReasonDomainUnreachable, Err: err}
	}
	return &logon.Error{Reason: logon.ReasonUnknown, Err: err}
}

func kdcError(code int32, err error) *logon.Error {
	if reason, ok := kdcReasons[code]; ok {
		return &logon.Error{Reason: reason, Code: code, Err: err}
	}
	logger.Debug("unmapped KDC error code", "code", code)
	return &logon.Error{Reason: logon.ReasonUnknown, Code: code, Err: err}
}
