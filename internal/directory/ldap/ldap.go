// Package ldap implements the directory boundary over LDAP against
// Active Directory domain controllers.
//
// Topology (forest membership, trust links) is declared in
// configuration rather than discovered: discovery needs rights the
// portal service account does not hold, and topology changes rarely.
// Searches run live against the configured domain controllers.
package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	ldapv3 "github.com/go-ldap/ldap/v3"

	"github.com/rapportd/rapport/internal/directory"
	"github.com/rapportd/rapport/internal/logger"
	"github.com/rapportd/rapport/pkg/auth/sid"
)

// Endpoint describes one reachable domain and how to dial it.
type Endpoint struct {
	Domain directory.Domain

	// Host is the domain controller, host or host:port.
	Host string

	// UseTLS dials ldaps (port 636 unless Host carries one).
	UseTLS bool
}

// Trust declares a trust link to an endpoint by domain name.
type Trust struct {
	Domain    string
	Direction directory.TrustDirection
}

// Config wires a Client.
type Config struct {
	BindUsername string
	BindPassword string

	Endpoints []Endpoint

	// Forest names the endpoints forming the home forest.
	Forest []string

	Trusts []Trust
}

// Client is a directory.Directory over LDAP.
//
// Connections are dialed per call: resolution traffic is a handful of
// searches per login, far below the rate where pooling would matter.
type Client struct {
	cfg    Config
	byName map[string]Endpoint
	forest []directory.Domain
	trusts []directory.Trust
}

// New validates the declared topology and builds a Client.
func New(cfg Config) (*Client, error) {
	byName := make(map[string]Endpoint, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		byName[strings.ToLower(ep.Domain.Name)] = ep
	}

	forest := make([]directory.Domain, 0, len(cfg.Forest))
	for _, name := range cfg.Forest {
		ep, ok := byName[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("forest domain %q has no endpoint", name)
		}
		forest = append(forest, ep.Domain)
	}

	trusts := make([]directory.Trust, 0, len(cfg.Trusts))
	for _, t := range cfg.Trusts {
		ep, ok := byName[strings.ToLower(t.Domain)]
		if !ok {
			return nil, fmt.Errorf("trusted domain %q has no endpoint", t.Domain)
		}
		trusts = append(trusts, directory.Trust{Domain: ep.Domain, Direction: t.Direction})
	}

	return &Client{
		cfg:    cfg,
		byName: byName,
		forest: forest,
		trusts: trusts,
	}, nil
}

// Probe checks reachability of the named domain's controller. An empty
// name addresses the local machine and always probes clean.
func (c *Client) Probe(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	ep, ok := c.byName[strings.ToLower(name)]
	if !ok {
		return directory.ErrNotFound
	}

	conn, err := c.dial(ctx, ep)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func (c *Client) DomainByName(ctx context.Context, name string) (directory.Domain, error) {
	if err := ctx.Err(); err != nil {
		return directory.Domain{}, err
	}
	ep, ok := c.byName[strings.ToLower(name)]
	if !ok {
		return directory.Domain{}, directory.ErrNotFound
	}
	return ep.Domain, nil
}

func (c *Client) ForestDomains(ctx context.Context, home directory.Domain) ([]directory.Domain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]directory.Domain, len(c.forest))
	copy(out, c.forest)
	return out, nil
}

func (c *Client) Trusts(ctx context.Context, home directory.Domain) ([]directory.Trust, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]directory.Trust, len(c.trusts))
	copy(out, c.trusts)
	return out, nil
}

// Search runs a subtree search under base against d's controller.
// A missing search base yields no entries rather than an error;
// connection failures surface as directory.ErrUnreachable so callers
// can tell outage from absence.
func (c *Client) Search(ctx context.Context, d directory.Domain, base, filter string, attrs []string) ([]directory.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ep, ok := c.byName[strings.ToLower(d.Name)]
	if !ok {
		return nil, directory.ErrNotFound
	}

	conn, err := c.dial(ctx, ep)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := ldapv3.NewSearchRequest(
		base,
		ldapv3.ScopeWholeSubtree,
		ldapv3.NeverDerefAliases,
		0, 0, false,
		filter,
		attrs,
		nil,
	)

	res, err := conn.Search(req)
	if err != nil {
		if ldapv3.IsErrorWithCode(err, ldapv3.LDAPResultNoSuchObject) {
			return nil, nil
		}
		if isNetworkError(err) {
			return nil, fmt.Errorf("%w: search %s: %v", directory.ErrUnreachable, d.Name, err)
		}
		return nil, fmt.Errorf("search %s under %s: %w", d.Name, base, err)
	}

	entries := make([]directory.Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		entries = append(entries, convertEntry(e))
	}
	logger.DebugCtx(ctx, "directory search",
		"domain", d.Name, "base", base, "entries", len(entries))
	return entries, nil
}

func (c *Client) dial(ctx context.Context, ep Endpoint) (*ldapv3.Conn, error) {
	url := "ldap://" + ep.Host
	var opts []ldapv3.DialOpt
	if ep.UseTLS {
		url = "ldaps://" + ep.Host
		opts = append(opts, ldapv3.DialWithTLSConfig(&tls.Config{
			ServerName: hostOnly(ep.Host),
		}))
	}

	conn, err := ldapv3.DialURL(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", directory.ErrUnreachable, ep.Domain.Name, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}

	if c.cfg.BindUsername != "" {
		if err := conn.Bind(c.cfg.BindUsername, c.cfg.BindPassword); err != nil {
			conn.Close()
			return nil, fmt.Errorf("bind to %s as %s: %w", ep.Domain.Name, c.cfg.BindUsername, err)
		}
	}
	return conn, nil
}

// convertEntry maps an LDAP entry onto the boundary type, decoding
// binary objectSid values into their string form.
func convertEntry(e *ldapv3.Entry) directory.Entry {
	attrs := make(map[string][]string, len(e.Attributes))
	for _, a := range e.Attributes {
		if strings.EqualFold(a.Name, directory.AttrObjectSID) {
			attrs[directory.AttrObjectSID] = decodeSIDValues(a)
			continue
		}
		attrs[a.Name] = a.Values
	}
	return directory.Entry{DN: e.DN, Attrs: attrs}
}

func decodeSIDValues(a *ldapv3.EntryAttribute) []string {
	out := make([]string, 0, len(a.ByteValues))
	for i, raw := range a.ByteValues {
		if s, _, err := sid.Decode(raw); err == nil {
			out = append(out, s.String())
			continue
		}
		// Some test directories store SIDs in string form already.
		if i < len(a.Values) && strings.HasPrefix(a.Values[i], "S-") {
			out = append(out, a.Values[i])
		}
	}
	return out
}

func isNetworkError(err error) bool {
	if ldapv3.IsErrorWithCode(err, ldapv3.ErrorNetwork) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
