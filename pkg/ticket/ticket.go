// Package ticket issues and validates opaque, time-bounded session
// tickets.
//
// A ticket is a sealed reference to a resolved identity, not a cache of
// it: the ticket carries the SID and account name needed to re-resolve
// the identity, and never the group list. Group membership is always
// re-derived on each use.
package ticket

import "time"

// Issuance lifetimes. Write-capable tickets are deliberately
// short-lived to bound the blast radius of a leaked elevated ticket.
const (
	StandardTTL = 60 * time.Second
	WriteTTL    = 5 * time.Minute
)

// SessionTicket is an issued ticket together with its sealed wire form.
type SessionTicket struct {
	Version      uint8
	Subject      string
	SID          string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	WriteCapable bool

	// Opaque is the sealed, base64url wire form handed to the client.
	// It is produced only by a Codec and is meaningless anywhere else.
	Opaque string
}

// Reference is the decoded content of a presented ticket.
type Reference struct {
	SID          string
	Username     string
	Domain       string
	WriteCapable bool
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Subject returns the qualified account name the ticket was issued for.
// Principals without a domain render as the bare account name.
func (r *Reference) Subject() string {
	if r.Domain == "" {
		return r.Username
	}
	return r.Domain + `\` + r.Username
}

// Expired reports whether the reference has expired at now. ExpiresAt
// is an exclusive upper bound: a ticket inspected at exactly ExpiresAt
// is already expired.
func (r *Reference) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
