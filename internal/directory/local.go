package directory

import "context"

// LocalGroup is one local-machine group with its direct members.
type LocalGroup struct {
	SID  string
	Name string

	// MemberSIDs holds the SIDs of the group's direct members. Nested
	// domain groups appear here by their group SID.
	MemberSIDs []string
}

// Account is a local-machine account.
type Account struct {
	SID      string
	Name     string
	FullName string
}

// LocalDirectory is the boundary to the local machine's account database.
// Implementations must be safe for concurrent use.
type LocalDirectory interface {
	// MachineName returns the local machine name. Credentials whose
	// domain equals it (or is empty) are validated locally.
	MachineName() string

	// Groups enumerates every local group with its direct members.
	Groups(ctx context.Context) ([]LocalGroup, error)

	// LookupAccount finds a local account by name. Returns ErrNotFound
	// when no such account exists.
	LookupAccount(ctx context.Context, name string) (Account, error)
}
