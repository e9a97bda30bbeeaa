package sid

// Well-known SID strings for the security principals the portal cares
// about. Kept as strings because group sets are keyed by SID string.
const (
	// Everyone is the World SID: S-1-1-0. Always part of a resolved
	// identity's group set.
	Everyone = "S-1-1-0"

	// AuthenticatedUsers is NT AUTHORITY\Authenticated Users: S-1-5-11.
	// Always part of a resolved identity's group set.
	AuthenticatedUsers = "S-1-5-11"

	// AnonymousLogon is NT AUTHORITY\ANONYMOUS LOGON: S-1-5-7.
	AnonymousLogon = "S-1-5-7"

	// Dialup, Network, Batch, Interactive and Service are logon-type
	// pseudo-groups injected by the platform; they never belong in a
	// resolved group set.
	Dialup      = "S-1-5-1"
	Network     = "S-1-5-2"
	Batch       = "S-1-5-3"
	Interactive = "S-1-5-4"
	Service     = "S-1-5-6"

	// BuiltinUsers is BUILTIN\Users: S-1-5-32-545. Logon tokens always
	// carry it regardless of actual membership, so it is stripped and
	// re-derived explicitly.
	BuiltinUsers = "S-1-5-32-545"

	// BuiltinAdministrators is BUILTIN\Administrators: S-1-5-32-544.
	BuiltinAdministrators = "S-1-5-32-544"

	// RemoteDesktopUsers is BUILTIN\Remote Desktop Users: S-1-5-32-555.
	RemoteDesktopUsers = "S-1-5-32-555"

	// PortalAnonymous is the reserved SID of the portal's anonymous
	// identity. It lives under a private authority so it can never
	// collide with a SID issued by a machine or domain, and must never
	// be produced by credential-based resolution.
	PortalAnonymous = "S-1-4-447-1"
)

// wellKnownNames maps well-known SID strings to display names.
var wellKnownNames = map[string]string{
	Everyone:              "Everyone",
	AuthenticatedUsers:    "NT AUTHORITY\\Authenticated Users",
	AnonymousLogon:        "NT AUTHORITY\\ANONYMOUS LOGON",
	Dialup:                "NT AUTHORITY\\DIALUP",
	Network:               "NT AUTHORITY\\NETWORK",
	Batch:                 "NT AUTHORITY\\BATCH",
	Interactive:           "NT AUTHORITY\\INTERACTIVE",
	Service:               "NT AUTHORITY\\SERVICE",
	BuiltinUsers:          "Users",
	BuiltinAdministrators: "Administrators",
	RemoteDesktopUsers:    "Remote Desktop Users",
}

// WellKnownName returns the display name for a well-known SID string.
// Returns ("", false) for SIDs that are not well-known.
func WellKnownName(s string) (string, bool) {
	name, ok := wellKnownNames[s]
	return name, ok
}
