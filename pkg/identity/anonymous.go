package identity

import (
	"strings"

	"github.com/rapportd/rapport/pkg/auth/sid"
)

// AnonymousUsername is the reserved account name under which anonymous
// sessions are issued.
const AnonymousUsername = "anonymous"

// anonymousAccounts are the account names that resolve directly to the
// anonymous identity without touching the logon facility or directory:
// the reserved portal account, the web server's anonymous user, and the
// application-pool identity requests run as when anonymous
// authentication handled them upstream.
var anonymousAccounts = map[string]struct{}{
	AnonymousUsername: {},
	"iusr":            {},
	"rapportpool":     {},
}

// Anonymous returns the constant anonymous identity. Its SID is reserved
// and is never produced by credential-based resolution; its group set is
// empty (deliberately not catalog-normalized, since an anonymous session
// is not an authenticated user).
func Anonymous() *UserIdentity {
	return &UserIdentity{
		SID:      sid.PortalAnonymous,
		Username: AnonymousUsername,
		FullName: "Anonymous",
		Groups:   nil,
	}
}

// IsAnonymousAccount reports whether username names one of the well-known
// anonymous identities. The comparison ignores case and any DOMAIN\ or
// machine prefix.
func IsAnonymousAccount(username string) bool {
	name := username
	if i := strings.LastIndexByte(name, '\\'); i >= 0 {
		name = name[i+1:]
	}
	_, ok := anonymousAccounts[strings.ToLower(name)]
	return ok
}
