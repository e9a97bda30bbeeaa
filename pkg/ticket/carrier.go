package ticket

import (
	"net/http"
	"strings"
)

// FromRequest extracts the raw ticket from an inbound request.
//
// An Authorization header, when present, is used exclusively: a
// malformed bearer value yields an empty ticket rather than falling
// back to the cookie, so a single request can never straddle two trust
// carriers. Without the header, the named cookie supplies the ticket.
func FromRequest(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}

	if cookieName == "" {
		return ""
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
