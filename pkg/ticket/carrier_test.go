package ticket

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const testCookie = "rapport_session"

func carrierRequest(authorization, cookieValue string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	if cookieValue != "" {
		r.AddCookie(&http.Cookie{Name: testCookie, Value: cookieValue})
	}
	return r
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name          string
		authorization string
		cookie        string
		want          string
	}{
		{"bearer only", "Bearer abc123", "", "abc123"},
		{"cookie only", "", "cookie-ticket", "cookie-ticket"},
		{"bearer wins over cookie", "Bearer abc123", "cookie-ticket", "abc123"},
		{"lowercase scheme accepted", "bearer abc123", "", "abc123"},
		{"neither", "", "", ""},
		{"wrong scheme ignores cookie", "Basic dXNlcjpwdw", "cookie-ticket", ""},
		{"bare scheme ignores cookie", "Bearer", "cookie-ticket", ""},
		{"empty bearer token ignores cookie", "Bearer ", "cookie-ticket", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromRequest(carrierRequest(tt.authorization, tt.cookie), testCookie)
			if got != tt.want {
				t.Errorf("FromRequest = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMalformedBearerNeverFallsBack(t *testing.T) {
	c := newTestCodec(t)
	tk, err := c.Issue(testIdentity(), false)
	if err != nil {
		t.Fatal(err)
	}

	// A valid ticket sits in the cookie, but the mangled bearer header
	// must be used exclusively: the request carries no usable ticket.
	r := carrierRequest("Bearer-mangled", tk.Opaque)
	if got := FromRequest(r, testCookie); got != "" {
		t.Errorf("malformed bearer fell back to cookie: %q", got)
	}
}

func TestFromRequestWithoutCookieName(t *testing.T) {
	r := carrierRequest("", "cookie-ticket")
	if got := FromRequest(r, ""); got != "" {
		t.Errorf("FromRequest with empty cookie name = %q", got)
	}
}
