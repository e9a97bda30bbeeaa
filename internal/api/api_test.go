package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/rapportd/rapport/internal/logger"
	"github.com/rapportd/rapport/internal/logon"
	"github.com/rapportd/rapport/pkg/config"
	"github.com/rapportd/rapport/pkg/identity"
	"github.com/rapportd/rapport/pkg/session"
	"github.com/rapportd/rapport/pkg/ticket"
)

const testSID = "S-1-5-21-100-200-300-1104"

type fakeValidator struct {
	fn func(cred identity.Credential) (*logon.Token, error)
}

func (f *fakeValidator) Validate(ctx context.Context, cred identity.Credential) (*logon.Token, error) {
	return f.fn(cred)
}

type fakeResolver struct {
	identities map[string]*identity.UserIdentity
}

func (f *fakeResolver) Resolve(ctx context.Context, token *logon.Token) (*identity.UserIdentity, error) {
	if id, ok := f.identities[token.SID]; ok {
		return id, nil
	}
	return nil, nil
}

func (f *fakeResolver) ResolveByName(ctx context.Context, username, domain string) (*identity.UserIdentity, error) {
	return f.identities[domain+`\`+username], nil
}

func aliceIdentity() *identity.UserIdentity {
	return &identity.UserIdentity{
		SID:      testSID,
		Username: "alice",
		Domain:   "CORP",
		FullName: "Alice Cooper",
		Groups: []identity.GroupMembership{
			{SID: "S-1-5-21-100-200-300-2001", Name: "Engineering"},
		},
	}
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:           "127.0.0.1",
		Port:           0,
		CookieName:     "rapport_session",
		CookiePath:     "/",
		RequestTimeout: 5 * time.Second,
	}
}

// newTestRouter builds a full router over a fake logon facility. The
// password "hunter2" logs alice in; the username "disabled" simulates an
// administratively disabled account; the domain "OFFLINE" simulates an
// unreachable domain controller.
func newTestRouter(t *testing.T, mode session.AnonymousMode) http.Handler {
	t.Helper()
	return NewRouter(testServerConfig(), newTestPolicy(t, mode), nil)
}

func newTestPolicy(t *testing.T, mode session.AnonymousMode) *session.Policy {
	t.Helper()

	codec, err := ticket.NewCodec("api handler test secret")
	if err != nil {
		t.Fatal(err)
	}

	validator := &fakeValidator{fn: func(cred identity.Credential) (*logon.Token, error) {
		if cred.Domain == "OFFLINE" {
			return nil, &logon.Error{Reason: logon.ReasonDomainUnreachable}
		}
		if cred.Username == "disabled" {
			return nil, &logon.Error{Reason: logon.ReasonAccountDisabled}
		}
		if cred.Password != "hunter2" {
			return nil, &logon.Error{Reason: logon.ReasonInvalidCredentials}
		}
		return logon.NewToken(testSID, cred.Username, cred.Domain, "", nil, nil), nil
	}}
	resolver := &fakeResolver{identities: map[string]*identity.UserIdentity{
		testSID:      aliceIdentity(),
		`CORP\alice`: aliceIdentity(),
	}}

	return session.NewPolicy(codec, validator, resolver, mode)
}

func doLogin(t *testing.T, router http.Handler, body LoginRequest) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLoginSetsCookie(t *testing.T) {
	router := newTestRouter(t, session.AnonymousNever)

	w := doLogin(t, router, LoginRequest{Username: "alice", Password: "hunter2", Domain: "CORP"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "authenticated" {
		t.Errorf("state = %q", resp.State)
	}
	if resp.User == nil || resp.User.Username != "alice" || resp.User.SID != testSID {
		t.Errorf("unexpected user: %+v", resp.User)
	}
	if resp.Token != "" {
		t.Error("cookie login must not return the ticket in the body")
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "rapport_session" || c.Value == "" {
		t.Errorf("unexpected cookie: %+v", c)
	}
	if !c.HttpOnly || !c.Secure {
		t.Error("session cookie must be HttpOnly and Secure")
	}
}

func TestLoginBearerReturnsToken(t *testing.T) {
	router := newTestRouter(t, session.AnonymousNever)

	w := doLogin(t, router, LoginRequest{Username: "alice", Password: "hunter2", Domain: "CORP", Bearer: true})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" {
		t.Error("bearer login must return the ticket in the body")
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("bearer login must not set a cookie")
	}
}

func TestLoginWriteCapable(t *testing.T) {
	router := newTestRouter(t, session.AnonymousNever)

	w := doLogin(t, router, LoginRequest{Username: "alice", Password: "hunter2", Domain: "CORP", Write: true, Bearer: true})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.WriteCapable {
		t.Error("write-capable login not reflected in response")
	}
}

func TestLoginFailures(t *testing.T) {
	router := newTestRouter(t, session.AnonymousNever)

	tests := []struct {
		name       string
		body       LoginRequest
		wantStatus int
	}{
		{
			name:       "invalid password",
			body:       LoginRequest{Username: "alice", Password: "wrong", Domain: "CORP"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "disabled account",
			body:       LoginRequest{Username: "disabled", Password: "hunter2", Domain: "CORP"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unreachable domain",
			body:       LoginRequest{Username: "alice", Password: "hunter2", Domain: "OFFLINE"},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "missing username",
			body:       LoginRequest{Password: "hunter2"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "anonymous account while disabled",
			body:       LoginRequest{Username: "anonymous"},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doLogin(t, router, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != ContentTypeProblemJSON {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestCurrentSessionWithCookie(t *testing.T) {
	router := newTestRouter(t, session.AnonymousNever)

	login := doLogin(t, router, LoginRequest{Username: "alice", Password: "hunter2", Domain: "CORP"})
	cookie := login.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "authenticated" || resp.User == nil || resp.User.Username != "alice" {
		t.Errorf("unexpected session: %+v", resp)
	}
	if resp.ExpiresAt == nil {
		t.Error("expected expiry on an authenticated session")
	}
}

func TestCurrentSessionBearer(t *testing.T) {
	router := newTestRouter(t, session.AnonymousNever)

	login := doLogin(t, router, LoginRequest{Username: "alice", Password: "hunter2", Domain: "CORP", Bearer: true})
	var issued SessionResponse
	if err := json.Unmarshal(login.Body.Bytes(), &issued); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestCurrentSessionWithoutTicket(t *testing.T) {
	router := newTestRouter(t, session.AnonymousNever)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestCurrentSessionAnonymousAlways(t *testing.T) {
	router := newTestRouter(t, session.AnonymousAlways)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "anonymous" {
		t.Errorf("state = %q, want anonymous", resp.State)
	}
}

func TestExpiredTicketRejected(t *testing.T) {
	codec, err := ticket.NewCodec("api handler test secret")
	if err != nil {
		t.Fatal(err)
	}
	codec = codec.WithTTLs(time.Millisecond, time.Millisecond)

	validator := &fakeValidator{fn: func(cred identity.Credential) (*logon.Token, error) {
		return logon.NewToken(testSID, cred.Username, cred.Domain, "", nil, nil), nil
	}}
	resolver := &fakeResolver{identities: map[string]*identity.UserIdentity{
		testSID:      aliceIdentity(),
		`CORP\alice`: aliceIdentity(),
	}}
	policy := session.NewPolicy(codec, validator, resolver, session.AnonymousNever)
	router := NewRouter(testServerConfig(), policy, nil)

	login := doLogin(t, router, LoginRequest{Username: "alice", Password: "hunter2", Domain: "CORP", Bearer: true})
	var issued SessionResponse
	if err := json.Unmarshal(login.Body.Bytes(), &issued); err != nil {
		t.Fatal(err)
	}

	// Outlive the millisecond TTL.
	time.Sleep(20 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	router := newTestRouter(t, session.AnonymousNever)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/session", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	if cookies[0].Value != "" || cookies[0].MaxAge >= 0 {
		t.Errorf("logout did not clear the cookie: %+v", cookies[0])
	}
}

func TestRefreshIssuesNewTicket(t *testing.T) {
	router := newTestRouter(t, session.AnonymousNever)

	login := doLogin(t, router, LoginRequest{Username: "alice", Password: "hunter2", Domain: "CORP", Write: true, Bearer: true})
	var issued SessionResponse
	if err := json.Unmarshal(login.Body.Bytes(), &issued); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var refreshed SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &refreshed); err != nil {
		t.Fatal(err)
	}
	if refreshed.Token == "" {
		t.Error("bearer refresh must return the new ticket in the body")
	}
	if !refreshed.WriteCapable {
		t.Error("refresh dropped write capability")
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("bearer refresh must not set a cookie")
	}
}

func TestRefreshAnonymousForbidden(t *testing.T) {
	router := newTestRouter(t, session.AnonymousAlways)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/refresh", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, session.AnonymousNever)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRequestLogContextCarriesPrincipal(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "DEBUG", "json")
	defer logger.InitWithWriter(os.Stderr, "INFO", "text")

	policy := newTestPolicy(t, session.AnonymousNever)
	_, tk, err := policy.Login(context.Background(), identity.Credential{
		Username: "alice", Password: "hunter2", Domain: "CORP",
	}, false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.InfoCtx(r.Context(), "inner handler reached")
		w.WriteHeader(http.StatusNoContent)
	})
	h := middleware.RequestID(requestLogger(sessionContext(policy, "rapport_session", nil)(inner)))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "rapport_session", Value: tk.Opaque})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var rec map[string]any
	for _, line := range bytes.Split(buf.Bytes(), []byte("\n")) {
		var m map[string]any
		if json.Unmarshal(line, &m) == nil && m["msg"] == "inner handler reached" {
			rec = m
			break
		}
	}
	if rec == nil {
		t.Fatalf("inner log record not captured; log output:\n%s", buf.String())
	}

	if rec["request_id"] == nil || rec["request_id"] == "" {
		t.Error("log record missing request_id")
	}
	if rec["client_ip"] == nil || rec["client_ip"] == "" {
		t.Error("log record missing client_ip")
	}
	if rec["username"] != "alice" {
		t.Errorf("username = %v, want alice", rec["username"])
	}
	if rec["domain"] != "CORP" {
		t.Errorf("domain = %v, want CORP", rec["domain"])
	}
}
