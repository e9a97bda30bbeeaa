package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/rapportd/rapport/internal/logger"
	"github.com/rapportd/rapport/internal/logon"
	"github.com/rapportd/rapport/pkg/identity"
	"github.com/rapportd/rapport/pkg/metrics"
	"github.com/rapportd/rapport/pkg/session"
)

// SessionHandler handles the session lifecycle endpoints.
type SessionHandler struct {
	policy     *session.Policy
	cookieName string
	cookiePath string
	metrics    *metrics.AuthMetrics
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(policy *session.Policy, cookieName, cookiePath string, m *metrics.AuthMetrics) *SessionHandler {
	return &SessionHandler{
		policy:     policy,
		cookieName: cookieName,
		cookiePath: cookiePath,
		metrics:    m,
	}
}

// LoginRequest is the request body for POST /api/v1/session.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain,omitempty"`

	// Write requests a write-capable session. Write capability is granted
	// only here, at issuance.
	Write bool `json:"write,omitempty"`

	// Bearer asks for the ticket in the response body instead of a
	// session cookie. Non-browser clients set this and send the ticket
	// back in the Authorization header.
	Bearer bool `json:"bearer,omitempty"`
}

// SessionResponse describes an established session.
type SessionResponse struct {
	State        string        `json:"state"`
	User         *UserResponse `json:"user,omitempty"`
	WriteCapable bool          `json:"write_capable"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`

	// Token carries the sealed ticket for bearer-style logins only.
	Token string `json:"token,omitempty"`
}

// UserResponse is the identity representation exposed over the API.
// Group SIDs stay internal; only display names go out.
type UserResponse struct {
	SID      string   `json:"sid"`
	Username string   `json:"username"`
	Domain   string   `json:"domain"`
	FullName string   `json:"full_name,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

func userToResponse(id *identity.UserIdentity) *UserResponse {
	if id == nil {
		return nil
	}
	groups := make([]string, 0, len(id.Groups))
	for _, g := range id.Groups {
		groups = append(groups, g.Name)
	}
	return &UserResponse{
		SID:      id.SID,
		Username: id.Username,
		Domain:   id.Domain,
		FullName: id.FullName,
		Groups:   groups,
	}
}

// Login handles POST /api/v1/session.
// Validates the submitted credential and establishes a session, either as
// an HTTP-only cookie or as a bearer token in the response body.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Username == "" {
		BadRequest(w, "Username is required")
		return
	}

	cred := identity.Credential{
		Username: req.Username,
		Password: req.Password,
		Domain:   req.Domain,
	}

	id, tk, err := h.policy.Login(r.Context(), cred, req.Write)
	if err != nil {
		h.writeLoginFailure(w, r, cred, err)
		return
	}

	h.metrics.RecordLogon("success")
	h.metrics.RecordTicketIssued(tk.WriteCapable)
	logger.InfoCtx(r.Context(), "session established",
		logger.SID(id.SID),
		logger.Username(id.Username),
		logger.Domain(id.Domain),
		"write_capable", tk.WriteCapable,
	)

	resp := SessionResponse{
		State:        sessionState(id),
		User:         userToResponse(id),
		WriteCapable: tk.WriteCapable,
		ExpiresAt:    &tk.ExpiresAt,
	}

	if req.Bearer {
		resp.Token = tk.Opaque
	} else {
		http.SetCookie(w, &http.Cookie{
			Name:     h.cookieName,
			Value:    tk.Opaque,
			Path:     h.cookiePath,
			Expires:  tk.ExpiresAt,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	WriteJSON(w, http.StatusCreated, resp)
}

func sessionState(id *identity.UserIdentity) string {
	if id.IsAnonymous() {
		return session.StateAnonymous.String()
	}
	return session.StateAuthenticated.String()
}

// writeLoginFailure maps a login error onto an HTTP status. Credential
// rejections answer 401 without distinguishing bad password from unknown
// account; account restrictions answer 403 with the restriction named, so
// the user knows the password was right but the account cannot log on now.
func (h *SessionHandler) writeLoginFailure(w http.ResponseWriter, r *http.Request, cred identity.Credential, err error) {
	if errors.Is(err, session.ErrAnonymousDisabled) {
		h.metrics.RecordLogon("anonymous_disabled")
		Forbidden(w, "Anonymous access is disabled")
		return
	}

	var lerr *logon.Error
	if errors.As(err, &lerr) {
		h.metrics.RecordLogon(lerr.Reason.String())
		logger.InfoCtx(r.Context(), "logon rejected",
			"credential", cred,
			logger.Outcome(lerr.Reason.String()),
		)

		switch lerr.Reason {
		case logon.ReasonInvalidCredentials:
			Unauthorized(w, "Invalid username or password")
		case logon.ReasonDomainUnreachable:
			ServiceUnavailable(w, "The authentication domain is unreachable")
		default:
			Forbidden(w, "Account cannot log on: "+lerr.Reason.String())
		}
		return
	}

	h.metrics.RecordLogon("error")
	logger.ErrorCtx(r.Context(), "login failed", "credential", cred, "error", err)
	InternalServerError(w, "Authentication failed")
}

// Current handles GET /api/v1/session.
// Reports the session established by the presented ticket.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())

	resp := SessionResponse{
		State:        sess.State.String(),
		User:         userToResponse(sess.Identity),
		WriteCapable: sess.WriteCapable,
	}
	if sess.Reference != nil {
		expires := sess.Reference.ExpiresAt
		resp.ExpiresAt = &expires
	}

	WriteJSONOK(w, resp)
}

// Logout handles DELETE /api/v1/session.
// Tickets are self-contained and cannot be revoked server side; logout
// clears the cookie so the browser stops presenting one.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     h.cookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /api/v1/session/refresh.
// Issues a fresh ticket for the authenticated session, preserving its
// write capability. Anonymous sessions have nothing to refresh. The new
// ticket travels the same way the old one arrived: a bearer request gets
// it in the body, a cookie request gets a replacement cookie.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())

	tk, err := h.policy.Reissue(sess)
	if err != nil {
		if errors.Is(err, session.ErrNotAuthenticated) {
			Forbidden(w, "Only authenticated sessions can be refreshed")
			return
		}
		logger.ErrorCtx(r.Context(), "ticket reissue failed", "error", err)
		InternalServerError(w, "Ticket could not be reissued")
		return
	}
	h.metrics.RecordTicketIssued(tk.WriteCapable)

	resp := SessionResponse{
		State:        sess.State.String(),
		User:         userToResponse(sess.Identity),
		WriteCapable: tk.WriteCapable,
		ExpiresAt:    &tk.ExpiresAt,
	}

	if r.Header.Get("Authorization") != "" {
		resp.Token = tk.Opaque
	} else {
		http.SetCookie(w, &http.Cookie{
			Name:     h.cookieName,
			Value:    tk.Opaque,
			Path:     h.cookiePath,
			Expires:  tk.ExpiresAt,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	WriteJSONOK(w, resp)
}
