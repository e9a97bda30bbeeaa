package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/rapportd/rapport/internal/logger"
	"github.com/rapportd/rapport/pkg/metrics"
	"github.com/rapportd/rapport/pkg/session"
	"github.com/rapportd/rapport/pkg/ticket"
)

type sessionCtxKey struct{}

// SessionFromContext returns the session evaluated for the current
// request, or nil when the session middleware did not run.
func SessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*session.Session)
	return s
}

// sessionContext evaluates the presented session ticket once per request
// and makes the result available to every handler downstream. Identity
// resolution behind the ticket is memoized for the rest of the request,
// so handlers that consult the session repeatedly never trigger a second
// directory round trip.
func sessionContext(policy *session.Policy, cookieName string, m *metrics.AuthMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := session.WithRequestScope(r.Context())

			raw := ticket.FromRequest(r, cookieName)
			sess, err := policy.Evaluate(ctx, raw)
			if err != nil {
				logger.ErrorCtx(ctx, "session evaluation failed", "error", err)
				ServiceUnavailable(w, "Session could not be evaluated")
				return
			}
			m.RecordSession(sess.State.String())

			// Stamp the authenticated principal onto the request's log
			// context so downstream log records carry it.
			if sess.State == session.StateAuthenticated && sess.Identity != nil {
				if lc := logger.FromContext(ctx); lc != nil {
					ctx = logger.WithContext(ctx, lc.WithUser(sess.Identity.Username, sess.Identity.Domain))
				}
			}

			ctx = context.WithValue(ctx, sessionCtxKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireSession rejects requests that did not establish any session,
// anonymous or authenticated.
func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := SessionFromContext(r.Context())
		if sess == nil || sess.State == session.StateNone {
			Unauthorized(w, "A valid session ticket is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request with its chi request ID, mirroring the
// fields the rest of the daemon logs with.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())

		// RealIP runs earlier in the chain, so RemoteAddr already holds
		// the true client address. Every *Ctx log record downstream
		// inherits these fields.
		lc := logger.NewLogContext(requestID, r.RemoteAddr)
		r = r.WithContext(logger.WithContext(r.Context(), lc))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", lc.DurationMs(),
		}

		// Health probes log at DEBUG to keep the INFO stream useful.
		if r.URL.Path == "/health" {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
