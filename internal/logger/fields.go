package logger

import "log/slog"

// Standard field keys. Using the same keys everywhere keeps log output
// greppable across packages.
const (
	KeyRequestID = "request_id"
	KeyClientIP  = "client_ip"
	KeyUsername  = "username"
	KeyDomain    = "domain"
	KeySID       = "sid"
	KeyGroup     = "group"
	KeyOutcome   = "outcome"
	KeyError     = "error"
	KeyDuration  = "duration_ms"
)

// SID returns an attribute carrying a security identifier.
func SID(s string) slog.Attr {
	return slog.String(KeySID, s)
}

// Username returns an attribute carrying an account name.
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// Domain returns an attribute carrying a domain name.
func Domain(name string) slog.Attr {
	return slog.String(KeyDomain, name)
}

// Outcome returns an attribute carrying an operation outcome code.
func Outcome(code string) slog.Attr {
	return slog.String(KeyOutcome, code)
}

// Err returns an attribute carrying an error message.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
