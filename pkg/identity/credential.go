package identity

import "log/slog"

// Credential is a username/password/domain triple submitted for one login
// attempt. It exists only for the duration of validation: never cached,
// never persisted, and the password never appears in logs or errors.
type Credential struct {
	Username string
	Password string

	// Domain targets a specific domain; empty (or the local machine
	// name) targets the local machine.
	Domain string
}

// String renders the credential with the password redacted.
func (c Credential) String() string {
	if c.Domain == "" {
		return c.Username + ":<redacted>"
	}
	return c.Domain + `\` + c.Username + ":<redacted>"
}

// LogValue keeps the password out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("domain", c.Domain),
	)
}
