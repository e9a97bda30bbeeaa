package kerberos

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/messages"

	"github.com/rapportd/rapport/internal/logon"
)

func krbError(code int32) error {
	return messages.KRBError{ErrorCode: code}
}

func TestTranslateKrbErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want logon.Reason
	}{
		{"preauth failed", krbError(errorcode.KDC_ERR_PREAUTH_FAILED), logon.ReasonInvalidCredentials},
		{"unknown principal", krbError(errorcode.KDC_ERR_C_PRINCIPAL_UNKNOWN), logon.ReasonInvalidCredentials},
		{"client revoked", krbError(errorcode.KDC_ERR_CLIENT_REVOKED), logon.ReasonAccountDisabled},
		{"key expired", krbError(errorcode.KDC_ERR_KEY_EXPIRED), logon.ReasonPasswordExpired},
		{"policy", krbError(errorcode.KDC_ERR_POLICY), logon.ReasonAccountRestricted},
		{"not yet valid", krbError(errorcode.KDC_ERR_CLIENT_NOTYET), logon.ReasonLogonHours},
		{"unmapped code", krbError(errorcode.KDC_ERR_BADOPTION), logon.ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateKrbError(tt.err)
			if got.Reason != tt.want {
				t.Errorf("reason = %s, want %s", got.Reason, tt.want)
			}
		})
	}
}

func TestTranslateKrbErrorWrappedCode(t *testing.T) {
	// gokrb5 regularly wraps the KRBError in krberror context.
	err := fmt.Errorf("AS exchange: %w", krbError(errorcode.KDC_ERR_PREAUTH_FAILED))
	got := translateKrbError(err)
	if got.Reason != logon.ReasonInvalidCredentials {
		t.Errorf("reason = %s", got.Reason)
	}
	if got.Code != errorcode.KDC_ERR_PREAUTH_FAILED {
		t.Errorf("code = %d", got.Code)
	}
}

func TestTranslateKrbErrorTextFallback(t *testing.T) {
	// Some gokrb5 paths flatten the error into message text only.
	err := errors.New("[Root cause: KDC_Error] KRBMessage_Handling_Error: AS Exchange Error: " +
		errorcode.Lookup(errorcode.KDC_ERR_KEY_EXPIRED))
	got := translateKrbError(err)
	if got.Reason != logon.ReasonPasswordExpired {
		t.Errorf("reason = %s", got.Reason)
	}
}

func TestTranslateKrbErrorNetwork(t *testing.T) {
	var netErr net.Error = &net.OpError{Op: "dial", Net: "udp", Err: &timeoutError{}}
	got := translateKrbError(fmt.Errorf("sending to KDC: %w", netErr))
	if got.Reason != logon.ReasonDomainUnreachable {
		t.Errorf("reason = %s", got.Reason)
	}

	got = translateKrbError(errors.New("courier error resolving KDCs for realm CORP"))
	if got.Reason != logon.ReasonDomainUnreachable {
		t.Errorf("text fallback reason = %s", got.Reason)
	}
}

func TestTranslateKrbErrorUnknown(t *testing.T) {
	got := translateKrbError(errors.New("something else entirely"))
	if got.Reason != logon.ReasonUnknown {
		t.Errorf("reason = %s", got.Reason)
	}
}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }
