package local

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/rapportd/rapport/internal/directory"
	"github.com/rapportd/rapport/internal/logon"
)

const bobSID = "S-1-5-21-9-9-9-1001"

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func newTestProvider(t *testing.T) *Provider {
	local := directory.NewStaticLocal("WEB01",
		[]directory.Account{{SID: bobSID, Name: "bob", FullName: "Bob Local"}},
		[]directory.LocalGroup{
			{SID: "S-1-5-21-9-9-9-1010", Name: "Portal Operators", MemberSIDs: []string{bobSID}},
			{SID: "S-1-5-21-9-9-9-1011", Name: "Backup Operators", MemberSIDs: []string{"S-1-5-21-0-0-0-500"}},
		})
	return NewProvider(local, []Account{
		{Name: "bob", SID: bobSID, FullName: "Bob Local", PasswordHash: mustHash(t, "hunter2")},
		{Name: "svc-portal", SID: "S-1-5-21-9-9-9-1002"},
	})
}

func TestLogonSuccess(t *testing.T) {
	p := newTestProvider(t)

	token, err := p.Logon(context.Background(), "BOB", "", "hunter2")
	if err != nil {
		t.Fatalf("Logon: %v", err)
	}
	defer token.Close()

	if token.SID != bobSID {
		t.Errorf("SID = %q", token.SID)
	}
	if token.Domain != "" {
		t.Errorf("Domain = %q, want empty for local target", token.Domain)
	}
	if token.FullName != "Bob Local" {
		t.Errorf("FullName = %q", token.FullName)
	}

	var found bool
	for _, g := range token.Groups {
		if g.SID == "S-1-5-21-9-9-9-1011" {
			t.Errorf("token carries group %s without membership", g.SID)
		}
		if g.SID == "S-1-5-21-9-9-9-1010" {
			found = true
		}
	}
	if !found {
		t.Error("direct local group membership missing from token")
	}
}

func TestLogonWrongPassword(t *testing.T) {
	p := newTestProvider(t)

	_, err := p.Logon(context.Background(), "bob", "", "wrong")
	var lerr *logon.Error
	if !errors.As(err, &lerr) || lerr.Reason != logon.ReasonInvalidCredentials {
		t.Fatalf("err = %v, want invalid_credentials", err)
	}
}

func TestLogonUnknownAccount(t *testing.T) {
	p := newTestProvider(t)

	_, err := p.Logon(context.Background(), "mallory", "", "hunter2")
	var lerr *logon.Error
	if !errors.As(err, &lerr) || lerr.Reason != logon.ReasonInvalidCredentials {
		t.Fatalf("err = %v, want invalid_credentials", err)
	}
}

func TestLogonAccountWithoutPassword(t *testing.T) {
	// Declared but hashless accounts exist for resolution only.
	p := newTestProvider(t)

	_, err := p.Logon(context.Background(), "svc-portal", "", "")
	var lerr *logon.Error
	if !errors.As(err, &lerr) || lerr.Reason != logon.ReasonAccountRestricted {
		t.Fatalf("err = %v, want account_restricted", err)
	}
}
