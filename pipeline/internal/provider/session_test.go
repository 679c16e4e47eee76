package provider

import (
	"context"
	"testing"
	"time"
)

func TestHashPassword(t *testing.T) {
	if got := hashPassword("secret"); got != "5ebe2294ecd0e0f08eab7690d2a6ee69" {
		t.Fatalf("hashPassword = %q", got)
	}
	if hashPassword("a") == hashPassword("b") {
		t.Fatal("distinct inputs must hash differently")
	}
}

func TestCredentialValid(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		cred Credential
		want bool
	}{
		{"live", Credential{Token: "t", ExpiresAt: now.Add(time.Hour)}, true},
		{"expired", Credential{Token: "t", ExpiresAt: now.Add(-time.Minute)}, false},
		{"empty token", Credential{ExpiresAt: now.Add(time.Hour)}, false},
	}
	for _, c := range cases {
		if got := c.cred.valid(now); got != c.want {
			t.Fatalf("%s: valid = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestDispatchRejectsRemoteIncapable(t *testing.T) {
	c := &Commander{pollMax: 1, pollDelay: time.Millisecond}
	_, err := c.Dispatch(context.Background(), "dev-1", false, EngineStop())
	if err != ErrRemoteUnsupported {
		t.Fatalf("expected ErrRemoteUnsupported, got %v", err)
	}
}

func TestCommandConstructors(t *testing.T) {
	if EngineStop().Kind() != "engine_stop" {
		t.Fatal("engine stop kind")
	}
	if got := SetOverspeedThreshold(90).params["param"]; got != "90" {
		t.Fatalf("overspeed param = %q", got)
	}
}
