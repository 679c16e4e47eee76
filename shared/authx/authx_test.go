package authx

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

func TestParseRoles(t *testing.T) {
	claims := map[string]any{
		"roles": []any{"fleet_admin", "operator"},
		"scp":   "sync:trigger read",
	}
	roles := parseRoles(claims)
	if len(roles) != 4 {
		t.Fatalf("expected 4 roles, got %v", roles)
	}
}

func TestNewJWTVerifierValidation(t *testing.T) {
	if _, err := NewJWTVerifier("", "aud", "", 60, 0); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
}

func TestJWKSCacheLoadsKeys(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	key, err := jwk.FromRaw(priv.Public())
	if err != nil {
		t.Fatalf("jwk.FromRaw: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, "kid-1"); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		t.Fatalf("add key: %v", err)
	}
	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cache := NewJWKSCache(srv.URL, time.Minute, srv.Client())
	got, err := cache.GetKey(context.Background(), "kid-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	switch got.(type) {
	case *rsa.PublicKey, rsa.PublicKey:
	default:
		t.Fatalf("unexpected key type %T", got)
	}

	if _, err := cache.GetKey(context.Background(), "kid-missing"); !errors.Is(err, ErrUnknownKID) {
		t.Fatalf("missing kid must fail with ErrUnknownKID, got %v", err)
	}
}
