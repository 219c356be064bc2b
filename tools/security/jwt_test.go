package security

import (
	"testing"
	"time"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("unit-test-secret"))
	token, hash, exp, err := Generate(opts, "u_1001", []string{"chat"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if token == "" || hash == "" {
		t.Fatal("empty token or hash")
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiry not in future: %v", exp)
	}

	claims, err := Verify(opts, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := claims.UserID(); got != "u_1001" {
		t.Fatalf("sub=%q want u_1001", got)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, _, err := Generate(DefaultOptions([]byte("secret-a")), "u_1", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := Verify(DefaultOptions([]byte("secret-b")), token); err == nil {
		t.Fatal("token signed with another secret must not verify")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	opts := Options{Secret: []byte("s"), Alg: "HS256", TTL: -time.Minute}
	// TTL<=0 falls back to default inside Generate, so build an expired token
	// by generating with a tiny positive TTL and waiting it out.
	opts.TTL = time.Millisecond
	token, _, _, err := Generate(opts, "u_1", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := Verify(opts, token); err == nil {
		t.Fatal("expired token must not verify")
	}
}

func TestSigningMethodValidation(t *testing.T) {
	if _, err := signingMethod("RS256"); err == nil {
		t.Fatal("non-HMAC alg must be rejected")
	}
	if _, err := signingMethod("hs512"); err != nil {
		t.Fatalf("hs512 should normalize: %v", err)
	}
}
