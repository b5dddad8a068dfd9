package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testSession(ttl time.Duration) Session {
	now := time.Now()
	return Session{ID: "sess-1", UserID: "user-1", Username: "alice", Role: "admin", CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

func TestTokenSigner_RoundTrip(t *testing.T) {
	signer := tokenSigner{key: testKey, issuer: Issuer}
	token, err := signer.Sign(testSession(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "admin" || claims.SessionID != "sess-1" || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
}

func TestTokenSigner_SignIncomplete(t *testing.T) {
	signer := tokenSigner{key: testKey, issuer: Issuer}
	for name, mutate := range map[string]func(*Session){
		"no user":    func(s *Session) { s.UserID = "" },
		"no session": func(s *Session) { s.ID = "" },
		"no role":    func(s *Session) { s.Role = "" },
		"no expiry":  func(s *Session) { s.ExpiresAt = time.Time{} },
	} {
		sess := testSession(time.Hour)
		mutate(&sess)
		if _, err := signer.Sign(sess); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: got %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestTokenSigner_Rejects(t *testing.T) {
	signer := tokenSigner{key: testKey, issuer: Issuer}

	foreign, err := tokenSigner{key: testKey, issuer: "other"}.Sign(testSession(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	otherKey, err := tokenSigner{key: []byte("another-key-another-key-another-k"), issuer: Issuer}.Sign(testSession(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	expired, err := signer.Sign(testSession(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	base := Claims{
		Role:      "admin",
		SessionID: "s",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u",
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, base).SignedString(testKey)
	if err != nil {
		t.Fatal(err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, base).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	noExp := base
	noExp.ExpiresAt = nil
	unbounded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, noExp).SignedString(testKey)
	if err != nil {
		t.Fatal(err)
	}
	noSID := base
	noSID.SessionID = ""
	sessionless, err := jwt.NewWithClaims(jwt.SigningMethodHS256, noSID).SignedString(testKey)
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"foreign issuer": foreign,
		"other key":      otherKey,
		"expired":        expired,
		"HS512":          hs512,
		"none":           none,
		"no exp":         unbounded,
		"no sid":         sessionless,
		"garbage":        "not.a.token",
	}
	for name, token := range tests {
		if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: got %v, want ErrInvalidToken", name, err)
		}
	}
	if _, err := signer.Verify("  "); !errors.Is(err, ErrMissingToken) {
		t.Errorf("blank: got %v, want ErrMissingToken", err)
	}
}

func TestTokenSigner_Leeway(t *testing.T) {
	signer := tokenSigner{key: testKey, issuer: Issuer}
	token, err := signer.Sign(testSession(-10 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := signer.Verify(token); err != nil {
		t.Fatalf("token inside leeway rejected: %v", err)
	}
}

func TestTokenFromHeader(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    error
	}{
		{"Bearer abc", "abc", nil},
		{"bearer   abc ", "abc", nil},
		{"Basic abc", "", ErrMissingToken},
		{"Bearer", "", ErrMissingToken},
		{"", "", ErrMissingToken},
	}
	for _, tt := range tests {
		got, err := TokenFromHeader(tt.header)
		if got != tt.want || !errors.Is(err, tt.err) {
			t.Errorf("TokenFromHeader(%q) = %q, %v", tt.header, got, err)
		}
	}
}
