package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	at, err := NewAccessToken("s3cret", 42, "ana@example.com", 15)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(at.Exp) <= 14*time.Minute {
		t.Errorf("exp too soon: %v", at.Exp)
	}
	claims, err := ParseAccessToken("s3cret", at.Token)
	if err != nil {
		t.Fatal(err)
	}
	id, _ := claims.UserID()
	if id != 42 || claims.Identifier != "ana@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseAccessTokenRejects(t *testing.T) {
	good, _ := NewAccessToken("s3cret", 1, "x@y.z", 5)
	expired, _ := NewAccessToken("s3cret", 1, "x@y.z", -5)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	badSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ana", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("s3cret"))

	tests := map[string]struct{ secret, raw string }{
		"wrong secret":    {"other", good.Token},
		"expired":         {"s3cret", expired.Token},
		"alg none":        {"s3cret", none},
		"garbage":         {"s3cret", "a.b.c"},
		"non-numeric sub": {"s3cret", badSub},
	}
	for name, tt := range tests {
		if _, err := ParseAccessToken(tt.secret, tt.raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestRefreshToken(t *testing.T) {
	a, err := NewRefreshToken(7)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewRefreshToken(7)
	if len(a.Raw) != 96 || a.Raw == b.Raw {
		t.Errorf("raw tokens %q %q", a.Raw, b.Raw)
	}
	if h := HashRefreshRaw(a.Raw); len(h) != 64 || h != HashRefreshRaw(a.Raw) {
		t.Errorf("hash = %q", h)
	}
}

func TestSecretHash(t *testing.T) {
	h, err := HashSecret("123456", 4)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifySecret(h, "123456") || VerifySecret(h, "123457") {
		t.Error("VerifySecret mismatch")
	}
}
