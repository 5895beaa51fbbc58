package auth

import (
	"testing"
	"time"

	"github.com/adred-codev/worterbuch/internal/keys"
	"github.com/adred-codev/worterbuch/internal/wberr"
	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestVerifyRoundTrip(t *testing.T) {
	mgr := NewManager("secret")
	claims := &Claims{
		ClientID: "c1",
		Rules:    []Rule{{Privilege: Read, Pattern: "a/#"}},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := sign(t, "secret", claims)

	got, err := mgr.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if got.ClientID != "c1" || len(got.Rules) != 1 {
		t.Fatalf("unexpected claims: %+v", got)
	}
}

func TestVerifyWrongSecretFails(t *testing.T) {
	mgr := NewManager("secret")
	token := sign(t, "other-secret", &Claims{ClientID: "c1"})
	if _, err := mgr.Verify(token); err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}
}

func TestAuthorizeSuperset(t *testing.T) {
	claims := &Claims{Rules: []Rule{{Privilege: Write, Pattern: "a/#"}}}

	if err := Authorize(claims, Write, "a/b/c", keys.DefaultChars); err != nil {
		t.Fatalf("expected a/# to authorize write to a/b/c: %v", err)
	}
	if err := Authorize(claims, Write, "x/y", keys.DefaultChars); err == nil {
		t.Fatal("expected no rule to match x/y")
	}
	if err := Authorize(claims, Read, "a/b", keys.DefaultChars); err == nil {
		t.Fatal("expected wrong-privilege rule not to authorize")
	}
}

func TestAuthorizeLsUsesParentSlashWildcard(t *testing.T) {
	claims := &Claims{Rules: []Rule{{Privilege: Read, Pattern: "a/?"}}}
	if err := Authorize(claims, Read, "a/?", keys.DefaultChars); err != nil {
		t.Fatalf("expected ls over a/? to authorize: %v", err)
	}
}

func TestAuthorizeNilClaimsRequiresAuth(t *testing.T) {
	err := Authorize(nil, Read, "a/b", keys.DefaultChars)
	werr, ok := err.(*wberr.WorterbuchError)
	if !ok || werr.Code != wberr.AuthenticationRequired {
		t.Fatalf("expected AuthenticationRequired, got %v", err)
	}
}

func TestAuthorizeWildcardRuleDoesNotCoverMultiWildcardRequest(t *testing.T) {
	claims := &Claims{Rules: []Rule{{Privilege: Read, Pattern: "a/?"}}}
	if err := Authorize(claims, Read, "a/#", keys.DefaultChars); err == nil {
		t.Fatal("a single-segment wildcard rule must not authorize a broader multi-wildcard request")
	}
}
