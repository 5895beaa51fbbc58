// Package auth implements the authorization claim shape (C8): JWT
// verification plus the (Privilege, RequestPattern) rule set a token
// carries, grounded on the teacher's JWTManager (go-server/internal/auth).
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/adred-codev/worterbuch/internal/keys"
	"github.com/adred-codev/worterbuch/internal/wberr"
	"github.com/golang-jwt/jwt/v5"
)

// Privilege is one of the three permission levels a rule grants.
type Privilege string

const (
	Read   Privilege = "read"
	Write  Privilege = "write"
	Delete Privilege = "delete"
)

// Rule grants Privilege over every key matching Pattern.
type Rule struct {
	Privilege Privilege `json:"privilege"`
	Pattern   string    `json:"pattern"`
}

// Claims is the JWT claim shape this broker consumes: a client identity
// plus a list of authorization rules.
type Claims struct {
	ClientID string `json:"clientId"`
	Rules    []Rule `json:"rules"`
	jwt.RegisteredClaims
}

// Manager verifies tokens against a shared secret.
type Manager struct {
	secretKey []byte
}

// NewManager creates a Manager using secretKey for HMAC verification.
func NewManager(secretKey string) *Manager {
	return &Manager{secretKey: []byte(secretKey)}
}

// Verify validates tokenString and returns its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ExtractTokenFromHeader extracts a bearer JWT from an Authorization header.
func ExtractTokenFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("authorization header missing or malformed")
	}
	return strings.TrimPrefix(authHeader, bearerPrefix), nil
}

// ExtractTokenFromQuery extracts a JWT from the ?token= query parameter,
// the common pattern for WebSocket upgrade requests that can't set headers.
func ExtractTokenFromQuery(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", errors.New("token query parameter missing")
	}
	return token, nil
}

// Authorize succeeds iff some rule in claims grants privilege over every
// concrete key the requested pattern could imply — i.e. the rule's pattern
// is a superset of keyOrPattern. For an ls request, callers pass
// parent+"/?" as keyOrPattern (spec.md §4.8).
func Authorize(claims *Claims, privilege Privilege, keyOrPattern string, chars keys.Chars) error {
	if claims == nil {
		return wberr.New(wberr.AuthenticationRequired, keyOrPattern)
	}
	requested, err := keys.ParsePattern(keyOrPattern, chars)
	if err != nil {
		return err
	}
	for _, rule := range claims.Rules {
		if rule.Privilege != privilege {
			continue
		}
		rulePattern, err := keys.ParsePattern(rule.Pattern, chars)
		if err != nil {
			continue
		}
		if patternIsSuperset(rulePattern, requested) {
			return nil
		}
	}
	return wberr.New(wberr.Unauthorized, keyOrPattern)
}

// patternIsSuperset reports whether every concrete key matched by req is
// also matched by rule: a literal segment must match the same literal (or a
// `?`/`#` in req is only covered if rule is at least as permissive at that
// position), and a rule's trailing `#` covers one or more remaining req
// segments.
func patternIsSuperset(rule, req keys.Pattern) bool {
	i := 0
	for _, rseg := range rule {
		if rseg.Kind == keys.MultiWildcard {
			return i < len(req)
		}
		if i >= len(req) {
			return false
		}
		switch rseg.Kind {
		case keys.Wildcard:
			if req[i].Kind == keys.MultiWildcard {
				return false
			}
		case keys.Literal:
			if req[i].Kind != keys.Literal || req[i].Value != rseg.Value {
				return false
			}
		}
		i++
	}
	return i == len(req)
}
