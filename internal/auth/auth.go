// Package auth resolves bearer tokens presented to the control API into
// principals carrying scopes.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Scope grants access to one API area. A ":rw" scope implies its ":ro"
// counterpart and ScopeAll implies everything.
type Scope string

const (
	ScopeAll      Scope = "*"
	ScopeJobsRead Scope = "jobs:ro"
	ScopeJobsRW   Scope = "jobs:rw"
	ScopeEventsRO Scope = "events:ro"
	ScopeEventsRW Scope = "events:rw"
)

var implied = map[Scope]Scope{
	ScopeJobsRW:   ScopeJobsRead,
	ScopeEventsRW: ScopeEventsRO,
}

// Scopes lists every scope in display order.
func Scopes() []Scope {
	return []Scope{ScopeAll, ScopeJobsRead, ScopeJobsRW, ScopeEventsRO, ScopeEventsRW}
}

// Known reports whether s names a scope the API grants.
func Known(s string) bool {
	for _, scope := range Scopes() {
		if string(scope) == s {
			return true
		}
	}
	return false
}

var (
	ErrNoCredentials = errors.New("missing bearer token")
	ErrBadScheme     = errors.New("authorization scheme must be Bearer")
)

// TokenConfig is a configured bearer token and the scopes it carries.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is an authenticated caller.
type Principal struct {
	Name   string
	Scopes map[Scope]struct{}
}

// Allows reports whether p holds at least one of required. No requirement
// always passes.
func (p Principal) Allows(required ...Scope) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrNoCredentials
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrBadScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}

// Keyring holds SHA-256 digests of the accepted tokens. Comparing fixed-size
// digests keeps the check constant time regardless of token length.
type Keyring struct {
	entries []keyEntry
}

type keyEntry struct {
	digest    [sha256.Size]byte
	principal Principal
}

// NewKeyring accepts adminKey with every scope, plus each scoped token.
// Empty tokens are ignored.
func NewKeyring(adminKey string, tokens []TokenConfig) *Keyring {
	k := &Keyring{}
	if adminKey != "" {
		k.add(adminKey, Principal{Name: "admin", Scopes: map[Scope]struct{}{ScopeAll: {}}})
	}
	for i, t := range tokens {
		if t.Token == "" {
			continue
		}
		k.add(t.Token, Principal{Name: "token-" + strconv.Itoa(i), Scopes: expandScopes(t.Scopes)})
	}
	return k
}

func (k *Keyring) add(token string, p Principal) {
	k.entries = append(k.entries, keyEntry{digest: sha256.Sum256([]byte(token)), principal: p})
}

// Authenticate returns the principal for presented. Every entry is compared
// so timing does not reveal which one matched.
func (k *Keyring) Authenticate(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	digest := sha256.Sum256([]byte(presented))

	var (
		match Principal
		found bool
	)
	for _, e := range k.entries {
		if subtle.ConstantTimeCompare(digest[:], e.digest[:]) == 1 && !found {
			match, found = e.principal, true
		}
	}
	return match, found
}

func expandScopes(scopes []string) map[Scope]struct{} {
	out := make(map[Scope]struct{}, len(scopes)+len(implied))
	for _, raw := range scopes {
		s := Scope(strings.TrimSpace(raw))
		if s == "" {
			continue
		}
		out[s] = struct{}{}
		if ro, ok := implied[s]; ok {
			out[ro] = struct{}{}
		}
	}
	return out
}
