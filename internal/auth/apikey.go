// Package auth issues and checks the bearer keys operators use against the
// fleet API, and maps operator roles to what they may do.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix marks operator API keys so they are easy to spot in logs and configs.
const KeyPrefix = "fleet_ak_"

const keyBytes = 24

// Operator roles. Admins manage operators, webhooks and usage limits on top
// of everything an operator can do with agents.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// Scopes granted to a role. They travel in MCP token info and whoami.
const (
	ScopeRead  = "fleet:read"
	ScopeWrite = "fleet:write"
	ScopeAdmin = "fleet:admin"
)

func GenerateAPIKey() (string, error) {
	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate operator key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(raw), nil
}

// HashAPIKey is what gets stored. Raw keys are only shown once at creation.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether token has the shape GenerateAPIKey produces.
// Tokens that fail it are rejected without a database lookup.
func WellFormed(token string) bool {
	body, ok := strings.CutPrefix(token, KeyPrefix)
	if !ok || len(body) != 2*keyBytes {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

// KeyHint is the loggable form of a key: the prefix and its last four characters.
func KeyHint(apiKey string) string {
	if !WellFormed(apiKey) {
		return "invalid"
	}
	return KeyPrefix + "..." + apiKey[len(apiKey)-4:]
}

// ParseRole normalizes a requested role. Empty means operator.
func ParseRole(raw string) (string, error) {
	switch role := strings.ToLower(strings.TrimSpace(raw)); role {
	case "", RoleOperator:
		return RoleOperator, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("role must be %q or %q", RoleOperator, RoleAdmin)
	}
}

func Scopes(role string) []string {
	switch role {
	case RoleAdmin:
		return []string{ScopeRead, ScopeWrite, ScopeAdmin}
	case RoleOperator:
		return []string{ScopeRead, ScopeWrite}
	default:
		return nil
	}
}

// BearerToken extracts the token from an Authorization header, or "" when
// the header is not a bearer credential.
func BearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
