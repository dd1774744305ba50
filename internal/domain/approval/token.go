// Package approval implements the risk-based approval workflow and the
// signed, single-use tokens that carry a human approval to the executor.
package approval

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxTokenLifetime is the hard upper bound on a token's validity window.
const MaxTokenLifetime = 24 * time.Hour

// ErrMalformedToken is returned by DecodeToken for input that is not an encoded token.
var ErrMalformedToken = errors.New("malformed approval token")

// Token binds a human approval to one action and one exact plan content.
type Token struct {
	TokenID        string    `json:"token_id"`
	ActionID       string    `json:"action_id"`
	ActionPlanHash string    `json:"action_plan_hash"`
	TenantID       string    `json:"tenant_id"`
	ApproverID     string    `json:"approver_id"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Signature      string    `json:"signature"`
}

// GenerateToken issues a signed token. lifetime is clamped to
// (0, MaxTokenLifetime]; a non-positive lifetime means the maximum.
func GenerateToken(secret []byte, actionID, planHash, tenantID, approverID string, issuedAt time.Time, lifetime time.Duration) (*Token, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	if lifetime <= 0 || lifetime > MaxTokenLifetime {
		lifetime = MaxTokenLifetime
	}

	issuedAt = issuedAt.UTC()
	t := &Token{
		TokenID:        uuid.NewString(),
		ActionID:       actionID,
		ActionPlanHash: planHash,
		TenantID:       tenantID,
		ApproverID:     approverID,
		IssuedAt:       issuedAt,
		ExpiresAt:      issuedAt.Add(lifetime),
	}
	t.Signature = t.computeSignature(secret)
	return t, nil
}

// canonical is the NUL-separated concatenation of every signed field, in a fixed order.
func (t *Token) canonical() string {
	return strings.Join([]string{
		t.TokenID,
		t.ActionID,
		t.ActionPlanHash,
		t.TenantID,
		t.ApproverID,
		t.IssuedAt.UTC().Format(time.RFC3339Nano),
		t.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}, "\x00")
}

func (t *Token) computeSignature(secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(t.canonical()))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the HMAC over the bound fields and compares it in
// constant time. Changing any bound field or the signature makes it false.
func (t *Token) VerifySignature(secret []byte) bool {
	if len(secret) == 0 || t.Signature == "" {
		return false
	}
	got, err := hex.DecodeString(t.Signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(t.computeSignature(secret))
	return hmac.Equal(got, want)
}

// CheckPlanDrift reports whether currentHash differs from the bound plan hash.
func (t *Token) CheckPlanDrift(currentHash string) bool {
	return currentHash != t.ActionPlanHash
}

// IsExpired reports whether the token is no longer valid at now.
// Validity ends at ExpiresAt, exclusive.
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Encode serializes the token for transmission to an external approval channel.
func (t *Token) Encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode approval token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeToken parses an encoded token. It does not verify the signature.
func DecodeToken(encoded string) (*Token, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrMalformedToken
	}
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var t Token
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if t.TokenID == "" || t.ActionID == "" || t.Signature == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedToken)
	}
	t.IssuedAt = t.IssuedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	return &t, nil
}
