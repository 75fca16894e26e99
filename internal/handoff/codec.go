// Package handoff implements the signed, time-boxed bearer token that binds
// an anonymous browser session to a chat user identity. The token is a
// compact HMAC-SHA256 JWT (header.payload.signature, raw base64url) shared
// between the agent process and the web portal.
//
// There is no revocation list: a token stays valid until its expiry. The
// short 10-minute TTL is the accepted tradeoff for not running a full login
// system on the portal.
package handoff

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Validation failures. ErrBadSignature is returned for any signature
// mismatch, including padding-normalization edge cases.
var (
	ErrMalformedToken = errors.New("handoff: malformed token")
	ErrBadSignature   = errors.New("handoff: signature mismatch")
	ErrMissingExpiry  = errors.New("handoff: missing exp claim")
	ErrExpired        = errors.New("handoff: token expired")
)

// Claim names used by the portal and the agent.
const (
	ClaimSubject     = "sub"
	ClaimDisplayName = "name"
	ClaimExpiry      = "exp"
)

// Claims is the decoded token payload.
type Claims map[string]interface{}

// Subject returns the chat user identifier, or "" if absent.
func (c Claims) Subject() string {
	s, _ := c[ClaimSubject].(string)
	return s
}

// DisplayName returns the optional display name, or "".
func (c Claims) DisplayName() string {
	s, _ := c[ClaimDisplayName].(string)
	return s
}

// Codec issues and validates hand-off tokens with a shared signing secret.
type Codec struct {
	secret []byte

	// now is swappable for tests.
	now func() time.Time
}

// NewCodec creates a codec around the shared signing secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// header is the fixed two-field JWT header. Serialized once; the codec never
// honors any other algorithm.
var encodedHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Issue signs the claims with an absolute expiry of now + ttl. The subject
// claim is required; any exp the caller set is overwritten.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (string, error) {
	if claims.Subject() == "" {
		return "", errors.New("handoff: claims missing subject")
	}

	payload := make(Claims, len(claims)+1)
	for k, v := range claims {
		payload[k] = v
	}
	payload[ClaimExpiry] = c.now().Add(ttl).Unix()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadJSON)

	message := encodedHeader + "." + payloadB64
	return message + "." + c.sign(message), nil
}

// Validate checks structure, signature, and expiry, returning the decoded
// claims on success. Signature comparison is constant-time; both the expected
// and provided signature segments are normalized by stripping base64 padding
// before compare.
func (c *Codec) Validate(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}
	headerB64, payloadB64, signatureB64 := parts[0], parts[1], parts[2]

	expected := c.sign(headerB64 + "." + payloadB64)
	provided := strings.TrimRight(signatureB64, "=")
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return nil, ErrBadSignature
	}

	payloadJSON, err := base64.URLEncoding.DecodeString(repad(payloadB64))
	if err != nil {
		return nil, ErrMalformedToken
	}

	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, ErrMalformedToken
	}

	exp, ok := claims[ClaimExpiry]
	if !ok {
		return nil, ErrMissingExpiry
	}
	expUnix, ok := numericClaim(exp)
	if !ok {
		return nil, ErrMissingExpiry
	}
	if c.now().Unix() > expUnix {
		return nil, ErrExpired
	}

	return claims, nil
}

// sign computes the raw-base64url HMAC-SHA256 signature over message.
func (c *Codec) sign(message string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// repad restores base64 padding to a multiple of 4 characters.
func repad(s string) string {
	if m := len(s) % 4; m != 0 {
		return s + strings.Repeat("=", 4-m)
	}
	return s
}

// numericClaim coerces the JSON-decoded exp claim to Unix seconds. JSON
// numbers decode as float64.
func numericClaim(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
