package handoff

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec() *Codec {
	return NewCodec("test-signing-secret")
}

func TestIssueValidateRoundTrip(t *testing.T) {
	codec := newTestCodec()

	token, err := codec.Issue(Claims{
		ClaimSubject:     "U123456",
		ClaimDisplayName: "Jordan",
	}, 10*time.Minute)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.NotContains(t, p, "=", "segments must be unpadded base64url")
	}

	claims, err := codec.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "U123456", claims.Subject())
	assert.Equal(t, "Jordan", claims.DisplayName())
	assert.Contains(t, claims, ClaimExpiry)
}

func TestIssueRequiresSubject(t *testing.T) {
	codec := newTestCodec()

	_, err := codec.Issue(Claims{ClaimDisplayName: "nobody"}, time.Minute)
	require.Error(t, err)
}

func TestIssueOverwritesCallerExpiry(t *testing.T) {
	codec := newTestCodec()

	token, err := codec.Issue(Claims{
		ClaimSubject: "U1",
		ClaimExpiry:  int64(1), // long past; must be replaced
	}, 10*time.Minute)
	require.NoError(t, err)

	_, err = codec.Validate(token)
	require.NoError(t, err)
}

func TestValidateRejectsTamperedTokens(t *testing.T) {
	codec := newTestCodec()

	token, err := codec.Issue(Claims{ClaimSubject: "U1"}, 10*time.Minute)
	require.NoError(t, err)

	// Mutating any single character in any segment must fail validation,
	// never succeed.
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			continue
		}
		mutated := []byte(token)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		_, err := codec.Validate(string(mutated))
		require.Errorf(t, err, "mutation at offset %d validated", i)
	}
}

func TestValidateWrongSecret(t *testing.T) {
	token, err := newTestCodec().Issue(Claims{ClaimSubject: "U1"}, time.Minute)
	require.NoError(t, err)

	_, err = NewCodec("another-secret").Validate(token)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestValidateMalformed(t *testing.T) {
	codec := newTestCodec()

	for _, tc := range []string{
		"",
		"onlyone",
		"two.parts",
		"has.four.parts.here",
	} {
		_, err := codec.Validate(tc)
		assert.ErrorIs(t, err, ErrMalformedToken, "token %q", tc)
	}
}

func TestValidateExpired(t *testing.T) {
	codec := newTestCodec()

	token, err := codec.Issue(Claims{ClaimSubject: "U1"}, -1*time.Second)
	require.NoError(t, err)

	_, err = codec.Validate(token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestValidateMissingExpiry(t *testing.T) {
	codec := newTestCodec()

	// Hand-assemble a signed token without an exp claim.
	payload := `{"sub":"U1"}`
	payloadB64 := b64url(payload)
	message := encodedHeader + "." + payloadB64
	token := message + "." + codec.sign(message)

	_, err := codec.Validate(token)
	assert.ErrorIs(t, err, ErrMissingExpiry)
}

func TestValidatePaddedSignatureSegment(t *testing.T) {
	codec := newTestCodec()

	token, err := codec.Issue(Claims{ClaimSubject: "U1"}, time.Minute)
	require.NoError(t, err)

	// A signature segment carrying trailing padding must still verify: both
	// sides are normalized before compare.
	claims, err := codec.Validate(token + "==")
	require.NoError(t, err)
	assert.Equal(t, "U1", claims.Subject())
}

func TestValidateAtExpiryBoundary(t *testing.T) {
	codec := newTestCodec()
	fixed := time.Unix(1700000000, 0)
	codec.now = func() time.Time { return fixed }

	token, err := codec.Issue(Claims{ClaimSubject: "U1"}, time.Minute)
	require.NoError(t, err)

	// Exactly at exp the token is still accepted; one second past, rejected.
	codec.now = func() time.Time { return fixed.Add(time.Minute) }
	_, err = codec.Validate(token)
	require.NoError(t, err)

	codec.now = func() time.Time { return fixed.Add(time.Minute + time.Second) }
	_, err = codec.Validate(token)
	assert.ErrorIs(t, err, ErrExpired)
}

func b64url(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
