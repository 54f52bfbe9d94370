package token

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latchkey/internal/keys"
)

func testPayload(t *testing.T) Payload {
	t.Helper()
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	return Payload{
		LicenseKey:       "LIC-abc123",
		ModuleTag:        "reporting",
		Fingerprint:      "fp-01",
		MaxMachines:      3,
		MaxVersion:       "2.4",
		LicenseExpiresAt: &exp,
		IssuedAt:         time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		ValidUntil:       time.Date(2026, 6, 8, 12, 0, 0, 0, time.UTC),
	}
}

func signAndEncode(t *testing.T, kp *keys.Keypair, p Payload) string {
	t.Helper()
	canonical, err := CanonicalBytes(p)
	require.NoError(t, err)
	tok, err := Encode(p, kp.Sign(canonical))
	require.NoError(t, err)
	return tok
}

func TestRoundTrip(t *testing.T) {
	kp, err := keys.Generate()
	require.NoError(t, err)

	p := testPayload(t)
	tok := signAndEncode(t, kp, p)

	decoded, sig, err := Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, p.LicenseKey, decoded.LicenseKey)
	assert.Equal(t, p.Fingerprint, decoded.Fingerprint)
	assert.Equal(t, p.MaxMachines, decoded.MaxMachines)
	assert.NotEmpty(t, sig)

	verified, err := Verify(tok, kp.Public(), time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, p.ValidUntil.Equal(verified.ValidUntil))
}

func TestVerifyRejectsWrongPublicKey(t *testing.T) {
	kp, err := keys.Generate()
	require.NoError(t, err)
	other, err := keys.Generate()
	require.NoError(t, err)

	tok := signAndEncode(t, kp, testPayload(t))

	_, err = Verify(tok, other.Public(), time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	kp, err := keys.Generate()
	require.NoError(t, err)

	tok := signAndEncode(t, kp, testPayload(t))

	// Unpack the envelope, bump the seat count, repack with the old signature.
	envJSON, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(envJSON, &env))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(env["payload"], &payload))
	payload["max_machines"] = 9999
	tampered, err := json.Marshal(payload)
	require.NoError(t, err)
	env["payload"] = tampered

	repacked, err := json.Marshal(env)
	require.NoError(t, err)
	tamperedToken := base64.RawURLEncoding.EncodeToString(repacked)

	_, err = Verify(tamperedToken, kp.Public(), time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	kp, err := keys.Generate()
	require.NoError(t, err)

	p := testPayload(t)
	tok := signAndEncode(t, kp, p)

	_, err = Verify(tok, kp.Public(), p.ValidUntil.Add(time.Second))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyFailsClosedOnGarbage(t *testing.T) {
	kp, err := keys.Generate()
	require.NoError(t, err)
	now := time.Now()

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not base64url", "not/base64/!!"},
		{"not json", base64.RawURLEncoding.EncodeToString([]byte("hello"))},
		{"wrong algorithm", mustEncodeEnvelope(t, `{"alg":"HS256","payload":{},"sig":"AA=="}`)},
		{"missing signature", mustEncodeEnvelope(t, `{"alg":"Ed25519","payload":{"valid_until":"2030-01-01T00:00:00Z"}}`)},
		{"payload not object", mustEncodeEnvelope(t, `{"alg":"Ed25519","payload":[1,2],"sig":"AA=="}`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Verify(tc.token, kp.Public(), now)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func mustEncodeEnvelope(t *testing.T, rawJSON string) string {
	t.Helper()
	return base64.RawURLEncoding.EncodeToString([]byte(rawJSON))
}

func TestCanonicalBytesAreOrderIndependent(t *testing.T) {
	p := testPayload(t)
	canonical, err := CanonicalBytes(p)
	require.NoError(t, err)

	// Shuffled key order in the source JSON must canonicalize identically.
	shuffled := `{"valid_until":"2026-06-08T12:00:00Z","module_tag":"reporting",` +
		`"max_version":"2.4","max_machines":3,"license_key":"LIC-abc123",` +
		`"license_expires_at":"2030-01-01T00:00:00Z","issued_at":"2026-06-01T12:00:00Z",` +
		`"fingerprint":"fp-01"}`
	fromShuffled, err := canonicalizeRaw([]byte(shuffled))
	require.NoError(t, err)

	assert.Equal(t, string(canonical), string(fromShuffled))
}
