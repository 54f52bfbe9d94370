// Package token implements the signed offline-grace token: a canonical-JSON
// payload wrapped with a detached Ed25519 signature into one opaque,
// copy-pasteable base64url string.
package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AlgorithmEd25519 is the only envelope algorithm tag the codec accepts.
const AlgorithmEd25519 = "Ed25519"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Payload is the signed proof-of-license. It carries enough of the license
// policy for a client to inspect its entitlement offline.
type Payload struct {
	LicenseKey       string     `json:"license_key"`
	ModuleTag        string     `json:"module_tag"`
	Fingerprint      string     `json:"fingerprint"`
	MaxMachines      int        `json:"max_machines"`
	MaxVersion       string     `json:"max_version,omitempty"`
	LicenseExpiresAt *time.Time `json:"license_expires_at,omitempty"`
	IssuedAt         time.Time  `json:"issued_at"`
	ValidUntil       time.Time  `json:"valid_until"`
}

type envelope struct {
	Alg     string          `json:"alg"`
	Payload json.RawMessage `json:"payload"`
	Sig     string          `json:"sig"`
}

// CanonicalBytes serializes the payload with lexicographically sorted keys,
// so the signed byte form does not depend on struct field order.
func CanonicalBytes(p Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return canonicalizeRaw(raw)
}

func canonicalizeRaw(raw json.RawMessage) ([]byte, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(m)
}

// Encode wraps a payload and its base64 signature into the transport string.
func Encode(p Payload, signatureBase64 string) (string, error) {
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	env := envelope{
		Alg:     AlgorithmEd25519,
		Payload: payloadJSON,
		Sig:     signatureBase64,
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(envJSON), nil
}

// Decode unpacks the transport string into payload and signature without
// verifying anything. Any structural defect yields ErrInvalidToken.
func Decode(tokenString string) (Payload, string, error) {
	envJSON, err := base64.RawURLEncoding.DecodeString(tokenString)
	if err != nil {
		return Payload{}, "", fmt.Errorf("%w: not valid base64url", ErrInvalidToken)
	}

	var env envelope
	if err := json.Unmarshal(envJSON, &env); err != nil {
		return Payload{}, "", fmt.Errorf("%w: malformed envelope", ErrInvalidToken)
	}
	if env.Alg != AlgorithmEd25519 {
		return Payload{}, "", fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidToken, env.Alg)
	}
	if len(env.Payload) == 0 || env.Sig == "" {
		return Payload{}, "", fmt.Errorf("%w: missing payload or signature", ErrInvalidToken)
	}

	var p Payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Payload{}, "", fmt.Errorf("%w: malformed payload", ErrInvalidToken)
	}

	return p, env.Sig, nil
}

// Verify parses the token, checks its Ed25519 signature against pub and its
// embedded expiry against now. Nothing in the payload is trusted before the
// signature check passes; every failure is ErrInvalidToken or ErrTokenExpired.
func Verify(tokenString string, pub ed25519.PublicKey, now time.Time) (Payload, error) {
	envJSON, err := base64.RawURLEncoding.DecodeString(tokenString)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: not valid base64url", ErrInvalidToken)
	}

	var env envelope
	if err := json.Unmarshal(envJSON, &env); err != nil {
		return Payload{}, fmt.Errorf("%w: malformed envelope", ErrInvalidToken)
	}
	if env.Alg != AlgorithmEd25519 {
		return Payload{}, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidToken, env.Alg)
	}

	sig, err := base64.StdEncoding.DecodeString(env.Sig)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return Payload{}, fmt.Errorf("%w: malformed signature", ErrInvalidToken)
	}

	// The signature covers the canonical form of the embedded payload, so
	// verification is independent of how the sender ordered its keys.
	canonical, err := canonicalizeRaw(env.Payload)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: malformed payload", ErrInvalidToken)
	}
	if !ed25519.Verify(pub, canonical, sig) {
		return Payload{}, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	var p Payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: malformed payload", ErrInvalidToken)
	}
	if p.ValidUntil.IsZero() {
		return Payload{}, fmt.Errorf("%w: missing valid_until", ErrInvalidToken)
	}
	if now.After(p.ValidUntil) {
		return p, ErrTokenExpired
	}

	return p, nil
}
